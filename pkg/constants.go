package shared

const (
	ProjectID = "fitglue-project" // Can be overridden by env var in main if needed

	TopicSyncRequests  = "topic-sync-requests"
	TopicSyncCompleted = "topic-sync-completed"

	CollectionUsers           = "users"
	CollectionWorkouts        = "workouts"
	CollectionAthleteProfiles = "athlete_profiles"
	CollectionTokenCache      = "token_cache"

	CloudEventSource       = "/coach-sync"
	EventTypeSyncRequested = "com.fitglue.coach.sync.requested"
	EventTypeSyncCompleted = "com.fitglue.coach.sync.completed"
)
