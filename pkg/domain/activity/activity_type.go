package activity

import "strings"

// Type is the canonical activity type written downstream. Values follow the
// Strava sport type naming since that is what the workout log already uses.
type Type string

const (
	TypeRun              Type = "Run"
	TypeTrailRun         Type = "TrailRun"
	TypeVirtualRun       Type = "VirtualRun"
	TypeRide             Type = "Ride"
	TypeVirtualRide      Type = "VirtualRide"
	TypeMountainBikeRide Type = "MountainBikeRide"
	TypeGravelRide       Type = "GravelRide"
	TypeSwim             Type = "Swim"
	TypeWalk             Type = "Walk"
	TypeHike             Type = "Hike"
	TypeWeightTraining   Type = "WeightTraining"
	TypeYoga             Type = "Yoga"
	TypeHIIT             Type = "HighIntensityIntervalTraining"
	TypeCrossfit         Type = "Crossfit"
	TypeElliptical       Type = "Elliptical"
	TypeRowing           Type = "Rowing"
	TypePilates          Type = "Pilates"
	TypeWorkout          Type = "Workout"
)

// typeAliases maps lower-cased provider names onto canonical types.
// Strava sport types are mostly identity mappings; Fitbit uses display names.
var typeAliases = map[string]Type{
	"run":                           TypeRun,
	"running":                       TypeRun,
	"treadmill":                     TypeRun,
	"trailrun":                      TypeTrailRun,
	"virtualrun":                    TypeVirtualRun,
	"ride":                          TypeRide,
	"bike":                          TypeRide,
	"outdoor bike":                  TypeRide,
	"cycling":                       TypeRide,
	"ebikeride":                     TypeRide,
	"virtualride":                   TypeVirtualRide,
	"spinning":                      TypeVirtualRide,
	"mountainbikeride":              TypeMountainBikeRide,
	"gravelride":                    TypeGravelRide,
	"swim":                          TypeSwim,
	"swimming":                      TypeSwim,
	"walk":                          TypeWalk,
	"walking":                       TypeWalk,
	"hike":                          TypeHike,
	"hiking":                        TypeHike,
	"weighttraining":                TypeWeightTraining,
	"weights":                       TypeWeightTraining,
	"weight lifting":                TypeWeightTraining,
	"yoga":                          TypeYoga,
	"highintensityintervaltraining": TypeHIIT,
	"interval workout":              TypeHIIT,
	"crossfit":                      TypeCrossfit,
	"elliptical":                    TypeElliptical,
	"rowing":                        TypeRowing,
	"rowing machine":                TypeRowing,
	"pilates":                       TypePilates,
	"workout":                       TypeWorkout,
}

// ParseType resolves a provider's activity type string. Unknown values fall
// back to TypeWorkout rather than failing the record.
func ParseType(input string) Type {
	if t, ok := typeAliases[strings.ToLower(strings.TrimSpace(input))]; ok {
		return t
	}
	return TypeWorkout
}
