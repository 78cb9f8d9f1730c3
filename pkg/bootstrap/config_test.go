package bootstrap

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setNotionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("NOTION_SECRET", "secret_abc")
	t.Setenv("NOTION_WORKOUT_DATABASE_ID", "db-workouts")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setNotionEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "notion", cfg.Store.Backend)
	assert.Equal(t, "badger", cfg.TokenCache)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, 50, cfg.Sync.PageSize)
	assert.Equal(t, 10, cfg.Sync.MaxPages)
	assert.Equal(t, 3, cfg.Sync.MaxUpsertAttempts)
	assert.Equal(t, "db-workouts", cfg.Store.NotionWorkoutDatabaseID)
	assert.False(t, cfg.EnablePublish)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coach.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
store:
  backend: postgres
  postgres_url: postgres://file/coach
sync:
  lookback: 72h
  page_size: 25
strava:
  client_id: "123"
  client_secret: from-file
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("SYNC_PAGE_SIZE", "40")
	t.Setenv("STRAVA_CLIENT_SECRET", "from-env")
	t.Setenv("ENABLE_PUBLISH", "true")
	t.Setenv("NOT_A_CONFIG_KEY", "ignored")
	t.Setenv("STRAVA_REFRESH_TOKEN", "seed")
	t.Setenv("STRAVA_ATHLETE_ID", "12345")
	t.Setenv("WITHINGS_CLIENT_ID", "wid")
	t.Setenv("WITHINGS_CLIENT_SECRET", "wsecret")
	t.Setenv("WBSAPI_URL", "https://wbs.test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Sync.Lookback)
	assert.Equal(t, 40, cfg.Sync.PageSize)
	assert.Equal(t, "123", cfg.Strava.ClientID)
	assert.Equal(t, "from-env", cfg.Strava.ClientSecret)
	assert.True(t, cfg.EnablePublish)
	assert.True(t, cfg.Strava.Enabled())
	assert.False(t, cfg.Fitbit.Enabled())
	assert.Equal(t, "12345", cfg.Strava.AccountID)
	assert.True(t, cfg.Withings.Enabled())
	assert.Equal(t, "https://wbs.test", cfg.Withings.BaseURL)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "sheets" }, `unknown store backend "sheets"`},
		{"unknown cache", func(c *Config) { c.TokenCache = "redis" }, `unknown token cache "redis"`},
		{"notion without secret", func(c *Config) { c.Store.NotionSecret = "" }, "NOTION_SECRET"},
		{"postgres without url", func(c *Config) { c.Store.Backend = "postgres" }, "POSTGRES_URL"},
		{"half configured provider", func(c *Config) { c.Fitbit.ClientID = "abc" }, "fitbit: client id and secret"},
		{"seed without account", func(c *Config) {
			c.Strava = ProviderConfig{ClientID: "1", ClientSecret: "s", RefreshToken: "r"}
		}, "strava: a seeded refresh token needs the account id"},
		{"half configured withings", func(c *Config) { c.Withings.ClientSecret = "s" }, "withings: client id and secret"},
		{"zero page size", func(c *Config) { c.Sync.PageSize = 0 }, "page size"},
		{"negative page cap", func(c *Config) { c.Sync.MaxPages = -1 }, "page cap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Store.NotionSecret = "secret"
			cfg.Store.NotionWorkoutDatabaseID = "db"
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	cfg := defaultConfig()
	cfg.Store.Backend = "firestore"
	assert.NoError(t, cfg.Validate())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
