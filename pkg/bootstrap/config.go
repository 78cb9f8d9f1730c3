package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	shared "github.com/fitglue/coach-sync/pkg"
)

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

const defaultConfigPath = "config.yaml"

// Config holds standard configuration for all services
type Config struct {
	ProjectID     string        `koanf:"project_id"`
	LogLevel      string        `koanf:"log_level"`
	EnablePublish bool          `koanf:"enable_publish"`
	APIKey        string        `koanf:"api_key"`
	Port          int           `koanf:"port"`
	HTTPTimeout   time.Duration `koanf:"http_timeout"`

	Strava   ProviderConfig `koanf:"strava"`
	Fitbit   ProviderConfig `koanf:"fitbit"`
	Withings ProviderConfig `koanf:"withings"`

	TokenCache string `koanf:"token_cache"`
	BadgerPath string `koanf:"badger_path"`

	Store  StoreConfig  `koanf:"store"`
	Sentry SentryConfig `koanf:"sentry"`
	Sync   SyncConfig   `koanf:"sync"`
}

// ProviderConfig carries one provider's OAuth client and an optional seed
// refresh token for single-athlete deployments. The seed belongs to AccountID
// and is never handed to another account.
type ProviderConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RefreshToken string `koanf:"refresh_token"`
	AccountID    string `koanf:"account_id"`
	VerifyToken  string `koanf:"verify_token"`
	// BaseURL and TokenURL override the provider's API hosts.
	BaseURL  string `koanf:"base_url"`
	TokenURL string `koanf:"token_url"`
}

// Enabled reports whether any credential for the provider was configured.
func (p ProviderConfig) Enabled() bool {
	return p.ClientID != "" || p.ClientSecret != "" || p.RefreshToken != ""
}

type StoreConfig struct {
	Backend                 string `koanf:"backend"`
	NotionSecret            string `koanf:"notion_secret"`
	NotionWorkoutDatabaseID string `koanf:"notion_workout_database_id"`
	NotionProfileDatabaseID string `koanf:"notion_profile_database_id"`
	PostgresURL             string `koanf:"postgres_url"`
}

type SentryConfig struct {
	DSN         string `koanf:"dsn"`
	Environment string `koanf:"environment"`
}

type SyncConfig struct {
	Lookback          time.Duration `koanf:"lookback"`
	PageSize          int           `koanf:"page_size"`
	MaxPages          int           `koanf:"max_pages"`
	RatePerSecond     float64       `koanf:"rate_per_second"`
	RateBurst         int           `koanf:"rate_burst"`
	MaxFetchAttempts  int           `koanf:"max_fetch_attempts"`
	MaxUpsertAttempts int           `koanf:"max_upsert_attempts"`
}

func defaultConfig() *Config {
	return &Config{
		ProjectID:   shared.ProjectID,
		LogLevel:    "info",
		Port:        8080,
		HTTPTimeout: 30 * time.Second,
		TokenCache:  "badger",
		Store:       StoreConfig{Backend: "notion"},
		Sentry:      SentryConfig{Environment: "production"},
		Sync: SyncConfig{
			Lookback:          7 * 24 * time.Hour,
			PageSize:          50,
			MaxPages:          10,
			RatePerSecond:     1,
			RateBurst:         5,
			MaxFetchAttempts:  4,
			MaxUpsertAttempts: 3,
		},
	}
}

// envMappings keeps the deployed environment variable names working.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	"google_cloud_project":               "project_id",
	"log_level":                          "log_level",
	"enable_publish":                     "enable_publish",
	"api_key":                            "api_key",
	"port":                               "port",
	"http_timeout":                       "http_timeout",
	"strava_client_id":                   "strava.client_id",
	"strava_client_secret":               "strava.client_secret",
	"strava_refresh_token":               "strava.refresh_token",
	"strava_athlete_id":                  "strava.account_id",
	"strava_verify_token":                "strava.verify_token",
	"fitbit_client_id":                   "fitbit.client_id",
	"fitbit_client_secret":               "fitbit.client_secret",
	"fitbit_refresh_token":               "fitbit.refresh_token",
	"fitbit_user_id":                     "fitbit.account_id",
	"withings_client_id":                 "withings.client_id",
	"withings_client_secret":             "withings.client_secret",
	"withings_refresh_token":             "withings.refresh_token",
	"withings_user_id":                   "withings.account_id",
	"wbsapi_url":                         "withings.base_url",
	"token_cache":                        "token_cache",
	"badger_path":                        "badger_path",
	"store_backend":                      "store.backend",
	"notion_secret":                      "store.notion_secret",
	"notion_workout_database_id":         "store.notion_workout_database_id",
	"notion_athlete_profile_database_id": "store.notion_profile_database_id",
	"postgres_url":                       "store.postgres_url",
	"sentry_dsn":                         "sentry.dsn",
	"sentry_environment":                 "sentry.environment",
	"sync_lookback":                      "sync.lookback",
	"sync_page_size":                     "sync.page_size",
	"sync_max_pages":                     "sync.max_pages",
	"sync_rate_per_second":               "sync.rate_per_second",
	"sync_rate_burst":                    "sync.rate_burst",
	"sync_max_fetch_attempts":            "sync.max_fetch_attempts",
	"sync_max_upsert_attempts":           "sync.max_upsert_attempts",
}

func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// LoadConfig layers struct defaults, an optional YAML file and the
// environment, in that order of precedence, then validates the result.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// Providers lists the provider sections by provider name.
func (c *Config) Providers() map[string]ProviderConfig {
	return map[string]ProviderConfig{"strava": c.Strava, "fitbit": c.Fitbit, "withings": c.Withings}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	for name, p := range c.Providers() {
		if p.Enabled() && (p.ClientID == "" || p.ClientSecret == "") {
			errs = append(errs, fmt.Errorf("%s: client id and secret are both required", name))
		}
		if p.RefreshToken != "" && p.AccountID == "" {
			errs = append(errs, fmt.Errorf("%s: a seeded refresh token needs the account id it was issued to", name))
		}
	}

	switch c.TokenCache {
	case "badger", "firestore":
	default:
		errs = append(errs, fmt.Errorf("unknown token cache %q", c.TokenCache))
	}

	switch c.Store.Backend {
	case "notion":
		if c.Store.NotionSecret == "" || c.Store.NotionWorkoutDatabaseID == "" {
			errs = append(errs, errors.New("notion store needs NOTION_SECRET and NOTION_WORKOUT_DATABASE_ID"))
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("postgres store needs POSTGRES_URL"))
		}
	case "firestore":
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}

	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("sync page size must be positive"))
	}
	if c.Sync.MaxPages <= 0 {
		errs = append(errs, errors.New("sync page cap must be positive"))
	}
	if c.Sync.Lookback <= 0 {
		errs = append(errs, errors.New("sync lookback must be positive"))
	}
	return errors.Join(errs...)
}
