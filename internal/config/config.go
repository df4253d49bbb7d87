package config

import "github.com/kelseyhightower/envconfig"

// Config holds application configuration loaded from environment
// variables. GitHub credentials are resolved separately (per-org tokens
// with a shared fallback), not through this struct.
type Config struct {
	Port         int    `envconfig:"PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	Version      string `envconfig:"VERSION" default:"dev"`
	ConfigDir    string `envconfig:"CONFIG_DIR" default:"/etc/orgsyncd"`
	SyncInterval int    `envconfig:"SYNC_INTERVAL" default:"300"`
	// DryRun keeps the full pipeline running without any mutation
	// reaching GitHub.
	DryRun bool `envconfig:"DRY_RUN" default:"false"`
	// PlanOnly computes and records plans without constructing the
	// write path at all.
	PlanOnly bool `envconfig:"PLAN_ONLY" default:"false"`
	// DatabaseURL enables the persistent run history; without it runs
	// are kept in memory only.
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	// AdminKeyHash is the bcrypt hash of the admin API key. When empty
	// the mutating admin endpoints are disabled.
	AdminKeyHash string `envconfig:"ADMIN_KEY_HASH" default:""`
	// GitHubAPIBase overrides the API base URL, mainly for tests
	// against a local stub.
	GitHubAPIBase string `envconfig:"GITHUB_API_BASE" default:""`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
