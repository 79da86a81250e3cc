package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"maxxit"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"maxxit"`

	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	NSQDHost     string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	EnableEvents bool   `envconfig:"ENABLE_EVENTS" default:"false"`

	// Poll loop
	PollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"15s"`
	BatchSize    int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`
	StaleAfter   time.Duration `envconfig:"WORKER_STALE_AFTER" default:"10m"`
	ReclaimLimit int           `envconfig:"WORKER_RECLAIM_LIMIT" default:"25"`

	// Trade executor
	ExecutorURL        string        `envconfig:"EXECUTOR_URL"`
	ExecutorAPIKey     string        `envconfig:"EXECUTOR_API_KEY"`
	ExecutorTimeout    time.Duration `envconfig:"EXECUTOR_TIMEOUT" default:"60s"`
	ExecutorRatePerSec float64       `envconfig:"EXECUTOR_RATE_PER_SEC" default:"2"`

	// Proving service and registry relayer
	ProverURL      string        `envconfig:"PROVER_URL"`
	ProverAPIKey   string        `envconfig:"PROVER_API_KEY"`
	ProverTimeout  time.Duration `envconfig:"PROVER_TIMEOUT" default:"10m"`
	ProverMode     string        `envconfig:"PROVER_MODE" default:"execute"`
	RegistryURL    string        `envconfig:"REGISTRY_URL"`
	RegistryAPIKey string        `envconfig:"REGISTRY_API_KEY"`

	// Routing
	VenueDefaultPriority []string `envconfig:"VENUE_DEFAULT_PRIORITY" default:"OSTIUM,HYPERLIQUID"`
	VenueCatalogPath     string   `envconfig:"VENUE_CATALOG_PATH"`

	// Ops server
	OpsPort int `envconfig:"OPS_PORT" default:"8090"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell take precedence; missing files are fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	rootEnv := filepath.Join(cwd, "../../.env")
	_ = godotenv.Load(rootEnv)

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("WORKER_BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("WORKER_STALE_AFTER must be positive, got %s", c.StaleAfter)
	}
	return nil
}

// ValidateTradeWorker checks the settings the trade-signal worker cannot start
// without.
func (c *Config) ValidateTradeWorker() error {
	if c.ExecutorURL == "" {
		return fmt.Errorf("%w: EXECUTOR_URL", ErrMissingRequired)
	}
	if c.ExecutorAPIKey == "" {
		return fmt.Errorf("%w: EXECUTOR_API_KEY", ErrMissingRequired)
	}
	return nil
}

// ValidateProofWorker checks the settings the proof worker cannot start
// without. The registry and its key are only needed when real proofs are
// produced.
func (c *Config) ValidateProofWorker() error {
	if c.ProverURL == "" {
		return fmt.Errorf("%w: PROVER_URL", ErrMissingRequired)
	}
	if c.ProverMode != "execute" && c.ProverMode != "prove" {
		return fmt.Errorf("PROVER_MODE must be execute or prove, got %q", c.ProverMode)
	}
	if c.ProverAPIKey == "" {
		return fmt.Errorf("%w: PROVER_API_KEY", ErrMissingRequired)
	}
	if c.ProverMode == "prove" {
		if c.RegistryURL == "" {
			return fmt.Errorf("%w: REGISTRY_URL", ErrMissingRequired)
		}
		if c.RegistryAPIKey == "" {
			return fmt.Errorf("%w: REGISTRY_API_KEY", ErrMissingRequired)
		}
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
