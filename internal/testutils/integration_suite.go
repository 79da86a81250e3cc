package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"maxxit/apps/worker/internal/config"
)

type IntegrationSuite struct {
	T  *testing.T
	DB *sql.DB

	MigrationPath string

	pgContainer *postgres.PostgresContainer
	host        string
	port        int
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("maxxit_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.pgContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)

	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	host, err := pgContainer.Host(ctx)
	require.NoError(s.T, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.host, s.port = host, port.Int()

	_, b, _, _ := runtime.Caller(0)
	s.MigrationPath = fmt.Sprintf("file://%s/../../migrations", filepath.Dir(b))

	m, err := migrate.New(s.MigrationPath, connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

// GetAppConfig returns a config pointing at the suite's database.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	return &config.Config{
		DBHost:                     s.host,
		DBPort:                     s.port,
		DBUser:                     "test",
		DBPass:                     "test",
		DBName:                     "maxxit_test",
		MigrationPath:              s.MigrationPath,
		PollInterval:               100 * time.Millisecond,
		BatchSize:                  10,
		StaleAfter:                 10 * time.Minute,
		ReclaimLimit:               25,
		BootstrapRetryAttempts:     3,
		BootstrapRetryDelaySeconds: 1,
	}
}

// Exec runs a fixture statement and fails the test on error.
func (s *IntegrationSuite) Exec(query string, args ...interface{}) {
	_, err := s.DB.Exec(query, args...)
	require.NoError(s.T, err)
}

// QueryString returns the first column of a single-row query.
func (s *IntegrationSuite) QueryString(query string, args ...interface{}) string {
	var v sql.NullString
	require.NoError(s.T, s.DB.QueryRow(query, args...).Scan(&v))
	return v.String
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.DB != nil {
		_ = s.DB.Close()
	}
	if s.pgContainer != nil {
		_ = s.pgContainer.Terminate(ctx)
	}
}
