// Package testutil provides shared helpers for integration tests that
// need a real Postgres database or Redis instance. Tests skip themselves
// when the backing services are not configured.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/Streamweaver/helix-jobs/internal/migrate"
)

// TestDBConfig holds connection settings for the integration test database.
type TestDBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DefaultTestDBConfig reads connection settings from TEST_DB_* environment
// variables, falling back to local development defaults.
func DefaultTestDBConfig() TestDBConfig {
	return TestDBConfig{
		Host:     getEnvOrDefault("TEST_DB_HOST", "localhost"),
		Port:     getEnvOrDefault("TEST_DB_PORT", "5432"),
		User:     getEnvOrDefault("TEST_DB_USER", "helix"),
		Password: getEnvOrDefault("TEST_DB_PASSWORD", "helix"),
		DBName:   getEnvOrDefault("TEST_DB_NAME", "helix_jobs"),
		SSLMode:  getEnvOrDefault("TEST_DB_SSLMODE", "disable"),
	}
}

// DSN renders the config as a pgx connection string.
func (c TestDBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// TestingTB is the subset of testing.TB the helpers need. It lets the
// same helpers serve tests and benchmarks.
type TestingTB interface {
	Helper()
	Skipf(format string, args ...any)
	Fatalf(format string, args ...any)
	Logf(format string, args ...any)
	Cleanup(func())
}

// SkipIfNoTestDB skips the test unless TEST_DB_ENABLED is truthy.
func SkipIfNoTestDB(tb TestingTB) {
	tb.Helper()
	if !envBool("TEST_DB_ENABLED") {
		tb.Skipf("integration test skipped; set TEST_DB_ENABLED=1 to run")
	}
}

// SetupTestDB opens the test database, runs migrations, and clears any
// rows left behind by earlier runs. The connection is closed automatically
// when the test finishes.
func SetupTestDB(tb TestingTB) *sql.DB {
	tb.Helper()
	SkipIfNoTestDB(tb)

	cfg := DefaultTestDBConfig()
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		tb.Fatalf("open test database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		tb.Fatalf("ping test database: %v", err)
	}

	if err := migrate.Run(context.Background(), db); err != nil {
		_ = db.Close()
		tb.Fatalf("run migrations: %v", err)
	}

	CleanupTestDB(tb, db)
	tb.Cleanup(func() {
		CleanupTestDB(tb, db)
		_ = db.Close()
	})
	return db
}

// CleanupTestDB removes all job rows. Artifacts are deleted first so the
// order is explicit even though the foreign key cascades.
func CleanupTestDB(tb TestingTB, db *sql.DB) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, table := range []string{"artifacts", "jobs"} {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			tb.Fatalf("clean table %s: %v", table, err)
		}
	}
}

// WithTestDB runs fn against a freshly prepared test database.
func WithTestDB(tb TestingTB, fn func(db *sql.DB)) {
	tb.Helper()
	db := SetupTestDB(tb)
	fn(db)
}

// InspectJobStates returns a compact summary of every job row, ordered
// by creation time. Useful when debugging admission or reaper tests.
func InspectJobStates(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, state, owner, COALESCE(failure_reason, '') FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query job states: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id, kind, state, owner, failure string
		if err := rows.Scan(&id, &kind, &state, &owner, &failure); err != nil {
			return nil, fmt.Errorf("scan job state row: %w", err)
		}
		line := fmt.Sprintf("%s kind=%s state=%s owner=%s", id, kind, state, owner)
		if failure != "" {
			line += " failure=" + failure
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// LogJobStates logs the output of InspectJobStates, ignoring query errors.
func LogJobStates(tb TestingTB, db *sql.DB) {
	tb.Helper()
	lines, err := InspectJobStates(context.Background(), db)
	if err != nil {
		tb.Logf("inspect job states: %v", err)
		return
	}
	for _, line := range lines {
		tb.Logf("job: %s", line)
	}
}

// TestTime is a fixed instant used by tests that need deterministic clocks.
var TestTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// FixedTimeFunc returns a time provider that always reports t.
func FixedTimeFunc(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestTimeProvider is a mutable clock for tests. The zero value starts
// at TestTime.
type TestTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestTimeProvider returns a provider pinned at start.
func NewTestTimeProvider(start time.Time) *TestTimeProvider {
	return &TestTimeProvider{now: start}
}

// Now returns the current test time.
func (p *TestTimeProvider) Now() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now.IsZero() {
		p.now = TestTime
	}
	return p.now
}

// Advance moves the clock forward by d and returns the new time.
func (p *TestTimeProvider) Advance(d time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now.IsZero() {
		p.now = TestTime
	}
	p.now = p.now.Add(d)
	return p.now
}

// Set pins the clock to t.
func (p *TestTimeProvider) Set(t time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = t
}

// ConcurrentTestRunner runs n copies of fn concurrently and collects
// their errors. Used by admission race tests.
type ConcurrentTestRunner struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	errors []error
}

// Go launches fn in a goroutine and records its error, if any.
func (r *ConcurrentTestRunner) Go(fn func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := fn(); err != nil {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		}
	}()
}

// Wait blocks until all goroutines finish and returns collected errors.
func (r *ConcurrentTestRunner) Wait() []error {
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errors
}

// GetTestRedisAddr returns the Redis address for integration tests, or
// an empty string when Redis testing is not enabled.
func GetTestRedisAddr() string {
	if !envBool("TEST_REDIS_ENABLED") {
		return ""
	}
	return getEnvOrDefault("TEST_REDIS_ADDR", "localhost:6379")
}

// maxTestRedisDBs bounds the logical databases probed when reserving one
// for a test. Redis ships with 16 by default.
const maxTestRedisDBs = 16

// SetupTestRedis reserves a logical Redis database for the test, flushes
// it, and returns a client bound to it. The reservation is held with a
// short-lived lock key so parallel packages do not share a database.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := GetTestRedisAddr()
	if addr == "" {
		t.Skip("redis integration test skipped; set TEST_REDIS_ENABLED=1 to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for db := 0; db < maxTestRedisDBs; db++ {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
		lockKey := fmt.Sprintf("helix:testutil:db_lock:%d", db)
		ok, err := client.SetNX(ctx, lockKey, "1", 5*time.Minute).Result()
		if err != nil {
			_ = client.Close()
			t.Fatalf("probe redis db %d: %v", db, err)
		}
		if !ok {
			_ = client.Close()
			continue
		}
		if err := client.FlushDB(ctx).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("flush redis db %d: %v", db, err)
		}
		t.Cleanup(func() {
			cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cleanupCancel()
			_ = client.FlushDB(cleanupCtx).Err()
			_ = client.Del(cleanupCtx, lockKey).Err()
			_ = client.Close()
		})
		return client
	}
	t.Fatalf("no free redis database out of %d", maxTestRedisDBs)
	return nil
}

// RequireEventually polls cond until it returns true or the deadline
// passes. It avoids fixed sleeps in tests that wait on background work.
func RequireEventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, timeout, 10*time.Millisecond, msg)
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

func getEnvOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
