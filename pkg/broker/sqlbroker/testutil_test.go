package sqlbroker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// openTestDB opens a database for tests.
// When TEST_DATABASE_URL is set it connects to PostgreSQL; otherwise it
// opens a fresh in-memory SQLite instance.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		db, err := Open(DriverPostgres, dsn, MaxOpenConns(4), MaxIdleConns(1))
		require.NoError(t, err, "open postgres test db")

		// Clean before AND after to ensure test isolation.
		cleanup := func() { db.Exec("DELETE FROM kernel_jobs") }
		_ = db.AutoMigrate(&Job{})
		cleanup()
		t.Cleanup(func() {
			cleanup()
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return db
	}

	db, err := Open(DriverSQLite, ":memory:")
	require.NoError(t, err, "open in-memory sqlite")
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroker(t *testing.T, opts ...Option) *Broker {
	t.Helper()
	opts = append([]Option{WithLogger(testLogger())}, opts...)
	b, err := New(context.Background(), openTestDB(t), opts...)
	require.NoError(t, err)
	return b
}
