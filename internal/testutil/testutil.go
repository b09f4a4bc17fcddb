// Package testutil provides a migrated SQLite database, a silent logger and an event recorder for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/db"
	"github.com/Ramsey-B/clover/pkg/database"
)

// Logger discards every message.
func Logger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// NewSQLite opens a fresh file-backed database under t.TempDir and applies all migrations.
func NewSQLite(t *testing.T) database.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clover.db")
	conn, err := database.Open(database.Config{
		Driver:       database.DriverSQLite,
		DSN:          config.SQLiteDSN(path),
		MaxOpenConns: 4,
	}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	migrations := database.NewMigrationService(Logger(), db.Migrations, db.MigrationsDir, nil)
	require.NoError(t, migrations.Migrate(conn))

	return conn
}

// Published is one event captured by Recorder.
type Published struct {
	Key       string
	EventType string
	Payload   any
}

// Recorder is an in-memory event publisher.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) PublishEvent(_ context.Context, key string, eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Key: key, EventType: eventType, Payload: payload})
	return nil
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, 0, len(r.events))
	for _, e := range r.events {
		types = append(types, e.EventType)
	}
	return types
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Published(nil), r.events...)
}
