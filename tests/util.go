package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/session"
	"github.com/trezcool/masomo-portal/storage/database"
)

// Identity returns a valid identity for memberID.
func Identity(memberID int64) session.Identity {
	return session.Identity{ID: memberID, Name: "Kim", Email: "test@example.com", Roles: []string{session.RoleUser}}
}

// PrepareDB opens a migrated SQLite database in the test's temp dir.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	conf := core.StorageConfig{
		Engine: core.StorageEngineSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "portal.db"),
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = database.Migrate(ctx, db, conf.Engine); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}

// LogEntry is a call recorded by Logger.
type LogEntry struct {
	Level string
	Msg   string
	Args  []interface{}
}

// Logger records every call.
type Logger struct {
	mu      sync.Mutex
	entries []LogEntry
}

var _ core.Logger = (*Logger)(nil)

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, LogEntry{Level: level, Msg: msg, Args: args})
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("debug", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("info", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("warn", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("error", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("fatal", msg, args) }

func (l *Logger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]LogEntry(nil), l.entries...)
}

// Count returns the number of entries logged at level.
func (l *Logger) Count(level string) int {
	var n int
	for _, e := range l.Entries() {
		if e.Level == level {
			n++
		}
	}
	return n
}

// Saver records the last snapshot persisted per partition.
type Saver struct {
	mu    sync.Mutex
	saved map[string]interface{}
	calls int
}

func (s *Saver) Persist(partition string, v interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = make(map[string]interface{})
	}
	s.saved[partition] = v
	s.calls++
}

func (s *Saver) Last(partition string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[partition]
}

func (s *Saver) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
