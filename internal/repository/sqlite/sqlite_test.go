package sqlite

import (
	"context"
	"testing"
	"time"
)

// newTestDB opens a fresh in-memory database with all migrations applied.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_CreatesTables(t *testing.T) {
	db := newTestDB(t)

	for _, table := range []string{"users", "analysis_keys", "servers"} {
		var count int
		err := db.conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master: %v", err)
		}
		if count != 1 {
			t.Errorf("table %s missing after migrations", table)
		}
	}
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestTimeFormat_SortsChronologically(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := formatTime(base)
	later := formatTime(base.Add(500 * time.Millisecond))
	laterWholeSecond := formatTime(base.Add(time.Second))

	if !(earlier < later && later < laterWholeSecond) {
		t.Errorf("timestamps do not sort: %s, %s, %s", earlier, later, laterWholeSecond)
	}

	got, err := parseTime(later)
	if err != nil {
		t.Fatalf("parseTime() error = %v", err)
	}
	if !got.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("parseTime() = %v, want %v", got, base.Add(500*time.Millisecond))
	}
}

func TestParseTime_AcceptsSQLiteDefault(t *testing.T) {
	got, err := parseTime("2024-03-01 12:00:00")
	if err != nil {
		t.Fatalf("parseTime() error = %v", err)
	}
	if got.Hour() != 12 {
		t.Errorf("parseTime() hour = %d, want 12", got.Hour())
	}

	if _, err := parseTime("yesterday"); err == nil {
		t.Error("parseTime() should reject garbage")
	}
}
