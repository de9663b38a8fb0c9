package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB opens a temp SQLite database with the security_events table.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "audit.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../migrations/20260301_120100_security_events.up.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func stamp(ev Event, id string, ts time.Time) Event {
	ev.ID = id
	ev.Timestamp = ts
	return ev
}

func TestSQLiteRepository_WriteAndList(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		stamp(LoginAttempt("a@b.com", "10.0.0.1", true, "", nil), "aud-1", base),
		stamp(LoginAttempt("a@b.com", "10.0.0.1", false, "invalid_password", nil), "aud-2", base.Add(time.Minute)),
		stamp(NewAnomaly(AnomalyInjectionAttempt, "", "10.0.0.9", map[string]any{"field": "email"}), "aud-3", base.Add(2*time.Minute)),
	}
	for _, ev := range events {
		require.NoError(t, repo.Write(ctx, ev))
	}

	res, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Events, 3)
	assert.Equal(t, "aud-3", res.Events[0].ID, "newest first")

	got := res.Events[0]
	assert.Equal(t, KindAnomaly, got.Kind)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Empty(t, got.User)
	assert.Equal(t, "10.0.0.9", got.IP)
	assert.Equal(t, "email", got.Details["field"])
	assert.True(t, got.Timestamp.Equal(base.Add(2*time.Minute)))
}

func TestSQLiteRepository_ListFilters(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Write(ctx, stamp(LoginAttempt("a@b.com", "ip", true, "", nil), "aud-1", base)))
	require.NoError(t, repo.Write(ctx, stamp(LoginAttempt("c@d.com", "ip", false, "blocked", nil), "aud-2", base.Add(time.Hour))))
	require.NoError(t, repo.Write(ctx, stamp(UnauthorizedAccess("c@d.com", "ip", "/users", "forbidden", nil), "aud-3", base.Add(2*time.Hour))))

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"by kind", Filter{Kind: KindLoginAttempt}, []string{"aud-2", "aud-1"}},
		{"by severity", Filter{Severity: SeverityWarn}, []string{"aud-3", "aud-2"}},
		{"by user", Filter{User: "a@b.com"}, []string{"aud-1"}},
		{"since", Filter{Since: base.Add(30 * time.Minute)}, []string{"aud-3", "aud-2"}},
		{"combined", Filter{Kind: KindLoginAttempt, User: "c@d.com"}, []string{"aud-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(res.Events))
			for _, ev := range res.Events {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestSQLiteRepository_Pagination(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ctx := t.Context()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := range 5 {
		ev := stamp(LoginAttempt("a@b.com", "ip", true, "", nil), fmt.Sprintf("aud-%d", i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.Write(ctx, ev))
	}

	res, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Total)
	assert.Equal(t, 2, res.Limit)
	require.Len(t, res.Events, 2)
	assert.Equal(t, "aud-2", res.Events[0].ID)
	assert.Equal(t, "aud-1", res.Events[1].ID)

	clamped, err := repo.List(ctx, Filter{Limit: 10_000, Offset: -3})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, clamped.Limit)
	assert.Equal(t, 0, clamped.Offset)

	defaulted, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, defaultPageSize, defaulted.Limit)
}

func TestSQLiteRepository_EmptyList(t *testing.T) {
	res, err := NewSQLiteRepository(testDB(t)).List(t.Context(), Filter{})
	require.NoError(t, err)
	assert.NotNil(t, res.Events)
	assert.Empty(t, res.Events)
}

func TestSQLiteRepository_DuplicateID(t *testing.T) {
	repo := NewSQLiteRepository(testDB(t))
	ev := stamp(LoginAttempt("a@b.com", "ip", true, "", nil), "aud-dup", time.Now())

	require.NoError(t, repo.Write(t.Context(), ev))
	assert.Error(t, repo.Write(t.Context(), ev))
}
