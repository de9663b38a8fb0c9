package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Filter selects stored events. Zero fields match everything.
type Filter struct {
	Kind     Kind
	Severity Severity
	User     string
	Since    time.Time
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of stored events, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository is the queryable audit history.
type Repository interface {
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the security_events table. It is both a
// Sink for Log and the Repository behind GET /audit.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Name implements Sink.
func (r *SQLiteRepository) Name() string { return "sqlite" }

// Write implements Sink.
func (r *SQLiteRepository) Write(ctx context.Context, ev Event) error {
	var details *string
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshalling audit details: %w", err)
		}
		s := string(b)
		details = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_events (id, event_type, severity, user, ip_address, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), string(ev.Severity),
		nullableString(ev.User), nullableString(ev.IP), details,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting security event: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Kind != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.User != "" {
		conditions = append(conditions, "user = ?")
		args = append(args, filter.User)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM security_events " + where //nolint:gosec // WHERE built from placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting security events: %w", err)
	}

	query := "SELECT id, event_type, severity, user, ip_address, details, created_at FROM security_events " + //nolint:gosec // WHERE built from placeholders only
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying security events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating security events: %w", err)
	}

	return &ListResult{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var kind, severity, createdAt string
	var user, ip, details sql.NullString

	if err := rows.Scan(&ev.ID, &kind, &severity, &user, &ip, &details, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning security event: %w", err)
	}

	ev.Kind = Kind(kind)
	ev.Severity = Severity(severity)
	ev.User = user.String
	ev.IP = ip.String
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
			return Event{}, fmt.Errorf("decoding details of %s: %w", ev.ID, err)
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing timestamp %q: %w", createdAt, err)
	}
	ev.Timestamp = t
	return ev, nil
}
