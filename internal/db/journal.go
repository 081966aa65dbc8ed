package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Journal status values.
const (
	StatusApplied     = "applied"
	StatusUnknownName = "unknown_name"
	StatusMalformed   = "malformed"
	StatusHandled     = "handled"
	StatusIgnored     = "ignored"
)

// CommandRecord is one journaled line.
type CommandRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source"`
	Line       string    `json:"line"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name,omitempty"`
	TypeTag    string    `json:"type_tag,omitempty"`
	Value      string    `json:"value,omitempty"`
	Stored     string    `json:"stored,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// RecordCommand inserts rec under the current session and fills in its ID.
func (db *DB) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	if rec.SessionID == "" {
		rec.SessionID = db.SessionID
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO commands (
			session_id, received_ns, source, line, kind, name, type_tag, value, stored, status, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.ReceivedAt.UnixNano(), rec.Source, rec.Line, rec.Kind,
		nullString(rec.Name), nullString(rec.TypeTag), nullString(rec.Value),
		nullString(rec.Stored), rec.Status, nullString(rec.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read command id: %w", err)
	}
	rec.ID = id
	return nil
}

// CommandQuery filters Commands. Zero values match everything.
type CommandQuery struct {
	SessionID string
	Name      string
	Status    string
	// Limit defaults to 100.
	Limit int
}

// Commands returns matching records, newest first.
func (db *DB) Commands(ctx context.Context, q CommandQuery) ([]CommandRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT command_id, session_id, received_ns, source, line, kind,
		name, type_tag, value, stored, status, error FROM commands`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY command_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	var records []CommandRecord
	for rows.Next() {
		var (
			rec                                    CommandRecord
			ns                                     int64
			name, typeTag, value, stored, errorMsg sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ns, &rec.Source, &rec.Line, &rec.Kind,
			&name, &typeTag, &value, &stored, &rec.Status, &errorMsg); err != nil {
			return nil, err
		}
		rec.ReceivedAt = time.Unix(0, ns).UTC()
		rec.Name = name.String
		rec.TypeTag = typeTag.String
		rec.Value = value.String
		rec.Stored = stored.String
		rec.Error = errorMsg.String
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LatestParameters returns the last applied stored value per parameter name
// across all sessions.
func (db *DB) LatestParameters(ctx context.Context) (map[string]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name, stored FROM latest_parameters`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest parameters: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]string)
	for rows.Next() {
		var name, stored string
		if err := rows.Scan(&name, &stored); err != nil {
			return nil, err
		}
		latest[name] = stored
	}
	return latest, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
