// Package audit appends to the immutable content change log. Writes always
// happen inside the transaction of the mutation they describe; the public
// contract has no update or delete.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"content-backoffice/internal/models"
)

// Execer is satisfied by *sql.Tx and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Log writes and reads audit entries.
type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

// Write inserts an audit entry using the caller's transaction (or connection).
// The entry ID and timestamp are assigned here.
func (l *Log) Write(ctx context.Context, exec Execer, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	entry.CreatedAt = time.Now().UTC()

	oldJSON, err := json.Marshal(entry.OldValues)
	if err != nil {
		return fmt.Errorf("marshal old values: %w", err)
	}
	newJSON, err := json.Marshal(entry.NewValues)
	if err != nil {
		return fmt.Errorf("marshal new values: %w", err)
	}

	query := `INSERT INTO content_audit_log
		(id, content_id, changed_by, change_type, old_values, new_values, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = exec.ExecContext(ctx, query,
		entry.ID, entry.ContentID, entry.ChangedBy, entry.ChangeType,
		oldJSON, newJSON, entry.Notes, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Read returns a page of entries for one content item, newest first.
func (l *Log) Read(ctx context.Context, contentID string, page, limit int) ([]models.AuditEntry, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `SELECT id, content_id, changed_by, change_type, old_values, new_values, notes, created_at
		FROM content_audit_log
		WHERE content_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := l.db.QueryContext(ctx, query, contentID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	defer rows.Close()

	var out []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var oldJSON, newJSON []byte
		if err := rows.Scan(&e.ID, &e.ContentID, &e.ChangedBy, &e.ChangeType,
			&oldJSON, &newJSON, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &e.OldValues)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &e.NewValues)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}
