// Package notifications persists notification rows and their per-channel
// delivery state.
package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/models"
)

// Store reads and writes notification rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new notification. ID and CreatedAt are assigned here.
func (s *Store) Insert(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()

	dataJSON, err := json.Marshal(n.Data)
	if err != nil {
		return apperrors.NewValidationError("notification data is not serializable")
	}
	statusJSON, err := json.Marshal(n.DeliveryStatus)
	if err != nil {
		return apperrors.NewValidationError("delivery status is not serializable")
	}

	query := `INSERT INTO notifications
		(id, user_id, type, title, message, data, scheduled_for, delivery_status, is_read, dispatched_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NULL, $9)`

	_, err = s.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Type, n.Title, n.Message, dataJSON, n.ScheduledFor, statusJSON, n.CreatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert notification", err)
	}
	return nil
}

// UpdateChannelStatus records the delivery outcome for one channel.
func (s *Store) UpdateChannelStatus(ctx context.Context, id, channel, status string) error {
	query := `UPDATE notifications
		SET delivery_status = jsonb_set(delivery_status, ARRAY[$1], to_jsonb($2::text))
		WHERE id = $3`

	_, err := s.db.ExecContext(ctx, query, channel, status, id)
	if err != nil {
		return apperrors.NewDatabaseError("update channel status", err)
	}
	return nil
}

// MarkDispatched stamps a notification as handed to the delivery path.
func (s *Store) MarkDispatched(ctx context.Context, id string) error {
	query := `UPDATE notifications SET dispatched_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return apperrors.NewDatabaseError("mark dispatched", err)
	}
	return nil
}

// DueDeferred returns notifications deferred past quiet hours whose time has
// come and that have not been dispatched yet.
func (s *Store) DueDeferred(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, user_id, type, title, message, data, scheduled_for, delivery_status, is_read, created_at
		FROM notifications
		WHERE scheduled_for IS NOT NULL AND scheduled_for <= NOW() AND dispatched_at IS NULL
		ORDER BY scheduled_for ASC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select due deferred", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// ListForUser pages a user's notifications, newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, page, limit int) ([]models.Notification, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `SELECT id, user_id, type, title, message, data, scheduled_for, delivery_status, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list notifications", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkRead flags a notification read by its owner.
func (s *Store) MarkRead(ctx context.Context, id, userID string) (bool, error) {
	query := `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`
	res, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, apperrors.NewDatabaseError("mark read", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func scanNotifications(rows *sql.Rows) ([]models.Notification, error) {
	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var dataJSON, statusJSON []byte
		var scheduledFor sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message,
			&dataJSON, &scheduledFor, &statusJSON, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan notification", err)
		}
		if scheduledFor.Valid {
			t := scheduledFor.Time
			n.ScheduledFor = &t
		}
		if len(dataJSON) > 0 {
			_ = json.Unmarshal(dataJSON, &n.Data)
		}
		if len(statusJSON) > 0 {
			_ = json.Unmarshal(statusJSON, &n.DeliveryStatus)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}
	return out, nil
}
