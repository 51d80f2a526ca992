// Package subscription manages user subscriptions to categories, tags and
// authors. Rows are unique on (user, type, target) and deactivated rather
// than deleted, so history survives.
package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/models"
)

const subscriptionColumns = `id, user_id, type, target, frequency, is_active, created_at, updated_at`

// Registry is the subscription store.
type Registry struct {
	db     *sql.DB
	logger logger.Logger
}

func NewRegistry(db *sql.DB, log logger.Logger) *Registry {
	return &Registry{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "subscriptions"}),
	}
}

// ListFilters narrows List results.
type ListFilters struct {
	Type       models.SubscriptionType
	Frequency  models.Frequency
	ActiveOnly bool
}

// Match is one user matched by a published content item, carrying the
// strongest frequency among their matching subscriptions.
type Match struct {
	UserID    string
	Frequency models.Frequency
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.Subscription, error) {
	var sub models.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.Type, &sub.Target, &sub.Frequency,
		&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscribe creates or reactivates a subscription. Re-subscribing to an
// existing (type, target) updates the frequency in place.
func (r *Registry) Subscribe(ctx context.Context, userID string, t models.SubscriptionType, target string, freq models.Frequency) (*models.Subscription, error) {
	if userID == "" || target == "" {
		return nil, apperrors.NewValidationError("userId and target are required")
	}
	if !t.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown subscription type %q", t))
	}
	if !freq.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown frequency %q", freq))
	}

	now := time.Now().UTC()
	query := `INSERT INTO user_subscriptions
		(id, user_id, type, target, frequency, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)
		ON CONFLICT (user_id, type, target)
		DO UPDATE SET frequency = EXCLUDED.frequency, is_active = TRUE, updated_at = EXCLUDED.updated_at
		RETURNING ` + subscriptionColumns

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query,
		uuid.New().String(), userID, string(t), target, string(freq), now))
	if err != nil {
		return nil, apperrors.NewDatabaseError("subscribe", err)
	}

	r.logger.Info("subscription upserted", map[string]interface{}{
		"userId": userID, "type": string(t), "target": target, "frequency": string(freq),
	})
	return sub, nil
}

// Unsubscribe deactivates a subscription, preserving the row.
func (r *Registry) Unsubscribe(ctx context.Context, userID string, t models.SubscriptionType, target string) (bool, error) {
	query := `UPDATE user_subscriptions
		SET is_active = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND type = $2 AND target = $3 AND is_active = TRUE`

	res, err := r.db.ExecContext(ctx, query, userID, string(t), target)
	if err != nil {
		return false, apperrors.NewDatabaseError("unsubscribe", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// List returns a user's subscriptions, optionally filtered.
func (r *Registry) List(ctx context.Context, userID string, filters ListFilters) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions WHERE user_id = $1`
	args := []interface{}{userID}

	if filters.Type != "" {
		args = append(args, string(filters.Type))
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if filters.Frequency != "" {
		args = append(args, string(filters.Frequency))
		query += fmt.Sprintf(" AND frequency = $%d", len(args))
	}
	if filters.ActiveOnly {
		query += " AND is_active = TRUE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list subscriptions", err)
	}
	defer rows.Close()

	var out []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan subscription", err)
		}
		out = append(out, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}
	return out, nil
}

// Stats aggregates a user's subscriptions by type and frequency.
func (r *Registry) Stats(ctx context.Context, userID string) (*models.SubscriptionStats, error) {
	query := `SELECT type, frequency, is_active, COUNT(*)
		FROM user_subscriptions
		WHERE user_id = $1
		GROUP BY type, frequency, is_active`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("subscription stats", err)
	}
	defer rows.Close()

	stats := &models.SubscriptionStats{
		ByType:      make(map[models.SubscriptionType]int),
		ByFrequency: make(map[models.Frequency]int),
	}
	for rows.Next() {
		var t models.SubscriptionType
		var f models.Frequency
		var active bool
		var count int
		if err := rows.Scan(&t, &f, &active, &count); err != nil {
			return nil, apperrors.NewDatabaseError("scan stats", err)
		}
		stats.Total += count
		if active {
			stats.Active += count
			stats.ByType[t] += count
			stats.ByFrequency[f] += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}
	return stats, nil
}

// MatchSubscribers resolves the distinct users whose active subscriptions
// match a published item's category, any of its tags, or its author. A user
// matching through several subscriptions appears once, with the strongest
// frequency.
func (r *Registry) MatchSubscribers(ctx context.Context, category string, tags []string, authorID string) ([]Match, error) {
	query := `SELECT user_id, frequency FROM user_subscriptions
		WHERE is_active = TRUE AND (
			(type = 'category' AND target = $1)
			OR (type = 'tag' AND target = ANY($2))
			OR (type = 'author' AND target = $3)
		)`

	rows, err := r.db.QueryContext(ctx, query, category, pq.StringArray(tags), authorID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("match subscribers", err)
	}
	defer rows.Close()

	strongest := make(map[string]models.Frequency)
	var order []string
	for rows.Next() {
		var userID string
		var freq models.Frequency
		if err := rows.Scan(&userID, &freq); err != nil {
			return nil, apperrors.NewDatabaseError("scan match", err)
		}
		current, seen := strongest[userID]
		if !seen {
			strongest[userID] = freq
			order = append(order, userID)
		} else if freq.Stronger(current) {
			strongest[userID] = freq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}

	out := make([]Match, 0, len(order))
	for _, userID := range order {
		out = append(out, Match{UserID: userID, Frequency: strongest[userID]})
	}
	return out, nil
}
