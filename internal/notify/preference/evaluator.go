// Package preference computes per-user delivery decisions: whether the user
// is inside their quiet-hours window right now, and which frequency actually
// applies to a piece of content.
package preference

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/models"
)

// QuietHoursStatus reports the user's quiet-hours state. WindowEnd is only
// meaningful when InQuietHours is true; deferred notifications are scheduled
// for it.
type QuietHoursStatus struct {
	InQuietHours bool      `json:"inQuietHours"`
	WindowEnd    time.Time `json:"windowEnd,omitempty"`
}

// Evaluator reads notification preferences and evaluates them.
type Evaluator struct {
	db     *sql.DB
	now    func() time.Time
	logger logger.Logger
}

func NewEvaluator(db *sql.DB, log logger.Logger) *Evaluator {
	return &Evaluator{
		db:     db,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"component": "preferences"}),
	}
}

// SetClock overrides the time source; tests pin it.
func (e *Evaluator) SetClock(now func() time.Time) { e.now = now }

// Get loads a user's preference row. Users without one get defaults: all
// channels on, immediate digests, no quiet hours, UTC.
func (e *Evaluator) Get(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	query := `SELECT user_id, in_app_enabled, email_enabled, push_enabled, digest_frequency,
		quiet_hours_start, quiet_hours_end, timezone, category_overrides
		FROM notification_preferences WHERE user_id = $1`

	var p models.NotificationPreference
	var overridesJSON []byte
	err := e.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.InAppEnabled, &p.EmailEnabled, &p.PushEnabled, &p.DigestFrequency,
		&p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone, &overridesJSON)
	if err == sql.ErrNoRows {
		return defaultPreference(userID), nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get preference", err)
	}

	if len(overridesJSON) > 0 {
		if err := json.Unmarshal(overridesJSON, &p.CategoryOverrides); err != nil {
			e.logger.Warn("malformed category overrides, ignoring", map[string]interface{}{
				"userId": userID, "error": err,
			})
			p.CategoryOverrides = nil
		}
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	return &p, nil
}

func defaultPreference(userID string) *models.NotificationPreference {
	return &models.NotificationPreference{
		UserID:          userID,
		InAppEnabled:    true,
		EmailEnabled:    true,
		PushEnabled:     true,
		DigestFrequency: models.FrequencyImmediate,
		Timezone:        "UTC",
	}
}

// QuietHoursStatus reports whether the user's current local time falls inside
// their quiet-hours window. A window whose start is after its end wraps
// midnight (22:00-06:00 covers late evening through early morning).
func (e *Evaluator) QuietHoursStatus(ctx context.Context, userID string) (*QuietHoursStatus, error) {
	pref, err := e.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return evaluateQuietHours(pref, e.now()), nil
}

func evaluateQuietHours(pref *models.NotificationPreference, now time.Time) *QuietHoursStatus {
	startMin, okStart := parseClock(pref.QuietHoursStart)
	endMin, okEnd := parseClock(pref.QuietHoursEnd)
	if !okStart || !okEnd || startMin == endMin {
		return &QuietHoursStatus{InQuietHours: false}
	}

	loc, err := time.LoadLocation(pref.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	var inside bool
	if startMin < endMin {
		inside = cur >= startMin && cur < endMin
	} else {
		inside = cur >= startMin || cur < endMin
	}
	if !inside {
		return &QuietHoursStatus{InQuietHours: false}
	}

	end := time.Date(local.Year(), local.Month(), local.Day(), endMin/60, endMin%60, 0, 0, loc)
	if !end.After(local) {
		end = end.Add(24 * time.Hour)
	}
	return &QuietHoursStatus{InQuietHours: true, WindowEnd: end.UTC()}
}

// parseClock converts "HH:MM" to minutes-of-day.
func parseClock(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// EffectiveFrequency resolves the frequency that applies to content in the
// given category. A per-category override beats the subscription's own
// frequency; a subscription without a usable frequency falls back to the
// user's digest frequency preference.
func (e *Evaluator) EffectiveFrequency(ctx context.Context, userID, category string, subscribed models.Frequency) (models.Frequency, error) {
	pref, err := e.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	if override, ok := pref.CategoryOverrides[category]; ok && override.Valid() {
		return override, nil
	}
	if subscribed.Valid() {
		return subscribed, nil
	}
	if pref.DigestFrequency.Valid() {
		return pref.DigestFrequency, nil
	}
	return models.FrequencyImmediate, nil
}

// Channels returns the delivery channels the user has enabled.
func (e *Evaluator) Channels(ctx context.Context, userID string) ([]string, error) {
	pref, err := e.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []string
	if pref.InAppEnabled {
		out = append(out, models.ChannelInApp)
	}
	if pref.EmailEnabled {
		out = append(out, models.ChannelEmail)
	}
	if pref.PushEnabled {
		out = append(out, models.ChannelPush)
	}
	return out, nil
}
