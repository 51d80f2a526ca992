// Package scheduler manages future-dated publications and the periodic sweep
// that executes due ones exactly once. The service is stateless; all state
// lives in the scheduled_publications table, and correctness under concurrent
// sweeps rests on the conditional claim update, not on any lock.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/metrics"
	"content-backoffice/internal/models"
)

const scheduleColumns = `id, content_id, content_type, scheduled_for, timezone, status, auto_publish, attempts, scheduled_by, created_at, updated_at`

// SweepResult summarizes one ProcessDue run.
type SweepResult struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Service owns scheduled publication rows.
type Service struct {
	db          *sql.DB
	registry    *HandlerRegistry
	maxAttempts int
	batchSize   int
	logger      logger.Logger
}

func NewService(db *sql.DB, registry *HandlerRegistry, maxAttempts, batchSize int, log logger.Logger) *Service {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if batchSize < 1 {
		batchSize = 50
	}
	return &Service{
		db:          db,
		registry:    registry,
		maxAttempts: maxAttempts,
		batchSize:   batchSize,
		logger:      log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*models.ScheduledPublication, error) {
	var sp models.ScheduledPublication
	err := row.Scan(&sp.ID, &sp.ContentID, &sp.ContentType, &sp.ScheduledFor, &sp.Timezone,
		&sp.Status, &sp.AutoPublish, &sp.Attempts, &sp.ScheduledBy, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

// Schedule creates a publication request. Any schedule already active for
// this content is cancelled first, and the insert is guarded by the partial
// unique index on active (content_id, content_type) rows, so at most one row
// per content is ever scheduled or processing even when two callers race.
func (s *Service) Schedule(ctx context.Context, contentID string, contentType models.ContentType, at time.Time, tz string, autoPublish bool, actorID string) (*models.ScheduledPublication, error) {
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown timezone %q", tz))
	}
	if !at.After(time.Now()) {
		return nil, apperrors.NewValidationError("scheduled time must be in the future")
	}

	if _, err := s.CancelActive(ctx, contentID, contentType); err != nil {
		return nil, err
	}

	sp := &models.ScheduledPublication{
		ID:           uuid.New().String(),
		ContentID:    contentID,
		ContentType:  contentType,
		ScheduledFor: at.UTC(),
		Timezone:     tz,
		Status:       models.ScheduleStatusScheduled,
		AutoPublish:  autoPublish,
		ScheduledBy:  actorID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	query := `INSERT INTO scheduled_publications
		(id, content_id, content_type, scheduled_for, timezone, status, auto_publish, attempts, scheduled_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10)
		ON CONFLICT (content_id, content_type) WHERE status IN ('scheduled', 'processing') DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		sp.ID, sp.ContentID, string(sp.ContentType), sp.ScheduledFor, sp.Timezone,
		string(sp.Status), sp.AutoPublish, sp.ScheduledBy, sp.CreatedAt, sp.UpdatedAt)
	if err != nil {
		return nil, apperrors.NewDatabaseError("insert schedule", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// A concurrent Schedule slipped its row in between our cancel and
		// insert; the unique index kept the single-active invariant.
		return nil, apperrors.NewClaimConflictError(contentID)
	}

	s.logger.Info("publication scheduled", map[string]interface{}{
		"scheduleId":   sp.ID,
		"contentId":    contentID,
		"scheduledFor": sp.ScheduledFor,
	})
	return sp, nil
}

// Cancel cancels one schedule by ID. It only wins if it reaches the row
// before a sweep claims it; an execution already in flight completes. That
// trade-off favors the simple conditional update over a cancellation
// handshake.
func (s *Service) Cancel(ctx context.Context, scheduleID string) (bool, error) {
	query := `UPDATE scheduled_publications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := s.db.ExecContext(ctx, query,
		string(models.ScheduleStatusCancelled), scheduleID, string(models.ScheduleStatusScheduled))
	if err != nil {
		return false, apperrors.NewDatabaseError("cancel schedule", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// CancelActive cancels whatever schedule is active for a content item.
// Used by the upsert in Schedule and the reject side effect.
func (s *Service) CancelActive(ctx context.Context, contentID string, contentType models.ContentType) (bool, error) {
	query := `UPDATE scheduled_publications
		SET status = $1, updated_at = NOW()
		WHERE content_id = $2 AND content_type = $3 AND status IN ($4, $5)`

	res, err := s.db.ExecContext(ctx, query,
		string(models.ScheduleStatusCancelled), contentID, string(contentType),
		string(models.ScheduleStatusScheduled), string(models.ScheduleStatusProcessing))
	if err != nil {
		return false, apperrors.NewDatabaseError("cancel active schedule", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// Reschedule moves a still-scheduled publication to a new time.
func (s *Service) Reschedule(ctx context.Context, scheduleID string, at time.Time, tz string) (*models.ScheduledPublication, error) {
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown timezone %q", tz))
	}
	if !at.After(time.Now()) {
		return nil, apperrors.NewValidationError("scheduled time must be in the future")
	}

	query := `UPDATE scheduled_publications
		SET scheduled_for = $1, timezone = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	res, err := s.db.ExecContext(ctx, query, at.UTC(), tz, scheduleID, string(models.ScheduleStatusScheduled))
	if err != nil {
		return nil, apperrors.NewDatabaseError("reschedule", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		current, err := s.Get(ctx, scheduleID)
		if err != nil {
			return nil, err
		}
		return nil, apperrors.NewStateError(string(current.Status), string(models.ScheduleStatusScheduled))
	}
	return s.Get(ctx, scheduleID)
}

// Get fetches one schedule.
func (s *Service) Get(ctx context.Context, scheduleID string) (*models.ScheduledPublication, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_publications WHERE id = $1`
	sp, err := scanSchedule(s.db.QueryRowContext(ctx, query, scheduleID))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("schedule", scheduleID)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get schedule", err)
	}
	return sp, nil
}

// ProcessDue sweeps due schedules and executes each at most once. Multiple
// workers may sweep concurrently; each candidate is claimed with a
// conditional update, and a zero-row result means another worker owns it.
func (s *Service) ProcessDue(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	query := `SELECT ` + scheduleColumns + ` FROM scheduled_publications
		WHERE status = $1 AND auto_publish = TRUE AND scheduled_for <= NOW()
		ORDER BY scheduled_for ASC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, string(models.ScheduleStatusScheduled), s.batchSize)
	if err != nil {
		return nil, apperrors.NewDatabaseError("select due schedules", err)
	}

	var due []models.ScheduledPublication
	for rows.Next() {
		sp, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, apperrors.NewDatabaseError("scan schedule", err)
		}
		due = append(due, *sp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}
	rows.Close()

	result := &SweepResult{}
	for i := range due {
		sp := &due[i]
		if err := s.claim(ctx, sp.ID); err != nil {
			if apperrors.IsClaimConflict(err) {
				// Another sweep got here first; a normal outcome, not an error.
				result.Skipped++
				metrics.SweepOutcomes.WithLabelValues("skipped").Inc()
				s.logger.Debug("claim lost to concurrent sweep", map[string]interface{}{
					"scheduleId": sp.ID,
				})
				continue
			}
			return result, err
		}

		if err := s.execute(ctx, sp); err != nil {
			result.Failed++
			metrics.SweepOutcomes.WithLabelValues("failed").Inc()
			s.logger.Error("scheduled publication failed", map[string]interface{}{
				"scheduleId": sp.ID,
				"contentId":  sp.ContentID,
				"attempt":    sp.Attempts + 1,
				"error":      err,
			})
			if rerr := s.recordFailure(ctx, sp); rerr != nil {
				s.logger.Error("recording schedule failure failed", map[string]interface{}{
					"scheduleId": sp.ID, "error": rerr,
				})
			}
			continue
		}

		result.Processed++
		metrics.SweepOutcomes.WithLabelValues("processed").Inc()
	}

	if result.Processed+result.Failed+result.Skipped > 0 {
		s.logger.Info("sweep finished", map[string]interface{}{
			"processed": result.Processed,
			"failed":    result.Failed,
			"skipped":   result.Skipped,
		})
	}
	return result, nil
}

// claim atomically transfers ownership of a schedule to this worker. Losing
// the conditional update surfaces as a claim conflict.
func (s *Service) claim(ctx context.Context, scheduleID string) error {
	query := `UPDATE scheduled_publications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := s.db.ExecContext(ctx, query,
		string(models.ScheduleStatusProcessing), scheduleID, string(models.ScheduleStatusScheduled))
	if err != nil {
		return apperrors.NewDatabaseError("claim schedule", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return apperrors.NewClaimConflictError(scheduleID)
	}
	return nil
}

// execute publishes a claimed schedule and marks it executed. The executed
// mark is guarded by the processing status so a cancellation that slipped in
// keeps the row cancelled.
func (s *Service) execute(ctx context.Context, sp *models.ScheduledPublication) error {
	handler, err := s.registry.Get(sp.ContentType)
	if err != nil {
		return err
	}

	if err := handler(ctx, sp.ContentID, sp.ScheduledBy); err != nil {
		return err
	}

	query := `UPDATE scheduled_publications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	res, err := s.db.ExecContext(ctx, query,
		string(models.ScheduleStatusExecuted), sp.ID, string(models.ScheduleStatusProcessing))
	if err != nil {
		return apperrors.NewDatabaseError("mark executed", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		s.logger.Warn("schedule no longer processing after execution", map[string]interface{}{
			"scheduleId": sp.ID,
		})
	}
	return nil
}

// recordFailure increments attempts and either requeues the schedule or
// marks it permanently failed.
func (s *Service) recordFailure(ctx context.Context, sp *models.ScheduledPublication) error {
	next := models.ScheduleStatusScheduled
	if sp.Attempts+1 >= s.maxAttempts {
		next = models.ScheduleStatusFailed
	}

	query := `UPDATE scheduled_publications
		SET status = $1, attempts = attempts + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	_, err := s.db.ExecContext(ctx, query,
		string(next), sp.ID, string(models.ScheduleStatusProcessing))
	if err != nil {
		return apperrors.NewDatabaseError("record failure", err)
	}
	return nil
}

// GetUpcoming lists the next schedules in line.
func (s *Service) GetUpcoming(ctx context.Context, limit int) ([]models.ScheduledPublication, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + scheduleColumns + ` FROM scheduled_publications
		WHERE status = $1 AND scheduled_for > NOW()
		ORDER BY scheduled_for ASC
		LIMIT $2`

	return s.queryList(ctx, query, string(models.ScheduleStatusScheduled), limit)
}

// GetOverdue lists schedules still marked scheduled past the grace window.
// A non-empty result signals a stuck sweep and is surfaced to operators.
func (s *Service) GetOverdue(ctx context.Context, grace time.Duration) ([]models.ScheduledPublication, error) {
	query := `SELECT ` + scheduleColumns + ` FROM scheduled_publications
		WHERE status = $1 AND scheduled_for < $2
		ORDER BY scheduled_for ASC`

	return s.queryList(ctx, query, string(models.ScheduleStatusScheduled), time.Now().Add(-grace))
}

func (s *Service) queryList(ctx context.Context, query string, args ...interface{}) ([]models.ScheduledPublication, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list schedules", err)
	}
	defer rows.Close()

	var out []models.ScheduledPublication
	for rows.Next() {
		sp, err := scanSchedule(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan schedule", err)
		}
		out = append(out, *sp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("rows iteration", err)
	}
	return out, nil
}
