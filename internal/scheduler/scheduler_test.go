package scheduler

import (
	"context"
	"database/sql/driver"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/models"
)

func newTestService(t *testing.T, registry *HandlerRegistry) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if registry == nil {
		registry = NewHandlerRegistry()
	}
	return NewService(db, registry, 3, 50, logger.NewTestLogger(t)), mock
}

func dueRows(id, contentID, contentType string, attempts int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "content_id", "content_type", "scheduled_for", "timezone", "status",
		"auto_publish", "attempts", "scheduled_by", "created_at", "updated_at",
	}).AddRow(id, contentID, contentType, time.Now().Add(-time.Minute), "UTC",
		"scheduled", true, attempts, "editor-1", time.Now(), time.Now())
}

// cutoffArg matches a timestamp roughly the grace window in the past.
type cutoffArg struct{ grace time.Duration }

func (c cutoffArg) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	if !ok {
		return false
	}
	want := time.Now().Add(-c.grace)
	return ts.After(want.Add(-5*time.Second)) && ts.Before(want.Add(5*time.Second))
}

func TestSchedule_PastTime(t *testing.T) {
	svc, mock := newTestService(t, nil)

	_, err := svc.Schedule(context.Background(), "art-1", models.ContentTypeArticle,
		time.Now().Add(-time.Minute), "UTC", true, "editor-1")
	assert.True(t, apperrors.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_UnknownTimezone(t *testing.T) {
	svc, _ := newTestService(t, nil)

	_, err := svc.Schedule(context.Background(), "art-1", models.ContentTypeArticle,
		time.Now().Add(time.Hour), "Mars/Olympus", true, "editor-1")
	assert.True(t, apperrors.IsValidation(err))
}

func TestSchedule_CancelsPriorSchedule(t *testing.T) {
	svc, mock := newTestService(t, nil)

	// Upsert semantics: whatever was active for this content is cancelled first.
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("cancelled", "art-1", "article", "scheduled", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO scheduled_publications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	at := time.Now().Add(3 * time.Hour)
	sp, err := svc.Schedule(context.Background(), "art-1", models.ContentTypeArticle, at, "America/New_York", true, "editor-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusScheduled, sp.Status)
	assert.Equal(t, "America/New_York", sp.Timezone)
	assert.True(t, sp.ScheduledFor.Equal(at.UTC()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSchedule_ConcurrentScheduleLoses(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("cancelled", "art-1", "article", "scheduled", "processing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	// A racing Schedule inserted its row first; the conflict clause drops ours.
	mock.ExpectExec(`INSERT INTO scheduled_publications`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := svc.Schedule(context.Background(), "art-1", models.ContentTypeArticle,
		time.Now().Add(time.Hour), "UTC", true, "editor-1")
	assert.True(t, apperrors.IsClaimConflict(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancel_OnlyWhileScheduled(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("cancelled", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 0))

	cancelled, err := svc.Cancel(context.Background(), "sched-1")
	require.NoError(t, err)
	assert.False(t, cancelled, "a claimed schedule must not be cancellable")
}

func TestProcessDue_ExecutesOnce(t *testing.T) {
	registry := NewHandlerRegistry()
	var publishedIDs []string
	registry.Register(models.ContentTypeArticle, func(_ context.Context, contentID, actorID string) error {
		publishedIDs = append(publishedIDs, contentID)
		assert.Equal(t, "editor-1", actorID)
		return nil
	})

	svc, mock := newTestService(t, registry)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications\s+WHERE status = \$1 AND auto_publish = TRUE`).
		WithArgs("scheduled", 50).
		WillReturnRows(dueRows("sched-1", "art-1", "article", 0))
	// Claim wins.
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("processing", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Executed mark, guarded by processing.
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("executed", "sched-1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Processed: 1}, result)
	assert.Equal(t, []string{"art-1"}, publishedIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDue_ClaimLost(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(models.ContentTypeArticle, func(_ context.Context, _, _ string) error {
		t.Fatal("handler must not run for an unclaimed schedule")
		return nil
	})

	svc, mock := newTestService(t, registry)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications`).
		WillReturnRows(dueRows("sched-1", "art-1", "article", 0))
	// Another sweep claimed the row between select and claim.
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("processing", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Skipped: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDue_RequeuesOnFailure(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(models.ContentTypeArticle, func(_ context.Context, _, _ string) error {
		return fmt.Errorf("content no longer in review")
	})

	svc, mock := newTestService(t, registry)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications`).
		WillReturnRows(dueRows("sched-1", "art-1", "article", 0))
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("processing", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// First failure: back to scheduled with attempts bumped.
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("scheduled", "sched-1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Failed: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDue_FailsPermanentlyAtMaxAttempts(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(models.ContentTypeArticle, func(_ context.Context, _, _ string) error {
		return fmt.Errorf("content no longer in review")
	})

	svc, mock := newTestService(t, registry)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications`).
		WillReturnRows(dueRows("sched-1", "art-1", "article", 2))
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("processing", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("failed", "sched-1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Failed: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessDue_UnregisteredContentType(t *testing.T) {
	// Only the article pipeline exists. A due news schedule must fail through
	// the registry, not get published from the article store.
	registry := NewHandlerRegistry()
	registry.Register(models.ContentTypeArticle, func(_ context.Context, contentID, _ string) error {
		t.Fatalf("article handler must not run for news content %s", contentID)
		return nil
	})

	svc, mock := newTestService(t, registry)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications`).
		WillReturnRows(dueRows("sched-1", "news-1", "news", 0))
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("processing", "sched-1", "scheduled").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scheduled_publications`).
		WithArgs("scheduled", "sched-1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{Failed: 1}, result)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReschedule_NotScheduledAnymore(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectExec(`UPDATE scheduled_publications`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rows := sqlmock.NewRows([]string{
		"id", "content_id", "content_type", "scheduled_for", "timezone", "status",
		"auto_publish", "attempts", "scheduled_by", "created_at", "updated_at",
	}).AddRow("sched-1", "art-1", "article", time.Now(), "UTC",
		"executed", true, 0, "editor-1", time.Now(), time.Now())
	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications WHERE id = \$1`).
		WithArgs("sched-1").
		WillReturnRows(rows)

	_, err := svc.Reschedule(context.Background(), "sched-1", time.Now().Add(time.Hour), "UTC")
	assert.True(t, apperrors.IsStateError(err))
}

func TestGetUpcoming(t *testing.T) {
	svc, mock := newTestService(t, nil)

	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications\s+WHERE status = \$1 AND scheduled_for > NOW\(\)`).
		WithArgs("scheduled", 5).
		WillReturnRows(dueRows("sched-1", "art-1", "article", 0))

	out, err := svc.GetUpcoming(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sched-1", out[0].ID)
}

func TestGetOverdue_RespectsGrace(t *testing.T) {
	svc, mock := newTestService(t, nil)

	grace := 10 * time.Minute
	mock.ExpectQuery(`SELECT .+ FROM scheduled_publications\s+WHERE status = \$1 AND scheduled_for < \$2`).
		WithArgs("scheduled", cutoffArg{grace: grace}).
		WillReturnRows(dueRows("sched-stuck", "art-9", "article", 1))

	out, err := svc.GetOverdue(context.Background(), grace)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "sched-stuck", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
