package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-backoffice/internal/common/auth"
	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/content/audit"
	"content-backoffice/internal/content/store"
	"content-backoffice/internal/models"
)

var testActors = auth.StaticResolver{
	"author-1": models.RoleAuthor,
	"author-2": models.RoleAuthor,
	"editor-1": models.RoleEditor,
	"admin-1":  models.RoleAdmin,
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	svc := NewService(db, store.New(db), audit.New(db), testActors, logger.NewTestLogger(t))
	return svc, mock
}

func articleRows(id, authorID string, status models.ContentStatus) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "title", "author_id", "category_id", "tags", "status", "published_at", "created_at", "updated_at",
	}).AddRow(id, "Go Generics in Practice", authorID, "engineering", "{go,generics}",
		string(status), nil, time.Now(), time.Now())
}

func expectGetArticle(mock sqlmock.Sqlmock, id, authorID string, status models.ContentStatus) {
	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(articleRows(id, authorID, status))
}

func expectTransition(mock sqlmock.Sqlmock, id string, expected, next models.ContentStatus) {
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE articles`).
		WithArgs(string(next), sqlmock.AnyArg(), id, string(expected)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO content_audit_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func TestSubmitForReview_OwnDraft(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusDraft)
	expectTransition(mock, "art-1", models.StatusDraft, models.StatusReview)

	art, err := svc.SubmitForReview(context.Background(), "art-1", "author-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReview, art.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitForReview_NotOwner(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusDraft)

	_, err := svc.SubmitForReview(context.Background(), "art-1", "author-2")
	assert.True(t, apperrors.IsPermission(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitForReview_AlreadyPublished(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusPublished)

	_, err := svc.SubmitForReview(context.Background(), "art-1", "author-1")
	assert.True(t, apperrors.IsStateError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_PublishImmediately(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	expectTransition(mock, "art-1", models.StatusReview, models.StatusPublished)

	result, err := svc.Approve(context.Background(), "art-1", "editor-1", ApproveOptions{PublishImmediately: true})
	require.NoError(t, err)
	require.NotNil(t, result.Article)
	assert.Equal(t, models.StatusPublished, result.Article.Status)
	assert.NotNil(t, result.Article.PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_AuthorCannotApprove(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Approve(context.Background(), "art-1", "author-1", ApproveOptions{PublishImmediately: true})
	assert.True(t, apperrors.IsPermission(err))
}

type fakeScheduleManager struct {
	scheduled []models.ScheduledPublication
	cancelled []string
}

func (f *fakeScheduleManager) Schedule(_ context.Context, contentID string, contentType models.ContentType, at time.Time, tz string, autoPublish bool, actorID string) (*models.ScheduledPublication, error) {
	sp := models.ScheduledPublication{
		ID:           "sched-1",
		ContentID:    contentID,
		ContentType:  contentType,
		ScheduledFor: at.UTC(),
		Timezone:     tz,
		Status:       models.ScheduleStatusScheduled,
		AutoPublish:  autoPublish,
		ScheduledBy:  actorID,
	}
	f.scheduled = append(f.scheduled, sp)
	return &sp, nil
}

func (f *fakeScheduleManager) CancelActive(_ context.Context, contentID string, _ models.ContentType) (bool, error) {
	f.cancelled = append(f.cancelled, contentID)
	return len(f.cancelled) == 1, nil
}

func TestApprove_Scheduled(t *testing.T) {
	svc, mock := newTestService(t)
	mgr := &fakeScheduleManager{}
	svc.SetScheduleManager(mgr)

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	mock.ExpectExec(`INSERT INTO content_audit_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	at := time.Now().Add(2 * time.Hour)
	result, err := svc.Approve(context.Background(), "art-1", "editor-1", ApproveOptions{
		ScheduledAt: &at,
		Timezone:    "Europe/Berlin",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Schedule)
	assert.Nil(t, result.Article)
	assert.Len(t, mgr.scheduled, 1)
	assert.Equal(t, "editor-1", mgr.scheduled[0].ScheduledBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApprove_NotInReview(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusDraft)

	_, err := svc.Approve(context.Background(), "art-1", "editor-1", ApproveOptions{PublishImmediately: true})
	assert.True(t, apperrors.IsStateError(err))
}

func TestReject_ReasonTooShort(t *testing.T) {
	svc, mock := newTestService(t)

	// Validation fires before any lookup; no queries expected.
	_, err := svc.Reject(context.Background(), "art-1", "editor-1", RejectInput{Reason: "too vague"})
	assert.True(t, apperrors.IsValidation(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_ReturnToDraft(t *testing.T) {
	svc, mock := newTestService(t)
	mgr := &fakeScheduleManager{}
	svc.SetScheduleManager(mgr)

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	// CancelActive reports a cancelled schedule, which gets its own audit entry.
	mock.ExpectExec(`INSERT INTO content_audit_log`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectTransition(mock, "art-1", models.StatusReview, models.StatusDraft)

	art, err := svc.Reject(context.Background(), "art-1", "editor-1", RejectInput{
		Reason:        "needs a reproducible benchmark for the claims made",
		ReturnToDraft: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, art.Status)
	assert.Equal(t, []string{"art-1"}, mgr.cancelled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReject_NoResubmissionArchives(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	expectTransition(mock, "art-1", models.StatusReview, models.StatusArchived)

	art, err := svc.Reject(context.Background(), "art-1", "editor-1", RejectInput{
		Reason: "duplicate of previously published coverage on this subject",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, art.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestArchive_ClearsPublishedAt(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusPublished)
	expectTransition(mock, "art-1", models.StatusPublished, models.StatusArchived)

	art, err := svc.Archive(context.Background(), "art-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusArchived, art.Status)
	assert.Nil(t, art.PublishedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ConcurrentLoser(t *testing.T) {
	svc, mock := newTestService(t)

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE articles`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// The guard lost; the service re-reads to report the real status.
	expectGetArticle(mock, "art-1", "author-1", models.StatusPublished)
	mock.ExpectRollback()

	_, err := svc.Approve(context.Background(), "art-1", "editor-1", ApproveOptions{PublishImmediately: true})
	require.Error(t, err)
	assert.True(t, apperrors.IsStateError(err))

	var stdErr *apperrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, "published", stdErr.Metadata["currentStatus"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishNow_FiresListener(t *testing.T) {
	svc, mock := newTestService(t)

	published := make(chan string, 1)
	svc.SetPublishListener(listenerFunc(func(_ context.Context, contentID string) {
		published <- contentID
	}))

	expectGetArticle(mock, "art-1", "author-1", models.StatusReview)
	expectTransition(mock, "art-1", models.StatusReview, models.StatusPublished)

	_, err := svc.PublishNow(context.Background(), "art-1", "editor-1")
	require.NoError(t, err)

	select {
	case id := <-published:
		assert.Equal(t, "art-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("publish listener was not invoked")
	}
}

type listenerFunc func(ctx context.Context, contentID string)

func (f listenerFunc) ContentPublished(ctx context.Context, contentID string) { f(ctx, contentID) }

func TestListByStatus_UnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ListByStatus(context.Background(), models.ContentStatus("deleted"), 1, 20)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.ContentStatus
		ok       bool
	}{
		{models.StatusDraft, models.StatusReview, true},
		{models.StatusReview, models.StatusPublished, true},
		{models.StatusReview, models.StatusDraft, true},
		{models.StatusReview, models.StatusArchived, true},
		{models.StatusPublished, models.StatusArchived, true},
		{models.StatusDraft, models.StatusPublished, false},
		{models.StatusPublished, models.StatusDraft, false},
		{models.StatusArchived, models.StatusReview, false},
		{models.StatusArchived, models.StatusDraft, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
