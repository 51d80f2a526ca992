package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/models"
)

func newMockStore(t *testing.T) (*ArticleStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestGet(t *testing.T) {
	s, mock := newMockStore(t)

	publishedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "title", "author_id", "category_id", "tags", "status", "published_at", "created_at", "updated_at",
	}).AddRow("art-1", "Profiling Go Services", "author-1", "engineering",
		"{go,profiling,pprof}", "published", publishedAt, time.Now(), time.Now())

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("art-1").
		WillReturnRows(rows)

	art, err := s.Get(context.Background(), "art-1")
	require.NoError(t, err)
	assert.Equal(t, "art-1", art.ID)
	assert.Equal(t, []string{"go", "profiling", "pprof"}, art.Tags)
	assert.Equal(t, models.StatusPublished, art.Status)
	require.NotNil(t, art.PublishedAt)
	assert.True(t, art.PublishedAt.Equal(publishedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM articles WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.Get(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestListByStatus_Pagination(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "title", "author_id", "category_id", "tags", "status", "published_at", "created_at", "updated_at",
	}).
		AddRow("art-2", "B", "author-1", "eng", "{}", "review", nil, time.Now(), time.Now()).
		AddRow("art-1", "A", "author-2", "eng", "{}", "review", nil, time.Now(), time.Now())

	mock.ExpectQuery(`SELECT .+ FROM articles\s+WHERE status = \$1`).
		WithArgs("review", 10, 10).
		WillReturnRows(rows)

	out, err := s.ListByStatus(context.Background(), models.StatusReview, 2, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "art-2", out[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusTx_GuardLoses(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE articles`).
		WithArgs("published", sqlmock.AnyArg(), "art-1", "review").
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := s.db.Begin()
	require.NoError(t, err)

	now := time.Now().UTC()
	rows, err := s.UpdateStatusTx(context.Background(), tx, "art-1", models.StatusReview, models.StatusPublished, &now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}
