// Package store persists articles. Status mutations go through guarded
// updates so concurrent transitions cannot both win.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/models"
)

const articleColumns = `id, title, author_id, category_id, tags, status, published_at, created_at, updated_at`

// ArticleStore reads and mutates article rows.
type ArticleStore struct {
	db *sql.DB
}

func New(db *sql.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

func scanArticle(row interface{ Scan(...interface{}) error }) (*models.Article, error) {
	var a models.Article
	var tags pq.StringArray
	var publishedAt sql.NullTime

	err := row.Scan(&a.ID, &a.Title, &a.AuthorID, &a.CategoryID, &tags,
		&a.Status, &publishedAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.Tags = []string(tags)
	if publishedAt.Valid {
		t := publishedAt.Time
		a.PublishedAt = &t
	}
	return &a, nil
}

// Get fetches one article by ID.
func (s *ArticleStore) Get(ctx context.Context, id string) (*models.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE id = $1`

	a, err := scanArticle(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("article", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return a, nil
}

// ListByStatus returns a page of articles in the given status, newest first.
func (s *ArticleStore) ListByStatus(ctx context.Context, status models.ContentStatus, page, limit int) ([]models.Article, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := `SELECT ` + articleColumns + ` FROM articles
		WHERE status = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, string(status), limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// UpdateStatusTx performs the guarded status update inside the caller's
// transaction. Zero rows affected means the expected status no longer holds
// and the caller lost a concurrent transition.
func (s *ArticleStore) UpdateStatusTx(ctx context.Context, tx *sql.Tx, id string, expected, next models.ContentStatus, publishedAt *time.Time) (int64, error) {
	query := `UPDATE articles
		SET status = $1, published_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`

	res, err := tx.ExecContext(ctx, query, string(next), publishedAt, id, string(expected))
	if err != nil {
		return 0, fmt.Errorf("update article status: %w", err)
	}
	return res.RowsAffected()
}
