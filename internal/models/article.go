package models

import "time"

// ContentStatus is the lifecycle state of an article or news item.
type ContentStatus string

const (
	StatusDraft     ContentStatus = "draft"
	StatusReview    ContentStatus = "review"
	StatusPublished ContentStatus = "published"
	StatusArchived  ContentStatus = "archived"
)

func (s ContentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusReview, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// ContentType distinguishes the two content kinds sharing one scheduling
// mechanism.
type ContentType string

const (
	ContentTypeArticle ContentType = "article"
	ContentTypeNews    ContentType = "news"
)

// Article is the content record. Its status field is mutated only through the
// lifecycle service; published_at is non-null exactly when status is published.
type Article struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	AuthorID    string         `json:"authorId"`
	CategoryID  string         `json:"categoryId"`
	Tags        []string       `json:"tags"`
	Status      ContentStatus  `json:"status"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}
