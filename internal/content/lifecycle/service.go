// Package lifecycle enforces the content status state machine. Every
// transition is one transaction: a guarded status update plus its audit
// entry. Publish events additionally trigger subscriber fan-out, outside the
// transaction and never able to fail it.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"content-backoffice/internal/common/auth"
	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/metrics"
	"content-backoffice/internal/content/audit"
	"content-backoffice/internal/content/store"
	"content-backoffice/internal/models"
)

const minRejectReasonLen = 20

// ScheduleManager is the scheduler surface the lifecycle needs: creating a
// schedule on deferred approval and cancelling active ones on reject.
type ScheduleManager interface {
	Schedule(ctx context.Context, contentID string, contentType models.ContentType, at time.Time, tz string, autoPublish bool, actorID string) (*models.ScheduledPublication, error)
	CancelActive(ctx context.Context, contentID string, contentType models.ContentType) (bool, error)
}

// PublishListener is notified after a successful publish transition. The call
// runs in its own goroutine; failures are logged and dropped.
type PublishListener interface {
	ContentPublished(ctx context.Context, contentID string)
}

// ApproveOptions controls whether approval publishes now or schedules.
type ApproveOptions struct {
	PublishImmediately bool
	ScheduledAt        *time.Time
	Timezone           string
	Notes              string
}

// ApproveResult carries either the published article or the created schedule.
type ApproveResult struct {
	Article  *models.Article
	Schedule *models.ScheduledPublication
}

// RejectInput carries the editor's decision on a reviewed article.
type RejectInput struct {
	Reason            string
	ReturnToDraft     bool
	AllowResubmission bool
}

// Service is the lifecycle controller.
type Service struct {
	db        *sql.DB
	articles  *store.ArticleStore
	audit     *audit.Log
	identity  auth.Resolver
	schedules ScheduleManager
	listener  PublishListener
	logger    logger.Logger
}

func NewService(db *sql.DB, articles *store.ArticleStore, auditLog *audit.Log, identity auth.Resolver, log logger.Logger) *Service {
	return &Service{
		db:       db,
		articles: articles,
		audit:    auditLog,
		identity: identity,
		logger:   log.WithFields(map[string]interface{}{"component": "lifecycle"}),
	}
}

// SetScheduleManager wires the scheduler; done after construction because the
// scheduler's publish handler points back at this service.
func (s *Service) SetScheduleManager(m ScheduleManager) { s.schedules = m }

// SetPublishListener wires the fan-out engine.
func (s *Service) SetPublishListener(l PublishListener) { s.listener = l }

// SubmitForReview moves a draft into review. Authors may only submit their
// own content.
func (s *Service) SubmitForReview(ctx context.Context, id, actorID string) (*models.Article, error) {
	actor, err := s.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}

	art, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !actor.CanModerate() && art.AuthorID != actor.ID {
		return nil, apperrors.NewPermissionError(actor.ID, "submit content they do not own")
	}

	return s.transition(ctx, art, models.StatusReview, actor, models.ChangeSubmitted, "")
}

// Approve either publishes a reviewed article immediately or, when a
// scheduled time is given, creates a scheduled publication and leaves the
// article in review until execution.
func (s *Service) Approve(ctx context.Context, id, actorID string, opts ApproveOptions) (*ApproveResult, error) {
	actor, err := s.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanModerate() {
		return nil, apperrors.NewPermissionError(actor.ID, "approve content")
	}

	art, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if art.Status != models.StatusReview {
		return nil, apperrors.NewStateError(string(art.Status), string(models.StatusPublished))
	}

	if opts.ScheduledAt != nil {
		if s.schedules == nil {
			return nil, fmt.Errorf("no schedule manager configured")
		}
		sched, err := s.schedules.Schedule(ctx, art.ID, models.ContentTypeArticle, *opts.ScheduledAt, opts.Timezone, true, actor.ID)
		if err != nil {
			return nil, err
		}
		entry := &models.AuditEntry{
			ContentID:  art.ID,
			ChangedBy:  actor.ID,
			ChangeType: models.ChangeScheduled,
			NewValues: map[string]interface{}{
				"scheduledFor": sched.ScheduledFor.UTC().Format(time.RFC3339),
				"scheduleId":   sched.ID,
			},
			Notes: opts.Notes,
		}
		if err := s.audit.Write(ctx, s.db, entry); err != nil {
			s.logger.Error("audit write failed for schedule", map[string]interface{}{
				"contentId": art.ID, "error": err,
			})
		}
		metrics.ContentTransitions.WithLabelValues(models.ChangeScheduled).Inc()
		return &ApproveResult{Schedule: sched}, nil
	}

	updated, err := s.transition(ctx, art, models.StatusPublished, actor, models.ChangeApproved, opts.Notes)
	if err != nil {
		return nil, err
	}
	s.firePublish(updated.ID)
	return &ApproveResult{Article: updated}, nil
}

// Reject returns a reviewed article to draft, or archives it when
// resubmission is not allowed. Any active schedule for the article is
// cancelled as a side effect.
func (s *Service) Reject(ctx context.Context, id, actorID string, input RejectInput) (*models.Article, error) {
	if len(strings.TrimSpace(input.Reason)) < minRejectReasonLen {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("rejection reason must be at least %d characters", minRejectReasonLen))
	}

	actor, err := s.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanModerate() {
		return nil, apperrors.NewPermissionError(actor.ID, "reject content")
	}

	art, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	target := models.StatusDraft
	if !input.ReturnToDraft && !input.AllowResubmission {
		target = models.StatusArchived
	}

	if art.Status != models.StatusReview {
		return nil, apperrors.NewStateError(string(art.Status), string(target))
	}

	if s.schedules != nil {
		cancelled, err := s.schedules.CancelActive(ctx, art.ID, models.ContentTypeArticle)
		if err != nil {
			s.logger.Warn("cancelling schedule on reject failed", map[string]interface{}{
				"contentId": art.ID, "error": err,
			})
		} else if cancelled {
			entry := &models.AuditEntry{
				ContentID:  art.ID,
				ChangedBy:  actor.ID,
				ChangeType: models.ChangeScheduleCancelled,
				Notes:      "schedule cancelled on rejection",
			}
			if aerr := s.audit.Write(ctx, s.db, entry); aerr != nil {
				s.logger.Error("audit write failed for schedule cancellation", map[string]interface{}{
					"contentId": art.ID, "error": aerr,
				})
			}
			s.logger.Info("active schedule cancelled on reject", map[string]interface{}{
				"contentId": art.ID,
			})
		}
	}

	return s.transition(ctx, art, target, actor, models.ChangeRejected, input.Reason)
}

// Archive retires a published article.
func (s *Service) Archive(ctx context.Context, id, actorID string) (*models.Article, error) {
	actor, err := s.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanModerate() {
		return nil, apperrors.NewPermissionError(actor.ID, "archive content")
	}

	art, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.transition(ctx, art, models.StatusArchived, actor, models.ChangeArchived, "")
}

// PublishNow moves a reviewed article to published. The scheduler calls this
// when a claimed schedule comes due; editors may also call it directly.
func (s *Service) PublishNow(ctx context.Context, id, actorID string) (*models.Article, error) {
	actor, err := s.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanModerate() {
		return nil, apperrors.NewPermissionError(actor.ID, "publish content")
	}

	art, err := s.articles.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, art, models.StatusPublished, actor, models.ChangePublished, "")
	if err != nil {
		return nil, err
	}
	s.firePublish(updated.ID)
	return updated, nil
}

// Get fetches an article.
func (s *Service) Get(ctx context.Context, id string) (*models.Article, error) {
	return s.articles.Get(ctx, id)
}

// ListByStatus pages through articles in one status.
func (s *Service) ListByStatus(ctx context.Context, status models.ContentStatus, page, limit int) ([]models.Article, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown status %q", status))
	}
	return s.articles.ListByStatus(ctx, status, page, limit)
}

// History returns the audit trail for an article, newest first.
func (s *Service) History(ctx context.Context, contentID string, page, limit int) ([]models.AuditEntry, error) {
	return s.audit.Read(ctx, contentID, page, limit)
}

// transition executes one atomic (status update + audit insert) unit. The
// status update is guarded by the status the caller observed; losing that
// guard re-reads and reports the real current status.
func (s *Service) transition(ctx context.Context, art *models.Article, next models.ContentStatus, actor models.Actor, changeType, notes string) (*models.Article, error) {
	if !canTransition(art.Status, next) {
		return nil, apperrors.NewStateError(string(art.Status), string(next))
	}

	var publishedAt *time.Time
	if next == models.StatusPublished {
		now := time.Now().UTC()
		publishedAt = &now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewDatabaseError("begin transition", err)
	}
	defer tx.Rollback()

	rows, err := s.articles.UpdateStatusTx(ctx, tx, art.ID, art.Status, next, publishedAt)
	if err != nil {
		return nil, apperrors.NewDatabaseError("update status", err)
	}
	if rows == 0 {
		// A concurrent transition won; report against the fresh status.
		current, rerr := s.articles.Get(ctx, art.ID)
		if rerr != nil {
			return nil, rerr
		}
		return nil, apperrors.NewStateError(string(current.Status), string(next))
	}

	entry := &models.AuditEntry{
		ContentID:  art.ID,
		ChangedBy:  actor.ID,
		ChangeType: changeType,
		OldValues:  map[string]interface{}{"status": string(art.Status)},
		NewValues:  map[string]interface{}{"status": string(next)},
		Notes:      notes,
	}
	if art.PublishedAt != nil {
		entry.OldValues["publishedAt"] = art.PublishedAt.UTC().Format(time.RFC3339)
	}
	if publishedAt != nil {
		entry.NewValues["publishedAt"] = publishedAt.Format(time.RFC3339)
	}

	if err := s.audit.Write(ctx, tx, entry); err != nil {
		return nil, apperrors.NewDatabaseError("write audit entry", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewDatabaseError("commit transition", err)
	}

	metrics.ContentTransitions.WithLabelValues(changeType).Inc()
	s.logger.Info("content transition", map[string]interface{}{
		"contentId":  art.ID,
		"from":       string(art.Status),
		"to":         string(next),
		"changeType": changeType,
		"changedBy":  actor.ID,
	})

	updated := *art
	updated.Status = next
	updated.PublishedAt = publishedAt
	updated.UpdatedAt = time.Now().UTC()
	return &updated, nil
}

// firePublish hands the publish event to the fan-out engine. Fire-and-forget:
// a slow or failing notification path must never fail the publish.
func (s *Service) firePublish(contentID string) {
	if s.listener == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.listener.ContentPublished(ctx, contentID)
	}()
}
