// Package fanout turns one publish event into per-subscriber notifications.
// A user matching through several subscriptions gets at most one
// notification; immediate subscribers inside quiet hours get theirs deferred
// to the window end, and digest subscribers get a bucket entry instead of a
// row.
package fanout

import (
	"context"
	"fmt"
	"time"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/metrics"
	"content-backoffice/internal/content/store"
	"content-backoffice/internal/models"
	"content-backoffice/internal/notify/notifications"
	"content-backoffice/internal/notify/preference"
	"content-backoffice/internal/notify/subscription"
)

// Result reports what one fan-out run produced.
type Result struct {
	Notified int `json:"notified"`
	Queued   int `json:"queued"`
}

// DigestSink receives content references for non-immediate subscribers.
type DigestSink interface {
	Append(ctx context.Context, userID string, digestType models.Frequency, item models.DigestItem) error
}

// Sender hands immediate notifications to the delivery path.
type Sender interface {
	Dispatch(ctx context.Context, n *models.Notification)
}

// Engine resolves subscribers and routes each one.
type Engine struct {
	articles *store.ArticleStore
	subs     *subscription.Registry
	prefs    *preference.Evaluator
	store    *notifications.Store
	digests  DigestSink
	sender   Sender
	logger   logger.Logger
}

func NewEngine(articles *store.ArticleStore, subs *subscription.Registry, prefs *preference.Evaluator, notifStore *notifications.Store, digests DigestSink, sender Sender, log logger.Logger) *Engine {
	return &Engine{
		articles: articles,
		subs:     subs,
		prefs:    prefs,
		store:    notifStore,
		digests:  digests,
		sender:   sender,
		logger:   log.WithFields(map[string]interface{}{"component": "fanout"}),
	}
}

// ContentPublished adapts the engine to the lifecycle's publish listener.
func (e *Engine) ContentPublished(ctx context.Context, contentID string) {
	result, err := e.NotifyOnPublish(ctx, contentID)
	if err != nil {
		e.logger.Error("fan-out failed", map[string]interface{}{
			"contentId": contentID, "error": err,
		})
		return
	}
	e.logger.Info("fan-out complete", map[string]interface{}{
		"contentId": contentID,
		"notified":  result.Notified,
		"queued":    result.Queued,
	})
}

// NotifyOnPublish fans a published item out to every matching subscriber.
// Per-user failures are logged and skipped; the run always accounts for the
// rest.
func (e *Engine) NotifyOnPublish(ctx context.Context, contentID string) (*Result, error) {
	art, err := e.articles.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if art.Status != models.StatusPublished {
		return nil, apperrors.NewStateError(string(art.Status), string(models.StatusPublished))
	}

	matches, err := e.subs.MatchSubscribers(ctx, art.CategoryID, art.Tags, art.AuthorID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, m := range matches {
		if err := e.routeUser(ctx, art, m, result); err != nil {
			e.logger.Error("routing subscriber failed", map[string]interface{}{
				"contentId": contentID, "userId": m.UserID, "error": err,
			})
		}
	}
	return result, nil
}

func (e *Engine) routeUser(ctx context.Context, art *models.Article, m subscription.Match, result *Result) error {
	freq, err := e.prefs.EffectiveFrequency(ctx, m.UserID, art.CategoryID, m.Frequency)
	if err != nil {
		return err
	}

	if freq != models.FrequencyImmediate {
		item := models.DigestItem{
			ContentID:   art.ID,
			ContentType: models.ContentTypeArticle,
			Title:       art.Title,
			Category:    art.CategoryID,
			PublishedAt: publishedAtOrNow(art),
		}
		if err := e.digests.Append(ctx, m.UserID, freq, item); err != nil {
			return err
		}
		result.Queued++
		metrics.FanoutRouted.WithLabelValues("digest").Inc()
		return nil
	}

	qh, err := e.prefs.QuietHoursStatus(ctx, m.UserID)
	if err != nil {
		return err
	}
	channels, err := e.prefs.Channels(ctx, m.UserID)
	if err != nil {
		return err
	}

	n := e.buildNotification(art, m.UserID, channels)
	if qh.InQuietHours {
		// Deferred to the end of the window, not dropped.
		windowEnd := qh.WindowEnd
		n.ScheduledFor = &windowEnd
	}

	if err := e.store.Insert(ctx, n); err != nil {
		return err
	}
	result.Notified++

	if qh.InQuietHours {
		metrics.FanoutRouted.WithLabelValues("deferred").Inc()
		return nil
	}

	metrics.FanoutRouted.WithLabelValues("immediate").Inc()
	if e.sender != nil {
		e.sender.Dispatch(ctx, n)
	}
	return nil
}

func (e *Engine) buildNotification(art *models.Article, userID string, channels []string) *models.Notification {
	status := make(map[string]string, len(channels))
	for _, ch := range channels {
		status[ch] = models.DeliveryPending
	}

	return &models.Notification{
		UserID:  userID,
		Type:    models.NotificationContentPublished,
		Title:   fmt.Sprintf("New in %s: %s", art.CategoryID, art.Title),
		Message: fmt.Sprintf("%q was just published.", art.Title),
		Data: map[string]interface{}{
			"contentId":   art.ID,
			"contentType": string(models.ContentTypeArticle),
			"category":    art.CategoryID,
		},
		DeliveryStatus: status,
	}
}

func publishedAtOrNow(art *models.Article) time.Time {
	if art.PublishedAt != nil {
		return *art.PublishedAt
	}
	return time.Now().UTC()
}
