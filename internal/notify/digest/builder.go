package digest

import (
	"context"
	"fmt"

	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/metrics"
	"content-backoffice/internal/models"
	"content-backoffice/internal/notify/notifications"
)

// ChannelSource yields the delivery channels a user has enabled.
type ChannelSource interface {
	Channels(ctx context.Context, userID string) ([]string, error)
}

// Sender hands an assembled digest to the delivery path.
type Sender interface {
	Dispatch(ctx context.Context, n *models.Notification)
}

// Builder assembles pending buckets into digest notifications.
type Builder struct {
	buckets  *Buckets
	store    *notifications.Store
	channels ChannelSource
	sender   Sender
	logger   logger.Logger
}

func NewBuilder(buckets *Buckets, store *notifications.Store, channels ChannelSource, sender Sender, log logger.Logger) *Builder {
	return &Builder{
		buckets:  buckets,
		store:    store,
		channels: channels,
		sender:   sender,
		logger:   log.WithFields(map[string]interface{}{"component": "digest"}),
	}
}

// BuildDue drains every non-empty bucket of the given type and sends one
// digest notification per user. Per-user failures are logged and skipped so
// one bad bucket cannot starve the rest.
func (b *Builder) BuildDue(ctx context.Context, digestType models.Frequency) (int, error) {
	users, err := b.buckets.PendingUsers(ctx, digestType)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, userID := range users {
		items, err := b.buckets.Drain(ctx, userID, digestType)
		if err != nil {
			b.logger.Error("draining digest bucket failed", map[string]interface{}{
				"userId": userID, "digestType": string(digestType), "error": err,
			})
			continue
		}
		if len(items) == 0 {
			continue
		}

		items = dedupItems(items)

		channels, err := b.channels.Channels(ctx, userID)
		if err != nil {
			b.logger.Error("loading channels failed", map[string]interface{}{
				"userId": userID, "error": err,
			})
			b.requeue(ctx, userID, digestType, items)
			continue
		}

		n := b.assemble(userID, digestType, items, channels)
		if err := b.store.Insert(ctx, n); err != nil {
			b.logger.Error("inserting digest notification failed", map[string]interface{}{
				"userId": userID, "error": err,
			})
			b.requeue(ctx, userID, digestType, items)
			continue
		}
		if b.sender != nil {
			b.sender.Dispatch(ctx, n)
		}

		sent++
		metrics.DigestsSent.WithLabelValues(string(digestType)).Inc()
	}

	if sent > 0 {
		b.logger.Info("digests assembled", map[string]interface{}{
			"digestType": string(digestType), "sent": sent,
		})
	}
	return sent, nil
}

// requeue puts drained items back in the bucket so a transient failure after
// the drain does not lose them; the next build picks them up again.
func (b *Builder) requeue(ctx context.Context, userID string, digestType models.Frequency, items []models.DigestItem) {
	for _, item := range items {
		if err := b.buckets.Append(ctx, userID, digestType, item); err != nil {
			b.logger.Error("requeueing digest item failed", map[string]interface{}{
				"userId": userID, "contentId": item.ContentID, "error": err,
			})
		}
	}
}

func (b *Builder) assemble(userID string, digestType models.Frequency, items []models.DigestItem, channels []string) *models.Notification {
	status := make(map[string]string, len(channels))
	for _, ch := range channels {
		status[ch] = models.DeliveryPending
	}

	entries := make([]interface{}, 0, len(items))
	for _, item := range items {
		entries = append(entries, map[string]interface{}{
			"contentId":   item.ContentID,
			"contentType": string(item.ContentType),
			"title":       item.Title,
			"category":    item.Category,
			"publishedAt": item.PublishedAt,
		})
	}

	return &models.Notification{
		UserID:  userID,
		Type:    models.NotificationDigest,
		Title:   fmt.Sprintf("Your %s digest: %d new publications", digestType, len(items)),
		Message: fmt.Sprintf("%d publications matched your subscriptions.", len(items)),
		Data: map[string]interface{}{
			"digestType": string(digestType),
			"items":      entries,
		},
		DeliveryStatus: status,
	}
}

// dedupItems keeps the first occurrence of each content ID.
func dedupItems(items []models.DigestItem) []models.DigestItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if seen[item.ContentID] {
			continue
		}
		seen[item.ContentID] = true
		out = append(out, item)
	}
	return out
}
