// Package delivery sends notifications over their enabled channels. It sits
// structurally apart from the transactional lifecycle path: callers fire and
// forget, retries happen here with bounded exponential backoff, and exhausted
// failures land on an operator-facing queue instead of propagating back.
package delivery

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"

	awsclients "content-backoffice/internal/common/aws"
	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/common/metrics"
	"content-backoffice/internal/models"
	"content-backoffice/internal/notify/notifications"
)

const failedQueueKey = "delivery:failed"

// SESService and SNSService mirror the AWS clients for mocking.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config controls channel enablement and the retry policy.
type Config struct {
	EmailEnabled   bool
	FromEmail      string
	PushEnabled    bool
	MaxRetries     int
	InitialBackoff time.Duration
}

// FailedDelivery is one entry on the operator queue.
type FailedDelivery struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Channel        string    `json:"channel"`
	Error          string    `json:"error"`
	FailedAt       time.Time `json:"failedAt"`
}

// Dispatcher delivers notifications per channel.
type Dispatcher struct {
	cfg    Config
	db     *sql.DB
	rdb    *redis.Client
	store  *notifications.Store
	ses    SESService
	sns    SNSService
	logger logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg Config, db *sql.DB, rdb *redis.Client, store *notifications.Store, sesClient SESService, snsClient SNSService, log logger.Logger) *Dispatcher {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Dispatcher{
		cfg:    cfg,
		db:     db,
		rdb:    rdb,
		store:  store,
		ses:    sesClient,
		sns:    snsClient,
		logger: log.WithFields(map[string]interface{}{"component": "delivery"}),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatch sends a notification over every channel marked pending. Channel
// outcomes are recorded on the row; nothing is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) {
	email, endpointArn, err := d.recipientContact(ctx, n.UserID)
	if err != nil {
		d.logger.Warn("recipient not found, marking channels disabled", map[string]interface{}{
			"notificationId": n.ID, "userId": n.UserID,
		})
		for ch, status := range n.DeliveryStatus {
			if status == models.DeliveryPending && ch != models.ChannelInApp {
				d.setStatus(ctx, n, ch, models.DeliveryDisabled)
			}
		}
	}

	for ch, status := range n.DeliveryStatus {
		if status != models.DeliveryPending {
			continue
		}

		switch ch {
		case models.ChannelInApp:
			// The stored row is the in-app delivery.
			d.setStatus(ctx, n, ch, models.DeliverySent)
			metrics.DeliveryAttempts.WithLabelValues(ch, models.DeliverySent).Inc()

		case models.ChannelEmail:
			if !d.cfg.EmailEnabled || email == "" {
				d.setStatus(ctx, n, ch, models.DeliveryDisabled)
				continue
			}
			d.sendChannel(ctx, n, ch, func(ctx context.Context) error {
				input := awsclients.BuildEmailInput(d.cfg.FromEmail, email, n.Title, n.Message)
				_, err := d.ses.SendEmail(ctx, input)
				return err
			})

		case models.ChannelPush:
			if !d.cfg.PushEnabled || endpointArn == "" {
				d.setStatus(ctx, n, ch, models.DeliveryDisabled)
				continue
			}
			d.sendChannel(ctx, n, ch, func(ctx context.Context) error {
				input := awsclients.BuildPushInput(endpointArn, n.Message)
				_, err := d.sns.Publish(ctx, input)
				return err
			})
		}
	}

	if err := d.store.MarkDispatched(ctx, n.ID); err != nil {
		d.logger.Error("marking notification dispatched failed", map[string]interface{}{
			"notificationId": n.ID, "error": err,
		})
	}
}

// sendChannel attempts one channel with bounded exponential backoff. After
// the last attempt the failure is parked on the operator queue.
func (d *Dispatcher) sendChannel(ctx context.Context, n *models.Notification, channel string, send func(context.Context) error) {
	delay := d.cfg.InitialBackoff

	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		lastErr = send(ctx)
		if lastErr == nil {
			d.setStatus(ctx, n, channel, models.DeliverySent)
			metrics.DeliveryAttempts.WithLabelValues(channel, models.DeliverySent).Inc()
			return
		}

		metrics.DeliveryAttempts.WithLabelValues(channel, models.DeliveryFailed).Inc()
		d.logger.Warn("channel delivery failed", map[string]interface{}{
			"notificationId": n.ID,
			"channel":        channel,
			"attempt":        attempt,
			"maxRetries":     d.cfg.MaxRetries,
			"error":          lastErr,
		})

		if attempt < d.cfg.MaxRetries {
			if err := d.sleep(ctx, delay); err != nil {
				break
			}
			delay *= 2
		}
	}

	d.setStatus(ctx, n, channel, models.DeliveryFailed)
	d.parkFailure(ctx, n, channel, apperrors.NewDeliveryError(channel, lastErr))
}

func (d *Dispatcher) setStatus(ctx context.Context, n *models.Notification, channel, status string) {
	n.DeliveryStatus[channel] = status
	if err := d.store.UpdateChannelStatus(ctx, n.ID, channel, status); err != nil {
		d.logger.Error("recording channel status failed", map[string]interface{}{
			"notificationId": n.ID, "channel": channel, "error": err,
		})
	}
}

// parkFailure pushes an exhausted delivery onto the operator-facing queue.
func (d *Dispatcher) parkFailure(ctx context.Context, n *models.Notification, channel string, deliveryErr error) {
	entry := FailedDelivery{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        channel,
		Error:          deliveryErr.Error(),
		FailedAt:       time.Now().UTC(),
	}
	payload, _ := json.Marshal(entry)

	if err := d.rdb.LPush(ctx, failedQueueKey, payload).Err(); err != nil {
		d.logger.Error("parking failed delivery failed", map[string]interface{}{
			"notificationId": n.ID, "channel": channel, "error": err,
		})
	}
}

// FailedDeliveries reads the newest entries on the operator queue.
func (d *Dispatcher) FailedDeliveries(ctx context.Context, limit int) ([]FailedDelivery, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	raw, err := d.rdb.LRange(ctx, failedQueueKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read failed-delivery queue: %w", err)
	}

	out := make([]FailedDelivery, 0, len(raw))
	for _, r := range raw {
		var fd FailedDelivery
		if err := json.Unmarshal([]byte(r), &fd); err != nil {
			continue
		}
		out = append(out, fd)
	}
	return out, nil
}

// ReleaseDue dispatches notifications whose quiet-hours deferral has passed.
func (d *Dispatcher) ReleaseDue(ctx context.Context) (int, error) {
	due, err := d.store.DueDeferred(ctx, 100)
	if err != nil {
		return 0, err
	}

	for i := range due {
		d.Dispatch(ctx, &due[i])
	}
	if len(due) > 0 {
		d.logger.Info("deferred notifications released", map[string]interface{}{
			"count": len(due),
		})
	}
	return len(due), nil
}

// recipientContact looks up the user's email and push endpoint.
func (d *Dispatcher) recipientContact(ctx context.Context, userID string) (string, string, error) {
	var email, endpointArn sql.NullString
	query := `SELECT email, push_endpoint_arn FROM users WHERE id = $1`

	err := d.db.QueryRowContext(ctx, query, userID).Scan(&email, &endpointArn)
	if err != nil {
		return "", "", err
	}
	return email.String, endpointArn.String, nil
}
