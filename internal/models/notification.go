package models

import "time"

// Delivery channels.
const (
	ChannelInApp = "inApp"
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// Per-channel delivery statuses.
const (
	DeliveryPending  = "pending"
	DeliverySent     = "sent"
	DeliveryFailed   = "failed"
	DeliveryDisabled = "disabled"
)

// Notification types.
const (
	NotificationContentPublished = "content_published"
	NotificationDigest           = "digest"
)

// Notification is a single message for a user. ScheduledFor is set when the
// notification was deferred past a quiet-hours window.
type Notification struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"userId"`
	Type           string                 `json:"type"`
	Title          string                 `json:"title"`
	Message        string                 `json:"message"`
	Data           map[string]interface{} `json:"data,omitempty"`
	ScheduledFor   *time.Time             `json:"scheduledFor,omitempty"`
	DeliveryStatus map[string]string      `json:"deliveryStatus"`
	IsRead         bool                   `json:"isRead"`
	CreatedAt      time.Time              `json:"createdAt"`
}

// NotificationPreference holds a user's delivery settings. Quiet hours are
// time-of-day strings ("HH:MM") in the user's stored timezone; a window with
// start after end wraps midnight.
type NotificationPreference struct {
	UserID            string               `json:"userId"`
	InAppEnabled      bool                 `json:"inAppEnabled"`
	EmailEnabled      bool                 `json:"emailEnabled"`
	PushEnabled       bool                 `json:"pushEnabled"`
	DigestFrequency   Frequency            `json:"digestFrequency"`
	QuietHoursStart   string               `json:"quietHoursStart"`
	QuietHoursEnd     string               `json:"quietHoursEnd"`
	Timezone          string               `json:"timezone"`
	CategoryOverrides map[string]Frequency `json:"categoryOverrides,omitempty"`
}

// DigestItem is one content reference pending in a user's digest bucket.
type DigestItem struct {
	ContentID   string      `json:"contentId"`
	ContentType ContentType `json:"contentType"`
	Title       string      `json:"title"`
	Category    string      `json:"category"`
	PublishedAt time.Time   `json:"publishedAt"`
}
