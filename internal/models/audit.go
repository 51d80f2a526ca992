package models

import "time"

// Change types recorded in the content audit log.
const (
	ChangeSubmitted         = "submitted"
	ChangeApproved          = "approved"
	ChangeRejected          = "rejected"
	ChangePublished         = "published"
	ChangeScheduled         = "scheduled"
	ChangeScheduleCancelled = "schedule_cancelled"
	ChangeArchived          = "archived"
)

// AuditEntry is an immutable record of a content mutation. Entries are only
// ever inserted; nothing in the public contract updates or deletes them.
type AuditEntry struct {
	ID         string                 `json:"id"`
	ContentID  string                 `json:"contentId"`
	ChangedBy  string                 `json:"changedBy"`
	ChangeType string                 `json:"changeType"`
	OldValues  map[string]interface{} `json:"oldValues,omitempty"`
	NewValues  map[string]interface{} `json:"newValues,omitempty"`
	Notes      string                 `json:"notes,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
}
