package models

import "time"

// ScheduleStatus is the state of a scheduled publication row.
type ScheduleStatus string

const (
	ScheduleStatusScheduled  ScheduleStatus = "scheduled"
	ScheduleStatusProcessing ScheduleStatus = "processing"
	ScheduleStatusExecuted   ScheduleStatus = "executed"
	ScheduleStatusCancelled  ScheduleStatus = "cancelled"
	ScheduleStatusFailed     ScheduleStatus = "failed"
)

// ScheduledPublication is a future-dated publication request. At most one row
// per (ContentID, ContentType) may be scheduled or processing at a time.
type ScheduledPublication struct {
	ID           string         `json:"id"`
	ContentID    string         `json:"contentId"`
	ContentType  ContentType    `json:"contentType"`
	ScheduledFor time.Time      `json:"scheduledFor"`
	Timezone     string         `json:"timezone"`
	Status       ScheduleStatus `json:"status"`
	AutoPublish  bool           `json:"autoPublish"`
	Attempts     int            `json:"attempts"`
	ScheduledBy  string         `json:"scheduledBy"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
