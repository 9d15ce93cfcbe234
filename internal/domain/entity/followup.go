package entity

import "time"

// FollowupSchedule is the next scheduled reminder for a case. At most one
// non-cancelled, non-maxed schedule exists per case.
type FollowupSchedule struct {
	ID        int64     `json:"id"`
	CaseID    int64     `json:"case_id"`
	Status    string    `json:"status"`
	NextDate  time.Time `json:"next_date"`
	Count     int       `json:"count"`
	MaxCount  int       `json:"max_count"`
	AutoSend  bool      `json:"auto_send"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ActiveFollowupStatuses define "active" for the one-schedule-per-case
// invariant.
var ActiveFollowupStatuses = []string{
	FollowupStatusScheduled,
	FollowupStatusSent,
}
