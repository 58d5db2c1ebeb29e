package events

import "time"

// JobEvent is the payload of every job lifecycle event.
type JobEvent struct {
	JobID          string    `json:"job_id"`
	Kind           string    `json:"kind"`
	UserID         string    `json:"user_id,omitempty"`
	Status         string    `json:"status"`
	TotalRows      int       `json:"total_rows"`
	ProcessedRows  int       `json:"processed_rows"`
	Classification string    `json:"classification,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
