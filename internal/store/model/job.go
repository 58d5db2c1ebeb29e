package model

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further progress is accepted for the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobError is the structured failure stored on a failed job.
type JobError struct {
	Message        string            `json:"message"`
	Classification string            `json:"classification"`
	Context        string            `json:"context,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

type Job struct {
	ID              string                         `gorm:"primaryKey;type:VARCHAR(255)"`
	FileURL         string                         `gorm:"not null"`
	FileName        string                         `gorm:"not null;default:''"`
	Kind            string                         `gorm:"not null;type:VARCHAR(50)"`
	UserID          string                         `gorm:"not null;index;type:VARCHAR(255)"`
	TotalRows       int                            `gorm:"not null;default:0"`
	ProcessedRows   int                            `gorm:"not null;default:0"`
	ProcessedRowIDs datatypes.JSONSlice[string]    `gorm:"column:processed_row_ids"`
	Status          JobStatus                      `gorm:"not null;index;type:VARCHAR(20)"`
	ErrorDetail     *datatypes.JSONType[JobError]  `gorm:"column:error_detail"`
	FileDeleted     bool                           `gorm:"not null;default:false"`
	CreatedAt       time.Time                      `gorm:"not null;index"`
	UpdatedAt       time.Time
}

func NewJob(id, kind, userID, fileName, fileURL string) Job {
	return Job{
		ID:              id,
		Kind:            kind,
		UserID:          userID,
		FileName:        fileName,
		FileURL:         fileURL,
		Status:          JobStatusPending,
		ProcessedRowIDs: datatypes.JSONSlice[string]{},
	}
}

// Advance merges row keys into the processed set and returns the keys that
// were not already present. Duplicates inside keys are collapsed. A terminal
// job is left untouched. The job completes when the processed count reaches a
// known, non-zero total.
func (j *Job) Advance(keys []string) []string {
	if j.Status.Terminal() {
		return nil
	}

	seen := j.ProcessedSet()

	accepted := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, found := seen[k]; found {
			continue
		}
		seen[k] = struct{}{}
		accepted = append(accepted, k)
	}

	j.ProcessedRowIDs = append(j.ProcessedRowIDs, accepted...)
	j.ProcessedRows += len(accepted)
	if j.Status == JobStatusPending {
		j.Status = JobStatusProcessing
	}
	if j.TotalRows > 0 && j.ProcessedRows == j.TotalRows {
		j.Status = JobStatusCompleted
	}
	return accepted
}

// SetTotal records the row count found by the streamer. Rows ingested before
// the total was known are taken into account, including the empty file case.
func (j *Job) SetTotal(total int) {
	j.TotalRows = total
	if j.Status == JobStatusProcessing && j.ProcessedRows == total {
		j.Status = JobStatusCompleted
	}
}

func (j *Job) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(j.ProcessedRowIDs))
	for _, k := range j.ProcessedRowIDs {
		set[k] = struct{}{}
	}
	return set
}

func (j *Job) Failure() *JobError {
	if j.ErrorDetail == nil {
		return nil
	}
	detail := j.ErrorDetail.Data()
	return &detail
}
