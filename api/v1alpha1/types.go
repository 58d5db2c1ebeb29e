// Package v1alpha1 holds the wire types of the records API.
package v1alpha1

import (
	"net/http"
	"time"

	"github.com/go-chi/render"
)

type Error struct {
	Message   string  `json:"message"`
	RequestId *string `json:"requestId,omitempty"`

	status int
}

func NewError(status int, message string, requestID *string) *Error {
	return &Error{Message: message, RequestId: requestID, status: status}
}

func (e *Error) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.status)
	return nil
}

// AckUploadRequest notifies the service that a file was stored.
type AckUploadRequest struct {
	JobId    string `json:"jobId" validate:"required,max=255"`
	Kind     string `json:"type" validate:"required,upload_kind"`
	FileUrl  string `json:"fileUrl" validate:"required,storage_ref"`
	FileName string `json:"fileName,omitempty" validate:"max=255"`
}

func (a *AckUploadRequest) Bind(r *http.Request) error {
	return nil
}

type AckUploadResponse struct {
	Message   string `json:"message"`
	JobId     string `json:"jobId"`
	JobStatus string `json:"jobStatus"`
}

func (a AckUploadResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusAccepted)
	return nil
}

type JobError struct {
	Message        string            `json:"message"`
	Classification string            `json:"classification"`
	Context        string            `json:"context,omitempty"`
	Detail         map[string]string `json:"detail,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

type Job struct {
	Id            string    `json:"id"`
	Kind          string    `json:"type"`
	FileUrl       string    `json:"fileUrl"`
	FileName      string    `json:"fileName"`
	Status        string    `json:"status"`
	TotalRows     int       `json:"totalRows"`
	ProcessedRows int       `json:"processedRows"`
	FileDeleted   bool      `json:"fileDeleted"`
	Error         *JobError `json:"errorDetails,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (j Job) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type JobList struct {
	Jobs       []Job `json:"jobs"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

func (j JobList) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

type PurgeFilesRequest struct {
	JobIds []string `json:"jobIds" validate:"required,min=1,max=100,dive,required"`
}

func (p *PurgeFilesRequest) Bind(r *http.Request) error {
	return nil
}

type PurgeFilesResponse struct {
	Success      bool   `json:"success"`
	FilesDeleted int    `json:"filesDeleted"`
	JobsUpdated  int64  `json:"jobsUpdated"`
	JobsSkipped  int    `json:"jobsSkipped"`
	Error        string `json:"error,omitempty"`
}

func (p PurgeFilesResponse) Render(w http.ResponseWriter, r *http.Request) error {
	if !p.Success {
		render.Status(r, http.StatusInternalServerError)
	}
	return nil
}

// ProcessResponse answers a process callback.
type ProcessResponse struct {
	Success   bool   `json:"success"`
	JobId     string `json:"jobId"`
	TotalRows int    `json:"totalRows"`
}

func (p ProcessResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// IngestResponse answers an ingest callback.
type IngestResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	InsertedCount int    `json:"insertedCount"`
}

func (i IngestResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// FailureResponse answers a callback whose job was failed. It is sent with a
// 4xx status so the queue does not redeliver the message.
type FailureResponse struct {
	Success        bool   `json:"success"`
	Error          string `json:"error"`
	Classification string `json:"classification"`
	JobId          string `json:"jobId"`
}

func (f FailureResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusUnprocessableEntity)
	return nil
}

type Health struct {
	Status string `json:"status"`
}

func (h Health) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}
