package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/events"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	"github.com/gradebook/records-api/pkg/metrics"
	"go.uber.org/zap"
)

const (
	ClassUniqueViolation     = "unique_violation"
	ClassForeignKeyViolation = "foreign_key_violation"
	ClassRecordNotFound      = "record_not_found"
	ClassValidation          = "validation_error"
	ClassUnknownStorage      = "unknown_storage_error"
	ClassTransport           = "transport_error"
	ClassError               = "error"
)

// Failure is the operator-facing description of why a job failed.
type Failure struct {
	Message        string
	Classification string
	Context        string
	Detail         map[string]string
	Timestamp      time.Time
}

func (f Failure) JobError() model.JobError {
	return model.JobError{
		Message:        f.Message,
		Classification: f.Classification,
		Context:        f.Context,
		Detail:         f.Detail,
		Timestamp:      f.Timestamp,
	}
}

// Classify maps err to a Failure. stage names the step that failed.
func Classify(err error, stage string) Failure {
	f := Failure{Context: stage, Timestamp: time.Now().UTC()}

	var (
		uniqueErr  *store.UniqueViolationError
		fkErr      *store.ForeignKeyViolationError
		unknownErr *store.UnknownError
		headerErr  *batch.HeaderError
		rowErr     *batch.ValidationError
		fetchErr   *batch.FetchError
		publishErr *queue.PublishError
	)
	switch {
	case errors.As(err, &uniqueErr):
		f.Classification = ClassUniqueViolation
		f.Message = "duplicate " + strings.Join(uniqueErr.Columns, ", ") + " entry detected"
		f.Detail = map[string]string{"table": uniqueErr.Table, "columns": strings.Join(uniqueErr.Columns, ",")}
	case errors.As(err, &fkErr):
		f.Classification = ClassForeignKeyViolation
		f.Message = "foreign key constraint failed - " + fkErr.Reference + " not found"
		f.Detail = map[string]string{"table": fkErr.Table, "reference": fkErr.Reference}
	case errors.Is(err, store.ErrRecordNotFound):
		f.Classification = ClassRecordNotFound
		f.Message = "record not found"
	case errors.As(err, &headerErr):
		f.Classification = ClassValidation
		f.Message = headerErr.Error()
		if headerErr.Column != "" {
			f.Detail = map[string]string{"column": headerErr.Column}
		}
	case errors.As(err, &rowErr):
		f.Classification = ClassValidation
		f.Message = rowErr.Error()
		f.Detail = map[string]string{"row": strconv.Itoa(rowErr.Row), "column": rowErr.Column}
	case errors.As(err, &unknownErr):
		f.Classification = ClassUnknownStorage
		f.Message = "unknown storage error"
		f.Detail = map[string]string{"table": unknownErr.Table, "error": unknownErr.Raw.Error()}
	case errors.As(err, &fetchErr), errors.As(err, &publishErr):
		f.Classification = ClassTransport
		f.Message = err.Error()
	default:
		f.Classification = ClassError
		f.Message = err.Error()
	}
	return f
}

// FailureError is returned by operations that failed a job.
type FailureError struct {
	JobID   string
	Failure Failure
	Err     error
}

func (e *FailureError) Error() string {
	return e.Failure.Message
}

func (e *FailureError) Unwrap() error { return e.Err }

// jobRecorder owns the side effects of job transitions: the failure detail,
// metrics and lifecycle events.
type jobRecorder struct {
	store  store.Store
	events EventWriter
}

// EventWriter is satisfied by *events.EventProducer.
type EventWriter interface {
	Write(ctx context.Context, kind string, payload any) error
}

func (r *jobRecorder) fail(ctx context.Context, jobID string, kind batch.Kind, stage string, cause error) *FailureError {
	failure := Classify(cause, kind.Stage(stage))
	failed, err := r.store.Job().MarkFailed(ctx, jobID, failure.JobError())
	if err != nil {
		zap.S().Named("job_recorder").Errorw("failed to record job failure", "job_id", jobID, "error", err, "cause", cause)
	}
	if failed {
		metrics.IncreaseJobsFailedMetric(kind.String(), failure.Classification)
		r.emit(ctx, events.JobFailedKind, events.JobEvent{
			JobID:          jobID,
			Kind:           kind.String(),
			Status:         string(model.JobStatusFailed),
			Classification: failure.Classification,
			Message:        failure.Message,
		})
	}
	return &FailureError{JobID: jobID, Failure: failure, Err: cause}
}

func (r *jobRecorder) emitJob(ctx context.Context, eventKind string, job *model.Job) {
	r.emit(ctx, eventKind, events.JobEvent{
		JobID:         job.ID,
		Kind:          job.Kind,
		UserID:        job.UserID,
		Status:        string(job.Status),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
	})
}

func (r *jobRecorder) completed(ctx context.Context, job *model.Job) {
	metrics.IncreaseJobsCompletedMetric(job.Kind)
	r.emitJob(ctx, events.JobCompletedKind, job)
}

func (r *jobRecorder) emit(ctx context.Context, kind string, ev events.JobEvent) {
	if r.events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := r.events.Write(ctx, kind, ev); err != nil {
		zap.S().Named("job_recorder").Errorw("failed to write event", "error", err, "event_kind", kind)
	}
}
