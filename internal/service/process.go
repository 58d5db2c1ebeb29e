package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/events"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	"github.com/gradebook/records-api/pkg/log"
	"github.com/gradebook/records-api/pkg/metrics"
)

// IngestRequest is the body of a chunk message.
type IngestRequest[R any] struct {
	JobID string `json:"jobId"`
	Rows  []R    `json:"rows"`
}

type keyed interface {
	Key() string
}

type ProcessOptions struct {
	ChunkSize    int
	Policy       batch.RowPolicy
	ChunkRetries int
}

// ProcessService streams an uploaded file and publishes its chunks.
type ProcessService struct {
	store     store.Store
	opener    batch.Opener
	publisher queue.Publisher
	opts      ProcessOptions
	recorder  *jobRecorder
	logger    *log.StructuredLogger
}

func NewProcessService(s store.Store, opener batch.Opener, publisher queue.Publisher, events EventWriter, opts ProcessOptions) *ProcessService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = batch.DefaultChunkSize
	}
	if opts.Policy == "" {
		opts.Policy = batch.FailFast
	}
	return &ProcessService{
		store:     s,
		opener:    opener,
		publisher: publisher,
		opts:      opts,
		recorder:  &jobRecorder{store: s, events: events},
		logger:    log.NewDebugLogger("process_service"),
	}
}

// Process dispatches the rows of the job's file and records the row total.
// A job that already left pending is a redelivery and is acknowledged with
// its current total. Any failure marks the job failed and is returned as a
// *FailureError.
func (s *ProcessService) Process(ctx context.Context, kind batch.Kind, req ProcessRequest) (int, error) {
	tracer := s.logger.WithContext(ctx).
		Operation("process_file").
		WithString("job_id", req.JobID).
		WithString("kind", kind.String()).
		Build()

	job, err := s.store.Job().Get(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return 0, NewErrJobNotFound(req.JobID)
		}
		tracer.Error(err).Log()
		return 0, err
	}
	if job.Kind != kind.String() {
		return 0, NewErrKindMismatch(job.ID, job.Kind, kind.String())
	}

	started, err := s.store.Job().MarkProcessing(ctx, job.ID)
	if err != nil {
		tracer.Error(err).Log()
		return 0, err
	}
	if !started {
		tracer.Step("redelivery_ignored").WithString("status", string(job.Status)).Log()
		return job.TotalRows, nil
	}
	job.Status = model.JobStatusProcessing
	s.recorder.emitJob(ctx, events.JobProcessingKind, job)

	fileURL := req.FileURL
	if fileURL == "" {
		fileURL = job.FileURL
	}

	var result batch.StreamResult
	switch kind {
	case batch.KindStudent:
		result, err = dispatch[batch.StudentRow](ctx, s, kind, job.ID, fileURL, batch.StudentCodec{})
	case batch.KindSubject:
		result, err = dispatch[batch.SubjectRow](ctx, s, kind, job.ID, fileURL, batch.SubjectCodec{})
	case batch.KindMark:
		result, err = dispatch[batch.MarkRow](ctx, s, kind, job.ID, fileURL, batch.MarkCodec{})
	default:
		err = fmt.Errorf("unsupported kind %s", kind)
	}
	if err != nil {
		tracer.Error(err).WithInt("chunks_published", result.Chunks).Log()
		return result.Rows, s.recorder.fail(ctx, job.ID, kind, "csv_processing", err)
	}
	tracer.Step("stream_drained").
		WithInt("rows", result.Rows).
		WithInt("chunks", result.Chunks).
		WithInt("skipped", result.Skipped).
		Log()

	updated, err := s.store.Job().SetTotalRows(ctx, job.ID, result.Rows)
	if err != nil {
		tracer.Error(err).Log()
		return result.Rows, s.recorder.fail(ctx, job.ID, kind, "csv_processing", err)
	}
	if updated.Status == model.JobStatusCompleted {
		s.recorder.completed(ctx, updated)
	}

	tracer.Success().WithInt("total_rows", result.Rows).WithString("status", string(updated.Status)).Log()
	return result.Rows, nil
}

func dispatch[R keyed](ctx context.Context, s *ProcessService, kind batch.Kind, jobID, fileURL string, codec batch.Codec[R]) (batch.StreamResult, error) {
	path := IngestPath(kind)
	policy := queue.RetryPolicy{Retries: s.opts.ChunkRetries}
	streamOpts := batch.StreamOptions{ChunkSize: s.opts.ChunkSize, Policy: s.opts.Policy}

	return batch.StreamChunks[R](ctx, s.opener, fileURL, uniqueKeys[R]{Codec: codec, seen: map[string]int{}}, streamOpts,
		func(ctx context.Context, rows []R) error {
			if err := s.publisher.Publish(ctx, path, IngestRequest[R]{JobID: jobID, Rows: rows}, policy); err != nil {
				return err
			}
			metrics.IncreaseChunksPublishedMetric(kind.String())
			return nil
		})
}

// uniqueKeys rejects a row whose natural key already appeared in the file.
// Accounting deduplicates by key, so a repeated key could otherwise never
// be counted and the job would not complete.
type uniqueKeys[R keyed] struct {
	batch.Codec[R]
	seen map[string]int
}

func (u uniqueKeys[R]) Decode(rec batch.Record) (R, error) {
	row, err := u.Codec.Decode(rec)
	if err != nil {
		return row, err
	}
	if first, dup := u.seen[row.Key()]; dup {
		return row, &batch.ValidationError{
			Row:    rec.Row,
			Column: "key",
			Reason: fmt.Sprintf("%q repeats row %d", row.Key(), first),
		}
	}
	u.seen[row.Key()] = rec.Row
	return row, nil
}
