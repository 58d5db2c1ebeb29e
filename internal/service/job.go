package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/events"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/storage"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	"github.com/gradebook/records-api/pkg/log"
	"github.com/gradebook/records-api/pkg/metrics"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// ProcessPath is the callback path of the process step of kind.
func ProcessPath(kind batch.Kind) string {
	return fmt.Sprintf("/api/v1/batch/%s/process", kind.Segment())
}

// IngestPath is the callback path of the ingestion step of kind.
func IngestPath(kind batch.Kind) string {
	return fmt.Sprintf("/api/v1/batch/%s/ingest", kind.Segment())
}

// ProcessRequest is the body of a process message.
type ProcessRequest struct {
	FileURL string `json:"fileUrl"`
	JobID   string `json:"jobId"`
}

type AckRequest struct {
	JobID    string
	Kind     batch.Kind
	FileURL  string
	FileName string
}

type UploadRequest struct {
	Kind        batch.Kind
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

type ListParams struct {
	Page   int
	Limit  int
	Search string
}

type JobPage struct {
	Jobs  []model.Job
	Total int64
	Page  int
	Limit int
}

func (p JobPage) TotalPages() int {
	if p.Limit == 0 {
		return 0
	}
	return int((p.Total + int64(p.Limit) - 1) / int64(p.Limit))
}

type PurgeResult struct {
	FilesDeleted int
	JobsUpdated  int64
	// Skipped counts jobs still pending or processing. Their file is kept.
	Skipped int
}

type JobService struct {
	store          store.Store
	storage        storage.ObjectStorage
	publisher      queue.Publisher
	processRetries int
	recorder       *jobRecorder
	logger         *log.StructuredLogger
}

func NewJobService(s store.Store, objects storage.ObjectStorage, publisher queue.Publisher, events EventWriter, processRetries int) *JobService {
	return &JobService{
		store:          s,
		storage:        objects,
		publisher:      publisher,
		processRetries: processRetries,
		recorder:       &jobRecorder{store: s, events: events},
		logger:         log.NewDebugLogger("job_service"),
	}
}

// Acknowledge creates the job of an uploaded file and publishes its process
// message. A publish failure fails the job.
func (s *JobService) Acknowledge(ctx context.Context, user auth.User, req AckRequest) (*model.Job, error) {
	tracer := s.logger.WithContext(ctx).
		Operation("acknowledge_upload").
		WithString("job_id", req.JobID).
		WithString("kind", req.Kind.String()).
		WithString("user_id", user.ID).
		Build()

	if req.JobID == "" || req.FileURL == "" {
		return nil, NewErrInvalidRequest("jobId and fileUrl are required")
	}
	if _, err := storage.ParseRef(req.FileURL); err != nil {
		return nil, NewErrInvalidRequest("%s", err)
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = path.Base(req.FileURL)
	}

	job, err := s.store.Job().Create(ctx, model.NewJob(req.JobID, req.Kind.String(), user.ID, fileName, req.FileURL))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, NewErrJobAlreadyExists(req.JobID)
		}
		tracer.Error(err).Log()
		return nil, err
	}
	metrics.IncreaseJobsCreatedMetric(req.Kind.String())
	s.recorder.emitJob(ctx, events.JobCreatedKind, job)
	tracer.Step("job_created").Log()

	body := ProcessRequest{FileURL: req.FileURL, JobID: req.JobID}
	if err := s.publisher.Publish(ctx, ProcessPath(req.Kind), body, queue.RetryPolicy{Retries: s.processRetries}); err != nil {
		failure := s.recorder.fail(ctx, req.JobID, req.Kind, "dispatch", err)
		tracer.Error(err).Log()
		return nil, failure
	}

	tracer.Success().Log()
	return job, nil
}

// Upload stores the file and acknowledges it under a new job id.
func (s *JobService) Upload(ctx context.Context, user auth.User, req UploadRequest) (*model.Job, error) {
	tracer := s.logger.WithContext(ctx).
		Operation("upload_file").
		WithString("file_name", req.FileName).
		WithString("kind", req.Kind.String()).
		Build()

	fileName := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	if fileName == "" || fileName == "." || fileName == "/" {
		return nil, NewErrInvalidRequest("file name is required")
	}

	jobID := uuid.NewString()
	key := path.Join(req.Kind.Segment(), user.ID, jobID, fileName)
	ref, err := s.storage.Put(ctx, key, req.Body, req.Size, req.ContentType)
	if err != nil {
		tracer.Error(err).Log()
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	tracer.Step("file_stored").WithString("file_url", ref).Log()

	return s.Acknowledge(ctx, user, AckRequest{JobID: jobID, Kind: req.Kind, FileURL: ref, FileName: fileName})
}

func (s *JobService) Get(ctx context.Context, user auth.User, id string) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	if !user.CanAccess(job.UserID) {
		return nil, NewErrJobForbidden(id)
	}
	return job, nil
}

// List pages through the jobs of user, newest first. Pages start at 1.
func (s *JobService) List(ctx context.Context, user auth.User, params ListParams) (*JobPage, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.Limit < 1 {
		params.Limit = DefaultPageLimit
	}
	params.Limit = min(params.Limit, MaxPageLimit)

	filter := store.NewJobQueryFilter().ByUserID(user.ID)
	if params.Search != "" {
		filter = filter.WithFileNameLike(params.Search)
	}

	total, err := s.store.Job().Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	opts := store.NewJobQueryOptions().
		NewestFirst().
		WithLimit(params.Limit).
		WithOffset((params.Page - 1) * params.Limit)
	jobs, err := s.store.Job().List(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	return &JobPage{Jobs: jobs, Total: total, Page: params.Page, Limit: params.Limit}, nil
}

// PurgeFiles deletes the stored files of jobs and flags them deleted. Jobs
// whose file is already gone are skipped; jobs the user may not access are
// ignored. Files that could not be deleted stay flagged as present and their
// errors are returned together.
func (s *JobService) PurgeFiles(ctx context.Context, user auth.User, ids []string) (*PurgeResult, error) {
	tracer := s.logger.WithContext(ctx).
		Operation("purge_files").
		WithInt("requested", len(ids)).
		Build()

	if len(ids) == 0 {
		return nil, NewErrInvalidRequest("job ids are required")
	}

	filter := store.NewJobQueryFilter().ByID(ids)
	if !user.IsAdmin() {
		filter = filter.ByUserID(user.ID)
	}
	jobs, err := s.store.Job().List(ctx, filter, nil)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}

	var (
		errs    *multierror.Error
		deleted []string
		purged  []model.Job
		skipped int
	)
	for _, job := range jobs {
		if job.FileDeleted {
			continue
		}
		if !job.Status.Terminal() {
			// a process redelivery still streams the file
			skipped++
			tracer.Step("job_not_terminal").WithString("job_id", job.ID).WithString("status", string(job.Status)).Log()
			continue
		}
		if err := s.storage.Delete(ctx, job.FileURL); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %s: %w", job.ID, err))
			continue
		}
		deleted = append(deleted, job.ID)
		purged = append(purged, job)
	}

	updated, err := s.store.Job().MarkFileDeleted(ctx, deleted)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for i := range purged {
		purged[i].FileDeleted = true
		s.recorder.emitJob(ctx, events.JobFileDeletedKind, &purged[i])
	}

	result := &PurgeResult{FilesDeleted: len(deleted), JobsUpdated: updated, Skipped: skipped}
	if err := errs.ErrorOrNil(); err != nil {
		tracer.Error(err).WithInt("files_deleted", result.FilesDeleted).Log()
		return result, err
	}
	tracer.Success().WithInt("files_deleted", result.FilesDeleted).WithInt("skipped", skipped).Log()
	return result, nil
}
