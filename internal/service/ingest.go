package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	"github.com/gradebook/records-api/pkg/log"
	"github.com/gradebook/records-api/pkg/metrics"
)

type IngestResult struct {
	Message       string
	InsertedCount int
	// IDs holds the ids of the subjects written.
	IDs []string
}

// IngestService writes chunks and accounts for them in the same transaction,
// so a redelivered chunk finds its keys already processed and writes nothing.
type IngestService struct {
	store        store.Store
	passwordCost int
	recorder     *jobRecorder
	logger       *log.StructuredLogger
}

func NewIngestService(s store.Store, events EventWriter) *IngestService {
	return &IngestService{
		store:        s,
		passwordCost: bcrypt.DefaultCost,
		recorder:     &jobRecorder{store: s, events: events},
		logger:       log.NewDebugLogger("ingest_service"),
	}
}

// WithPasswordCost sets the bcrypt cost of student passwords.
func (s *IngestService) WithPasswordCost(cost int) *IngestService {
	s.passwordCost = cost
	return s
}

func (s *IngestService) IngestStudents(ctx context.Context, jobID string, rows []batch.StudentRow) (*IngestResult, error) {
	return ingest(ctx, s, batch.KindStudent, jobID, rows, func(ctx context.Context, fresh []batch.StudentRow) ([]string, error) {
		students := make([]model.Student, 0, len(fresh))
		for _, r := range fresh {
			students = append(students, model.Student{
				RollNo:  r.RollNo,
				Name:    r.Name,
				Class:   r.Class,
				Section: r.Section,
				JobID:   jobID,
			})
		}
		users, err := s.studentUsers(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if err := s.store.Student().CreateMany(ctx, students); err != nil {
			return nil, err
		}
		if err := s.store.User().CreateMany(ctx, users); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *IngestService) IngestSubjects(ctx context.Context, jobID string, rows []batch.SubjectRow) (*IngestResult, error) {
	return ingest(ctx, s, batch.KindSubject, jobID, rows, func(ctx context.Context, fresh []batch.SubjectRow) ([]string, error) {
		subjects := make([]model.Subject, 0, len(fresh))
		for _, r := range fresh {
			subjects = append(subjects, model.Subject{
				ID:       model.SubjectID(r.Name, r.Class, r.Section),
				Name:     strings.ToUpper(r.Name),
				Class:    r.Class,
				Section:  r.Section,
				MaxMarks: r.MaxMarks,
				JobID:    jobID,
			})
		}
		return s.store.Subject().CreateMany(ctx, subjects)
	})
}

func (s *IngestService) IngestMarks(ctx context.Context, jobID string, rows []batch.MarkRow) (*IngestResult, error) {
	return ingest(ctx, s, batch.KindMark, jobID, rows, func(ctx context.Context, fresh []batch.MarkRow) ([]string, error) {
		marks := make([]model.Mark, 0, len(fresh))
		for _, r := range fresh {
			marks = append(marks, model.Mark{
				ID:            uuid.NewString(),
				StudentRollNo: r.RollNo,
				Exam:          r.Exam,
				Scores:        datatypes.NewJSONType(r.Scores),
				JobID:         jobID,
			})
		}
		return nil, s.store.Mark().CreateMany(ctx, marks)
	})
}

// RejectChunk fails the job of a chunk whose rows do not validate. Nothing of
// the chunk is written.
func (s *IngestService) RejectChunk(ctx context.Context, kind batch.Kind, jobID string, cause error) error {
	job, err := s.store.Job().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return NewErrJobNotFound(jobID)
		}
		return err
	}
	if job.Kind != kind.String() {
		return NewErrKindMismatch(jobID, job.Kind, kind.String())
	}
	s.logger.WithContext(ctx).
		Operation("reject_chunk").
		WithString("job_id", jobID).
		WithString("kind", kind.String()).
		Build().
		Error(cause).
		Log()
	return s.recorder.fail(ctx, jobID, kind, "ingestion", cause)
}

// studentUsers builds one login per student. The roll number is both the
// username and the initial password.
func (s *IngestService) studentUsers(ctx context.Context, rows []batch.StudentRow) ([]model.User, error) {
	users := make([]model.User, len(rows))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, r := range rows {
		i, r := i, r
		g.Go(func() error {
			hash, err := bcrypt.GenerateFromPassword([]byte(r.RollNo), s.passwordCost)
			if err != nil {
				return fmt.Errorf("failed to hash password of %s: %w", r.RollNo, err)
			}
			users[i] = model.User{
				ID:       uuid.NewString(),
				Username: r.RollNo,
				Password: string(hash),
				Role:     model.RoleStudent,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return users, nil
}

func ingest[R keyed](ctx context.Context, s *IngestService, kind batch.Kind, jobID string, rows []R, write func(ctx context.Context, fresh []R) ([]string, error)) (*IngestResult, error) {
	tracer := s.logger.WithContext(ctx).
		Operation("ingest_chunk").
		WithString("job_id", jobID).
		WithString("kind", kind.String()).
		WithInt("rows", len(rows)).
		Build()

	txCtx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}
	defer func() { _, _ = store.Rollback(txCtx) }()

	job, err := s.store.Job().Lock(txCtx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		_, _ = store.Rollback(txCtx)
		tracer.Error(err).Log()
		return nil, s.recorder.fail(ctx, jobID, kind, "ingestion", err)
	}
	if job.Kind != kind.String() {
		return nil, NewErrKindMismatch(jobID, job.Kind, kind.String())
	}
	if job.Status.Terminal() {
		tracer.Step("job_terminal").WithString("status", string(job.Status)).Log()
		return &IngestResult{Message: fmt.Sprintf("job is %s, chunk ignored", job.Status)}, nil
	}

	processed := job.ProcessedSet()
	fresh := make([]R, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, done := processed[r.Key()]; done {
			continue
		}
		processed[r.Key()] = struct{}{}
		fresh = append(fresh, r)
		keys = append(keys, r.Key())
	}
	if redelivered := len(rows) - len(fresh); redelivered > 0 {
		metrics.AddRowsSkippedMetric(kind.String(), redelivered)
		tracer.Step("rows_already_processed").WithInt("count", redelivered).Log()
	}

	var ids []string
	if len(fresh) > 0 {
		if ids, err = write(txCtx, fresh); err != nil {
			// the failure is recorded outside the aborted transaction
			_, _ = store.Rollback(txCtx)
			tracer.Error(err).Log()
			return nil, s.recorder.fail(ctx, jobID, kind, "ingestion", err)
		}
	}

	updated, accepted, err := s.store.Job().AdvanceProgress(txCtx, jobID, keys)
	if err != nil {
		_, _ = store.Rollback(txCtx)
		tracer.Error(err).Log()
		return nil, s.recorder.fail(ctx, jobID, kind, "ingestion", err)
	}
	if _, err := store.Commit(txCtx); err != nil {
		_, _ = store.Rollback(txCtx)
		tracer.Error(err).Log()
		return nil, s.recorder.fail(ctx, jobID, kind, "ingestion", err)
	}

	metrics.AddRowsIngestedMetric(kind.String(), len(accepted))
	if len(accepted) > 0 && updated.Status == model.JobStatusCompleted {
		s.recorder.completed(ctx, updated)
	}

	tracer.Success().
		WithInt("inserted", len(fresh)).
		WithInt("processed_rows", updated.ProcessedRows).
		WithString("status", string(updated.Status)).
		Log()
	return &IngestResult{
		Message:       fmt.Sprintf("%d %s rows inserted", len(fresh), kind.Segment()),
		InsertedCount: len(fresh),
		IDs:           ids,
	}, nil
}
