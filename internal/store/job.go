package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id string) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) ([]model.Job, error)
	Count(ctx context.Context, filter *JobQueryFilter) (int64, error)
	CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error)
	// CountStale counts unfinished jobs not updated since before.
	CountStale(ctx context.Context, before time.Time) (int64, error)
	// Lock reads the job and holds its row lock until the transaction in ctx ends.
	Lock(ctx context.Context, id string) (*model.Job, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	SetTotalRows(ctx context.Context, id string, total int) (*model.Job, error)
	AdvanceProgress(ctx context.Context, id string, rowKeys []string) (*model.Job, []string, error)
	MarkFailed(ctx context.Context, id string, detail model.JobError) (bool, error)
	MarkFileDeleted(ctx context.Context, ids []string) (int64, error)
}

type JobStore struct {
	db *gorm.DB
}

var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ProcessedRowIDs == nil {
		job.ProcessedRowIDs = datatypes.JSONSlice[string]{}
	}
	if err := s.getDB(ctx).Create(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := s.getDB(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) ([]model.Job, error) {
	var jobs []model.Job
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if opts != nil {
		tx = applyQuery(tx, opts.QueryFn)
	}
	if err := tx.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) Count(ctx context.Context, filter *JobQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return count, nil
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int64, error) {
	var rows []struct {
		Status model.JobStatus
		Total  int64
	}
	err := s.getDB(ctx).Model(&model.Job{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := map[model.JobStatus]int64{
		model.JobStatusPending:    0,
		model.JobStatusProcessing: 0,
		model.JobStatusCompleted:  0,
		model.JobStatusFailed:     0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

func (s *JobStore) CountStale(ctx context.Context, before time.Time) (int64, error) {
	filter := NewJobQueryFilter().
		ByStatus(model.JobStatusPending, model.JobStatusProcessing).
		UpdatedBefore(before)
	return s.Count(ctx, filter)
}

func (s *JobStore) Lock(ctx context.Context, id string) (*model.Job, error) {
	tx := FromContext(ctx)
	if tx == nil {
		return nil, errors.New("locking a job requires a transaction")
	}
	return lockJob(tx, id)
}

func (s *JobStore) MarkProcessing(ctx context.Context, id string) (bool, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusPending).
		Updates(map[string]any{"status": model.JobStatusProcessing, "updated_at": time.Now()})
	if result.Error != nil {
		return false, fmt.Errorf("marking job processing: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *JobStore) SetTotalRows(ctx context.Context, id string, total int) (*model.Job, error) {
	var updated *model.Job
	err := s.locked(ctx, id, func(tx *gorm.DB, job *model.Job) error {
		job.SetTotal(total)
		updated = job
		return tx.Model(&model.Job{}).Where("id = ?", id).Updates(map[string]any{
			"total_rows": job.TotalRows,
			"status":     job.Status,
			"updated_at": time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AdvanceProgress is the only writer of the progress columns. It runs in the
// transaction carried by ctx, or in its own one, with the job row locked.
func (s *JobStore) AdvanceProgress(ctx context.Context, id string, rowKeys []string) (*model.Job, []string, error) {
	var (
		updated  *model.Job
		accepted []string
	)
	err := s.locked(ctx, id, func(tx *gorm.DB, job *model.Job) error {
		before := job.Status
		accepted = job.Advance(rowKeys)
		updated = job
		if len(accepted) == 0 && before == job.Status {
			return nil
		}
		return tx.Model(&model.Job{}).Where("id = ?", id).Updates(map[string]any{
			"processed_row_ids": job.ProcessedRowIDs,
			"processed_rows":    job.ProcessedRows,
			"status":            job.Status,
			"updated_at":        time.Now(),
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, accepted, nil
}

// MarkFailed records the first failure of a job. Completed and failed jobs
// are left unchanged and false is returned.
func (s *JobStore) MarkFailed(ctx context.Context, id string, detail model.JobError) (bool, error) {
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status NOT IN ?", id, []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed}).
		Updates(map[string]any{
			"status":       model.JobStatusFailed,
			"error_detail": datatypes.NewJSONType(detail),
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("marking job failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *JobStore) MarkFileDeleted(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id IN ? AND file_deleted = ?", ids, false).
		Updates(map[string]any{"file_deleted": true, "updated_at": time.Now()})
	if result.Error != nil {
		return 0, fmt.Errorf("marking job files deleted: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *JobStore) locked(ctx context.Context, id string, fn func(tx *gorm.DB, job *model.Job) error) error {
	run := func(tx *gorm.DB) error {
		job, err := lockJob(tx, id)
		if err != nil {
			return err
		}
		return fn(tx, job)
	}
	if tx := FromContext(ctx); tx != nil {
		return run(tx)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

func lockJob(tx *gorm.DB, id string) (*model.Job, error) {
	var job model.Job
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("locking job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
