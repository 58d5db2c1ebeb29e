package store

import (
	"strings"
	"time"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type JobQueryFilter BaseQuerier

func NewJobQueryFilter() *JobQueryFilter {
	return &JobQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *JobQueryFilter) ByUserID(userID string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("user_id = ?", userID)
	})
	return f
}

func (f *JobQueryFilter) ByID(ids []string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id IN ?", ids)
	})
	return f
}

func (f *JobQueryFilter) ByStatus(statuses ...model.JobStatus) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status IN ?", statuses)
	})
	return f
}

func (f *JobQueryFilter) UpdatedBefore(t time.Time) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("updated_at < ?", t)
	})
	return f
}

// WithFileNameLike matches case-insensitively on every supported database.
func (f *JobQueryFilter) WithFileNameLike(pattern string) *JobQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("LOWER(file_name) LIKE ?", "%"+strings.ToLower(pattern)+"%")
	})
	return f
}

type JobQueryOptions BaseQuerier

func NewJobQueryOptions() *JobQueryOptions {
	return &JobQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *JobQueryOptions) WithLimit(limit int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *JobQueryOptions) WithOffset(offset int) *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}

func (o *JobQueryOptions) NewestFirst() *JobQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at DESC").Order("id")
	})
	return o
}

type RecordQueryFilter BaseQuerier

func NewRecordQueryFilter() *RecordQueryFilter {
	return &RecordQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (f *RecordQueryFilter) ByJobID(jobID string) *RecordQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("job_id = ?", jobID)
	})
	return f
}

func (f *RecordQueryFilter) ByClass(class, section string) *RecordQueryFilter {
	f.QueryFn = append(f.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("class = ? AND section = ?", class, section)
	})
	return f
}

func applyQuery(tx *gorm.DB, fns ...[]func(*gorm.DB) *gorm.DB) *gorm.DB {
	for _, group := range fns {
		for _, fn := range group {
			tx = fn(tx)
		}
	}
	return tx
}
