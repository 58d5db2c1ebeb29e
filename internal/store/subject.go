package store

import (
	"context"
	"fmt"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

type Subject interface {
	// CreateMany inserts subjects and returns their ids in input order.
	CreateMany(ctx context.Context, subjects []model.Subject) ([]string, error)
	List(ctx context.Context, filter *RecordQueryFilter) ([]model.Subject, error)
}

type SubjectStore struct {
	db *gorm.DB
}

var _ Subject = (*SubjectStore)(nil)

func NewSubjectStore(db *gorm.DB) Subject {
	return &SubjectStore{db: db}
}

func (s *SubjectStore) CreateMany(ctx context.Context, subjects []model.Subject) ([]string, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	if err := s.getDB(ctx).CreateInBatches(&subjects, batchSize).Error; err != nil {
		return nil, writeError(err, "subjects", "", "name", "class", "section")
	}
	ids := make([]string, 0, len(subjects))
	for _, subject := range subjects {
		ids = append(ids, subject.ID)
	}
	return ids, nil
}

func (s *SubjectStore) List(ctx context.Context, filter *RecordQueryFilter) ([]model.Subject, error) {
	var subjects []model.Subject
	tx := s.getDB(ctx).Model(&model.Subject{}).Order("name")
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Find(&subjects).Error; err != nil {
		return nil, fmt.Errorf("listing subjects: %w", err)
	}
	return subjects, nil
}

func (s *SubjectStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
