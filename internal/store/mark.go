package store

import (
	"context"
	"fmt"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

type Mark interface {
	CreateMany(ctx context.Context, marks []model.Mark) error
	List(ctx context.Context, filter *RecordQueryFilter) ([]model.Mark, error)
}

type MarkStore struct {
	db *gorm.DB
}

var _ Mark = (*MarkStore)(nil)

func NewMarkStore(db *gorm.DB) Mark {
	return &MarkStore{db: db}
}

func (s *MarkStore) CreateMany(ctx context.Context, marks []model.Mark) error {
	if len(marks) == 0 {
		return nil
	}
	// Omit the association so gorm never upserts students from a mark.
	err := s.getDB(ctx).Omit("Student").CreateInBatches(&marks, batchSize).Error
	return writeError(err, "marks", "students.roll_no", "student_roll_no", "exam")
}

func (s *MarkStore) List(ctx context.Context, filter *RecordQueryFilter) ([]model.Mark, error) {
	var marks []model.Mark
	tx := s.getDB(ctx).Model(&model.Mark{}).Order("student_roll_no").Order("exam")
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Find(&marks).Error; err != nil {
		return nil, fmt.Errorf("listing marks: %w", err)
	}
	return marks, nil
}

func (s *MarkStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
