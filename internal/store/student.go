package store

import (
	"context"
	"fmt"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

const batchSize = 150

type Student interface {
	CreateMany(ctx context.Context, students []model.Student) error
	List(ctx context.Context, filter *RecordQueryFilter) ([]model.Student, error)
}

type StudentStore struct {
	db *gorm.DB
}

var _ Student = (*StudentStore)(nil)

func NewStudentStore(db *gorm.DB) Student {
	return &StudentStore{db: db}
}

func (s *StudentStore) CreateMany(ctx context.Context, students []model.Student) error {
	if len(students) == 0 {
		return nil
	}
	err := s.getDB(ctx).CreateInBatches(&students, batchSize).Error
	return writeError(err, "students", "", "roll_no")
}

func (s *StudentStore) List(ctx context.Context, filter *RecordQueryFilter) ([]model.Student, error) {
	var students []model.Student
	tx := s.getDB(ctx).Model(&model.Student{}).Order("roll_no")
	if filter != nil {
		tx = applyQuery(tx, filter.QueryFn)
	}
	if err := tx.Find(&students).Error; err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	return students, nil
}

func (s *StudentStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
