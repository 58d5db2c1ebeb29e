package store

import (
	"context"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Student() Student
	User() User
	Subject() Subject
	Mark() Mark
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db      *gorm.DB
	job     Job
	student Student
	user    User
	subject Subject
	mark    Mark
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:      db,
		job:     NewJobStore(db),
		student: NewStudentStore(db),
		user:    NewUserStore(db),
		subject: NewSubjectStore(db),
		mark:    NewMarkStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Student() Student {
	return s.student
}

func (s *DataStore) User() User {
	return s.user
}

func (s *DataStore) Subject() Subject {
	return s.subject
}

func (s *DataStore) Mark() Mark {
	return s.mark
}

// InitialMigration creates the schema from the models. Postgres deployments
// use the SQL migrations instead.
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.Job{},
		&model.Student{},
		&model.User{},
		&model.Subject{},
		&model.Mark{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
