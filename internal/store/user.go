package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/gradebook/records-api/internal/store/model"
	"gorm.io/gorm"
)

type User interface {
	CreateMany(ctx context.Context, users []model.User) error
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

type UserStore struct {
	db *gorm.DB
}

var _ User = (*UserStore)(nil)

func NewUserStore(db *gorm.DB) User {
	return &UserStore{db: db}
}

func (s *UserStore) CreateMany(ctx context.Context, users []model.User) error {
	if len(users) == 0 {
		return nil
	}
	err := s.getDB(ctx).CreateInBatches(&users, batchSize).Error
	return writeError(err, "users", "", "username")
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.getDB(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return &user, nil
}

func (s *UserStore) getDB(ctx context.Context) *gorm.DB {
	if tx := FromContext(ctx); tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}
