package auth

import (
	"context"

	"go.uber.org/zap"
)

const (
	RoleAdmin   = "ADMIN"
	RoleTeacher = "TEACHER"
	RoleStudent = "STUDENT"
)

type userKeyType struct{}

var (
	userKey userKeyType
)

type User struct {
	ID       string
	Username string
	Role     string
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccess reports whether u may read or modify a resource owned by ownerID.
func (u User) CanAccess(ownerID string) bool {
	return u.IsAdmin() || u.ID == ownerID
}

func UserFromContext(ctx context.Context) (User, bool) {
	val := ctx.Value(userKey)
	if val == nil {
		return User{}, false
	}
	return val.(User), true
}

func MustHaveUser(ctx context.Context) User {
	user, found := UserFromContext(ctx)
	if !found {
		zap.S().Named("auth").Panic("failed to find user in context")
	}
	return user
}

func NewUserContext(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userKey, u)
}
