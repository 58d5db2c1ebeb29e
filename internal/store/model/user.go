package model

import "time"

const RoleStudent = "STUDENT"

// User is a login credential. Students get one per roll number.
type User struct {
	ID        string    `gorm:"primaryKey;type:VARCHAR(36)"`
	Username  string    `gorm:"uniqueIndex;not null;type:VARCHAR(256)"`
	Password  string    `gorm:"not null"`
	Role      string    `gorm:"not null;type:VARCHAR(20)"`
	CreatedAt time.Time
}
