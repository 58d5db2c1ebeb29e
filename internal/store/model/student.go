package model

import "time"

type Student struct {
	RollNo    string `gorm:"primaryKey;type:VARCHAR(64)"`
	Name      string `gorm:"not null"`
	Class     string `gorm:"not null;type:VARCHAR(32)"`
	Section   string `gorm:"not null;type:VARCHAR(32)"`
	JobID     string `gorm:"index;type:VARCHAR(255)"`
	CreatedAt time.Time
}
