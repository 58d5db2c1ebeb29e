package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var subjectNamespace = uuid.MustParse("5b0f2a6e-8f4c-4d3b-9d7e-3c1a2f6b8e90")

type Subject struct {
	ID        string `gorm:"primaryKey;type:VARCHAR(36)"`
	Name      string `gorm:"not null;type:VARCHAR(255);uniqueIndex:subjects_name_class_section"`
	Class     string `gorm:"not null;type:VARCHAR(32);uniqueIndex:subjects_name_class_section"`
	Section   string `gorm:"not null;type:VARCHAR(32);uniqueIndex:subjects_name_class_section"`
	MaxMarks  int    `gorm:"not null"`
	JobID     string `gorm:"index;type:VARCHAR(255)"`
	CreatedAt time.Time
}

// SubjectID derives the id of a subject from its natural key so that a
// redelivered row maps to the id generated the first time.
func SubjectID(name, class, section string) string {
	key := strings.Join([]string{strings.ToUpper(name), class, section}, "/")
	return uuid.NewSHA1(subjectNamespace, []byte(key)).String()
}
