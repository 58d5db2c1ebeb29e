package model

import (
	"time"

	"gorm.io/datatypes"
)

type Mark struct {
	ID            string                                 `gorm:"primaryKey;type:VARCHAR(36)"`
	StudentRollNo string                                 `gorm:"not null;type:VARCHAR(64);uniqueIndex:marks_student_exam"`
	Student       *Student                               `gorm:"foreignKey:StudentRollNo;references:RollNo;constraint:OnDelete:CASCADE"`
	Exam          string                                 `gorm:"not null;type:VARCHAR(255);uniqueIndex:marks_student_exam"`
	Scores        datatypes.JSONType[map[string]float64] `gorm:"not null"`
	JobID         string                                 `gorm:"index;type:VARCHAR(255)"`
	CreatedAt     time.Time
}
