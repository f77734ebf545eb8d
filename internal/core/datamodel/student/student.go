package student

import (
	"time"
)

const (
	StatusEnrolled  = "enrolled"
	StatusGraduated = "graduated"
)

type Student struct {
	ID            int64      `gorm:"primaryKey"`
	StudentNumber string     `gorm:"column:student_number;not null;uniqueIndex"`
	Name          string     `gorm:"column:name;not null"`
	YearLevel     string     `gorm:"column:year_level;not null"`
	Status        string     `gorm:"column:status;default:enrolled"`
	GraduatedAt   *time.Time `gorm:"column:graduated_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (Student) TableName() string {
	return "students"
}

func (s *Student) IsGraduated() bool {
	return s.Status == StatusGraduated
}
