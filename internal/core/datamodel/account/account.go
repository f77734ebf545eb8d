package account

import (
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// Account aggregates a student's outstanding balance across all fee items.
// Sign convention: positive balance means the student owes money; a
// negative balance is credit. Only the balance aggregator writes Balance.
type Account struct {
	ID             int64       `gorm:"primaryKey"`
	StudentID      int64       `gorm:"column:student_id;not null;uniqueIndex"`
	Balance        money.Money `gorm:"column:balance;type:decimal(12,2);not null"`
	RecalculatedAt *time.Time  `gorm:"column:recalculated_at"`
	CreatedAt      time.Time   `gorm:"column:created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
