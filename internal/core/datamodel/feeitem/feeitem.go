package feeitem

import (
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/money"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusPartial    = "partial"
	StatusPaid       = "paid"
	StatusWaived     = "waived"
)

// FeeItem is one assessed charge for one student for one academic term.
// OriginalAmount, AmountPaid and Balance are mutated only through the
// ledger service; amount_paid + balance == original_amount holds whenever
// the item is not waived.
type FeeItem struct {
	ID             int64       `gorm:"primaryKey"`
	StudentID      int64       `gorm:"column:student_id;not null;index"`
	Term           string      `gorm:"column:term;not null;index"`
	Description    string      `gorm:"column:description;not null"`
	OriginalAmount money.Money `gorm:"column:original_amount;type:decimal(12,2);not null"`
	AmountPaid     money.Money `gorm:"column:amount_paid;type:decimal(12,2);not null"`
	Balance        money.Money `gorm:"column:balance;type:decimal(12,2);not null"`
	WaiverAmount   money.Money `gorm:"column:waiver_amount;type:decimal(12,2);not null"`
	WaiverReason   *string     `gorm:"column:waiver_reason"`
	Status         string      `gorm:"column:status;default:pending;index"`
	DueDate        *time.Time  `gorm:"column:due_date"`
	CreatedAt      time.Time   `gorm:"column:created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at"`
}

func (FeeItem) TableName() string {
	return "fee_items"
}

// Settleable reports whether the item can still accept payment.
func (f *FeeItem) Settleable() bool {
	return f.Status != StatusPaid && f.Status != StatusWaived && f.Balance.IsPositive()
}
