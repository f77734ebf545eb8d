package payment

import (
	"encoding/json"
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/money"
)

const (
	StatusInitiated = "initiated"
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

const (
	MethodGCash   = "gcash"
	MethodPayPal  = "paypal"
	MethodStripe  = "stripe"
	MethodCash    = "cash"
	MethodCheque  = "cheque"
	MethodBankTxn = "bank_transfer"
)

// Payment is a single payment attempt. ReferenceNumber is assigned at
// creation and is the caller-facing handle; ReceiptNumber exists only once
// the payment completes. A completed payment is immutable except for
// metadata.
type Payment struct {
	ID              int64       `gorm:"primaryKey"`
	StudentID       int64       `gorm:"column:student_id;not null;index"`
	Amount          money.Money `gorm:"column:amount;type:decimal(12,2);not null"`
	PaymentMethod   string      `gorm:"column:payment_method;not null"`
	ReferenceNumber string      `gorm:"column:reference_number;not null;uniqueIndex"`
	ReceiptNumber   *string     `gorm:"column:receipt_number;uniqueIndex"`
	Status          string      `gorm:"column:status;default:pending;index"`
	FailureReason   *string     `gorm:"column:failure_reason"`
	PaidAt          *time.Time  `gorm:"column:paid_at"`
	CreatedAt       time.Time   `gorm:"column:created_at"`
	UpdatedAt       time.Time   `gorm:"column:updated_at"`

	Allocations []Allocation `gorm:"foreignKey:PaymentID;references:ID"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsTerminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed || p.Status == StatusCancelled
}

// Allocation links a payment to one fee item it settles (fully or in part).
type Allocation struct {
	ID        int64       `gorm:"primaryKey"`
	PaymentID int64       `gorm:"column:payment_id;not null;index"`
	FeeItemID int64       `gorm:"column:fee_item_id;not null;index"`
	Amount    money.Money `gorm:"column:amount;type:decimal(12,2);not null"`
	CreatedAt time.Time   `gorm:"column:created_at"`
}

func (Allocation) TableName() string {
	return "payment_allocations"
}

// GatewayDetail records one external gateway attempt for a payment. The
// (gateway, gateway_transaction_id) pair is the idempotency key for
// webhook de-duplication.
type GatewayDetail struct {
	ID                   int64           `gorm:"primaryKey"`
	PaymentID            int64           `gorm:"column:payment_id;not null;index"`
	Gateway              string          `gorm:"column:gateway;not null;uniqueIndex:idx_gateway_txn,priority:1"`
	GatewayTransactionID string          `gorm:"column:gateway_transaction_id;not null;uniqueIndex:idx_gateway_txn,priority:2"`
	GatewayStatus        string          `gorm:"column:gateway_status"`
	GatewayResponseData  json.RawMessage `gorm:"column:gateway_response_data;type:jsonb"`
	RedirectURL          string          `gorm:"column:redirect_url"`
	ExpiresAt            *time.Time      `gorm:"column:expires_at"`
	ProcessedAt          *time.Time      `gorm:"column:processed_at"`
	CreatedAt            time.Time       `gorm:"column:created_at"`
}

func (GatewayDetail) TableName() string {
	return "gateway_details"
}

const (
	TransactionTypeCharge  = "charge"
	TransactionTypePayment = "payment"
)

// Transaction is an immutable accounting entry. At most one exists per
// completed payment; the unique index on payment_id backs that guarantee.
type Transaction struct {
	ID          int64       `gorm:"primaryKey"`
	StudentID   int64       `gorm:"column:student_id;not null;index"`
	PaymentID   *int64      `gorm:"column:payment_id;uniqueIndex"`
	FeeItemID   *int64      `gorm:"column:fee_item_id;index"`
	Type        string      `gorm:"column:type;not null"`
	Amount      money.Money `gorm:"column:amount;type:decimal(12,2);not null"`
	Description string      `gorm:"column:description"`
	CreatedAt   time.Time   `gorm:"column:created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
