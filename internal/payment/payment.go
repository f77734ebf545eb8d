package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/fraud"
)

var (
	ErrConflict = errors.New("payment modified concurrently")
	ErrNotFound = errors.New("payment not found")
)

// Store is the persistence boundary for payments. InTransition must load
// the payment under an exclusive lock and run fn inside the same atomic
// unit that commits every write fn performs through TransitionStore: the
// payment row, the fee item applications and the transaction record either
// all commit or none do.
type Store interface {
	CreatePayment(p *payment.Payment, allocations []payment.Allocation) error
	GetPayment(id int64) (*payment.Payment, error)
	GetByReference(referenceNumber string) (*payment.Payment, error)
	GetByStudent(studentID int64, limit, offset int) ([]*payment.Payment, error)
	ReceiptNumberExists(receiptNumber string) (bool, error)
	CreateGatewayDetail(d *payment.GatewayDetail) error
	HistoryForStudent(studentID int64, since time.Time) (fraud.History, error)
	InTransition(paymentID int64, fn func(ts TransitionStore, p *payment.Payment) error) error
}

// TransitionStore exposes the writes a state transition may perform,
// scoped to the transaction InTransition opened.
type TransitionStore interface {
	SavePayment(p *payment.Payment) error
	Allocations(paymentID int64) ([]payment.Allocation, error)
	LockFeeItem(id int64) (*feeitem.FeeItem, error)
	SaveFeeItem(item *feeitem.FeeItem) error
	HasTransaction(paymentID int64) (bool, error)
	CreateTransaction(t *payment.Transaction) error
	// CountActivePayments counts other non-terminal payments allocated
	// against the fee item.
	CountActivePayments(feeItemID, excludePaymentID int64) (int64, error)
}

// GatewayInitiator is the slice of the gateway capability payment
// initiation needs. Adapters live in internal/gateway.
type GatewayInitiator interface {
	Name() string
	Initiate(ctx context.Context, p *payment.Payment) (*InitiationResult, error)
}

type InitiationResult struct {
	TransactionID string
	RedirectURL   string
	ExpiresAt     *time.Time
	Raw           json.RawMessage
}

// BalanceRecalculator is satisfied by the account service.
type BalanceRecalculator interface {
	Recalculate(ctx context.Context, studentID int64) (*account.Account, error)
}

// RiskScorer is satisfied by the fraud scorer.
type RiskScorer interface {
	Score(req fraud.PaymentRequest, hist fraud.History) fraud.Result
}

// PaymentHandle is what initiation returns to callers: everything a
// student-facing page needs to continue the flow.
type PaymentHandle struct {
	PaymentID       int64      `json:"payment_id"`
	ReferenceNumber string     `json:"reference_number"`
	Status          string     `json:"status"`
	RedirectURL     string     `json:"redirect_url,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	ReceiptNumber   string     `json:"receipt_number,omitempty"`
	Blocked         bool       `json:"blocked"`
}
