package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/jccalsado/tuition-portal/internal/fraud"
	"github.com/jccalsado/tuition-portal/internal/ledger"
)

const (
	maxTransitionRetries = 3
	transitionBackoff    = 25 * time.Millisecond
	maxReceiptAttempts   = 5
	historyWindow        = 90 * 24 * time.Hour
)

// LedgerAPI is the slice of the ledger service the payment service uses.
type LedgerAPI interface {
	GetFeeItems(ids []int64) ([]*feeitem.FeeItem, error)
	GetSettleableFeeItems(studentID int64) ([]*feeitem.FeeItem, error)
}

// Service owns the payment lifecycle: fraud-gated initiation, allocation,
// state transitions and their financial side effects.
type Service struct {
	store    Store
	ledger   LedgerAPI
	accounts BalanceRecalculator
	gateways map[string]GatewayInitiator
	scorer   RiskScorer
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewService(store Store, ledgerAPI LedgerAPI, accounts BalanceRecalculator, gateways map[string]GatewayInitiator, scorer RiskScorer, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		ledger:   ledgerAPI,
		accounts: accounts,
		gateways: gateways,
		scorer:   scorer,
		eventBus: eventBus,
		logger:   logger,
	}
}

// InitiatePayment is the student-facing entry point. The fraud gate runs
// before anything is written; a blocked decision is an outcome, not an
// error, and leaves no payment behind.
func (s *Service) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*PaymentHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amount, err := money.FromString(req.Amount)
	if err != nil {
		return nil, apperrors.ErrInvalidAmount
	}

	gw, ok := s.gateways[req.PaymentMethod]
	if !ok {
		return nil, apperrors.ErrUnknownGateway
	}

	hist, err := s.store.HistoryForStudent(req.StudentID, time.Now().Add(-historyWindow))
	if err != nil {
		s.logger.Error("failed to load payment history for scoring", "error", err, "student_id", req.StudentID)
		return nil, apperrors.NewInternalError("failed to evaluate payment", err)
	}

	result := s.scorer.Score(fraud.PaymentRequest{
		StudentID:         req.StudentID,
		Amount:            amount,
		PaymentMethod:     req.PaymentMethod,
		DeviceFingerprint: req.DeviceFingerprint,
		IPAddress:         req.IPAddress,
		Country:           req.Country,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
	}, hist)
	if result.Blocked {
		return &PaymentHandle{Blocked: true}, nil
	}

	p, err := s.createPayment(req.StudentID, amount, req.PaymentMethod, req.FeeItemIDs)
	if err != nil {
		return nil, err
	}

	initiation, err := gw.Initiate(ctx, p)
	if err != nil {
		s.logger.Error("gateway initiation failed",
			"error", err,
			"payment_id", p.ID,
			"gateway", gw.Name())
		if trErr := s.Transition(ctx, p.ID, payment.StatusFailed, "gateway initiation failed"); trErr != nil {
			s.logger.Error("failed to mark payment failed after gateway error", "error", trErr, "payment_id", p.ID)
		}
		return nil, apperrors.NewGatewayError("payment could not be started, please try again", apperrors.ErrCodeGatewayFailed, err)
	}

	detail := &payment.GatewayDetail{
		PaymentID:            p.ID,
		Gateway:              gw.Name(),
		GatewayTransactionID: initiation.TransactionID,
		GatewayResponseData:  initiation.Raw,
		RedirectURL:          initiation.RedirectURL,
		ExpiresAt:            initiation.ExpiresAt,
	}
	if err := s.store.CreateGatewayDetail(detail); err != nil {
		s.logger.Error("failed to persist gateway detail", "error", err, "payment_id", p.ID)
		return nil, apperrors.NewInternalError("failed to record gateway detail", err)
	}

	if err := s.Transition(ctx, p.ID, payment.StatusPending, ""); err != nil {
		return nil, err
	}

	s.logger.Info("payment initiated",
		"payment_id", p.ID,
		"student_id", req.StudentID,
		"amount", amount.String(),
		"gateway", gw.Name())

	return &PaymentHandle{
		PaymentID:       p.ID,
		ReferenceNumber: p.ReferenceNumber,
		Status:          payment.StatusPending,
		RedirectURL:     initiation.RedirectURL,
		ExpiresAt:       initiation.ExpiresAt,
	}, nil
}

// RecordManualPayment records a staff-entered payment (cash, cheque, bank
// transfer) which completes immediately: same allocation and ledger path
// as gateway payments, no gateway leg.
func (s *Service) RecordManualPayment(ctx context.Context, req *ManualPaymentRequest) (*PaymentHandle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	amount, err := money.FromString(req.Amount)
	if err != nil {
		return nil, apperrors.ErrInvalidAmount
	}

	p, err := s.createPayment(req.StudentID, amount, req.PaymentMethod, req.FeeItemIDs)
	if err != nil {
		return nil, err
	}

	if err := s.Transition(ctx, p.ID, payment.StatusCompleted, ""); err != nil {
		return nil, err
	}

	completed, err := s.store.GetPayment(p.ID)
	if err != nil {
		return nil, err
	}

	handle := &PaymentHandle{
		PaymentID:       completed.ID,
		ReferenceNumber: completed.ReferenceNumber,
		Status:          completed.Status,
	}
	if completed.ReceiptNumber != nil {
		handle.ReceiptNumber = *completed.ReceiptNumber
	}
	return handle, nil
}

// createPayment resolves candidate fee items, runs the allocation engine
// and persists the payment with its allocation plan.
func (s *Service) createPayment(studentID int64, amount money.Money, method string, feeItemIDs []int64) (*payment.Payment, error) {
	var items []*feeitem.FeeItem
	var err error
	if len(feeItemIDs) > 0 {
		items, err = s.ledger.GetFeeItems(feeItemIDs)
		if err != nil {
			return nil, err
		}
		if len(items) != len(feeItemIDs) {
			return nil, apperrors.NewValidationError("one or more selected fee items do not exist", apperrors.ErrCodeFeeItemNotFound)
		}
		for _, item := range items {
			if item.StudentID != studentID {
				return nil, apperrors.NewValidationError("fee item does not belong to the student", apperrors.ErrCodeFeeItemNotFound)
			}
		}
	} else {
		items, err = s.ledger.GetSettleableFeeItems(studentID)
		if err != nil {
			return nil, err
		}
	}

	plan, err := Allocate(amount, items)
	if err != nil {
		return nil, err
	}

	p := &payment.Payment{
		StudentID:       studentID,
		Amount:          amount,
		PaymentMethod:   method,
		ReferenceNumber: "PAY-" + uuid.NewString(),
		Status:          payment.StatusInitiated,
	}

	allocations := make([]payment.Allocation, 0, len(plan))
	for _, a := range plan {
		allocations = append(allocations, payment.Allocation{
			FeeItemID: a.FeeItemID,
			Amount:    a.Amount,
		})
	}

	if err := s.store.CreatePayment(p, allocations); err != nil {
		s.logger.Error("failed to create payment", "error", err, "student_id", studentID)
		return nil, apperrors.NewInternalError("failed to create payment", err)
	}

	return p, nil
}

// Transition drives the state machine. The target state, the ledger
// applications and the transaction record commit in one atomic unit; a
// concurrency conflict retries the whole unit so a payment is never marked
// completed without its financial side effects.
func (s *Service) Transition(ctx context.Context, paymentID int64, target string, failureReason string) error {
	var pending []events.Event
	var studentID int64
	var completedNow bool

	err := s.withRetry(paymentID, func(ts TransitionStore, p *payment.Payment) error {
		pending = pending[:0]
		completedNow = false
		studentID = p.StudentID

		if p.Status == target {
			// webhook replay or duplicate request
			return nil
		}
		if p.IsTerminal() {
			s.logger.Warn("transition requested on finalized payment",
				"payment_id", p.ID,
				"status", p.Status,
				"target", target)
			return nil
		}
		if !CanTransition(p.Status, target) {
			return apperrors.NewValidationError(
				fmt.Sprintf("cannot transition payment from %s to %s", p.Status, target),
				apperrors.ErrCodeInvalidTransition)
		}

		oldStatus := p.Status
		switch target {
		case payment.StatusCompleted:
			if err := s.applyCompleted(ts, p); err != nil {
				return err
			}
			completedNow = true
			receipt := ""
			if p.ReceiptNumber != nil {
				receipt = *p.ReceiptNumber
			}
			pending = append(pending, events.NewPaymentCompletedEvent(
				p.ID, p.StudentID, p.ReferenceNumber, receipt, p.Amount.String(), p.PaymentMethod))

		case payment.StatusFailed:
			if failureReason != "" {
				p.FailureReason = &failureReason
			}
			if err := s.revertItems(ts, p); err != nil {
				return err
			}
			pending = append(pending, events.NewPaymentFailedEvent(
				p.ID, p.StudentID, p.ReferenceNumber, p.Amount.String(), failureReason))

		case payment.StatusCancelled:
			if err := s.revertItems(ts, p); err != nil {
				return err
			}
			pending = append(pending, events.NewPaymentStatusChangedEvent(p.ID, p.StudentID, oldStatus, target))

		case payment.StatusPending:
			if err := s.markItemsProcessing(ts, p); err != nil {
				return err
			}
			pending = append(pending, events.NewPaymentStatusChangedEvent(p.ID, p.StudentID, oldStatus, target))
		}

		p.Status = target
		p.UpdatedAt = time.Now()
		return ts.SavePayment(p)
	})
	if err != nil {
		return err
	}

	for _, evt := range pending {
		// notification failures never roll back the transition
		s.eventBus.Publish(ctx, evt)
	}

	if completedNow {
		if _, err := s.accounts.Recalculate(ctx, studentID); err != nil {
			s.logger.Error("account recalculation after completion failed",
				"error", err,
				"student_id", studentID,
				"payment_id", paymentID)
		}
	}

	return nil
}

// applyCompleted performs the financial side of a completion: paidAt and
// receipt assignment (both only if unset), ledger application per the
// allocation plan, and exactly one transaction record.
func (s *Service) applyCompleted(ts TransitionStore, p *payment.Payment) error {
	if p.PaidAt == nil {
		now := time.Now()
		p.PaidAt = &now
	}
	if p.ReceiptNumber == nil {
		receipt, err := s.generateReceiptNumber()
		if err != nil {
			return err
		}
		p.ReceiptNumber = &receipt
	}

	allocations, err := ts.Allocations(p.ID)
	if err != nil {
		return err
	}

	// First pass follows the plan; any portion an item could no longer
	// absorb is redistributed across the remaining items.
	leftover := money.Zero
	locked := make([]*feeitem.FeeItem, 0, len(allocations))
	for _, alloc := range allocations {
		item, err := ts.LockFeeItem(alloc.FeeItemID)
		if err != nil {
			return err
		}
		locked = append(locked, item)

		applied := ledger.ApplyPaymentToItem(item, alloc.Amount)
		leftover = leftover.Add(alloc.Amount.Sub(applied))
		if err := ts.SaveFeeItem(item); err != nil {
			return err
		}
	}
	if leftover.IsPositive() {
		for _, item := range locked {
			if leftover.IsZero() {
				break
			}
			applied := ledger.ApplyPaymentToItem(item, leftover)
			if applied.IsPositive() {
				leftover = leftover.Sub(applied)
				if err := ts.SaveFeeItem(item); err != nil {
					return err
				}
			}
		}
	}
	if leftover.IsPositive() {
		s.logger.Warn("completed payment could not be fully applied",
			"payment_id", p.ID,
			"unapplied", leftover.String())
	}

	// The transaction records what the ledger absorbed, not the nominal
	// payment amount; otherwise a plan shrunk by a waiver between
	// initiation and completion would make the transaction view drift
	// from the fee-item view.
	applied := p.Amount.Sub(leftover)

	exists, err := ts.HasTransaction(p.ID)
	if err != nil {
		return err
	}
	if !exists && applied.IsPositive() {
		if err := ts.CreateTransaction(&payment.Transaction{
			StudentID:   p.StudentID,
			PaymentID:   &p.ID,
			Type:        payment.TransactionTypePayment,
			Amount:      applied,
			Description: "Payment " + p.ReferenceNumber,
		}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) revertItems(ts TransitionStore, p *payment.Payment) error {
	allocations, err := ts.Allocations(p.ID)
	if err != nil {
		return err
	}

	for _, alloc := range allocations {
		item, err := ts.LockFeeItem(alloc.FeeItemID)
		if err != nil {
			return err
		}
		if item.Status != feeitem.StatusProcessing {
			continue
		}

		active, err := ts.CountActivePayments(item.ID, p.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			continue
		}

		item.Status = ledger.DeriveStatus(item.AmountPaid, item.OriginalAmount, item.Balance)
		if err := ts.SaveFeeItem(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) markItemsProcessing(ts TransitionStore, p *payment.Payment) error {
	allocations, err := ts.Allocations(p.ID)
	if err != nil {
		return err
	}

	for _, alloc := range allocations {
		item, err := ts.LockFeeItem(alloc.FeeItemID)
		if err != nil {
			return err
		}
		if item.Status != feeitem.StatusPending {
			continue
		}

		item.Status = feeitem.StatusProcessing
		if err := ts.SaveFeeItem(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetPayment(id int64) (*payment.Payment, error) {
	p, err := s.store.GetPayment(id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) GetPaymentByReference(referenceNumber string) (*payment.Payment, error) {
	p, err := s.store.GetByReference(referenceNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return p, nil
}

func (s *Service) GetStudentPayments(studentID int64, limit, offset int) ([]*payment.Payment, error) {
	return s.store.GetByStudent(studentID, limit, offset)
}

// generateReceiptNumber draws random official-receipt numbers until one is
// unused. Collisions are vanishingly rare; the loop is the guarantee.
func (s *Service) generateReceiptNumber() (string, error) {
	limit := big.NewInt(10_000_000_000)
	for attempt := 0; attempt < maxReceiptAttempts; attempt++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		receipt := fmt.Sprintf("OR-%010d", n)

		exists, err := s.store.ReceiptNumberExists(receipt)
		if err != nil {
			return "", err
		}
		if !exists {
			return receipt, nil
		}
	}
	return "", errors.New("could not generate a unique receipt number")
}

func (s *Service) withRetry(paymentID int64, fn func(ts TransitionStore, p *payment.Payment) error) error {
	var err error
	for attempt := 0; attempt <= maxTransitionRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(transitionBackoff * time.Duration(attempt))
		}

		err = s.store.InTransition(paymentID, fn)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return apperrors.ErrPaymentNotFound
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}

		s.logger.Warn("payment transition conflict, retrying",
			"payment_id", paymentID,
			"attempt", attempt+1)
	}

	s.logger.Error("payment transition retries exhausted", "payment_id", paymentID)
	return apperrors.ErrConflictRetry
}
