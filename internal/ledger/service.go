package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/shopspring/decimal"
)

const (
	maxConflictRetries = 3
	retryBackoff       = 25 * time.Millisecond
)

// Service is the only writer of fee item amounts. Applications are
// serialized per item through Repository.UpdateWithLock.
type Service struct {
	repo     Repository
	eventBus *events.EventBus
	logger   *slog.Logger
}

func NewService(repo Repository, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   logger,
	}
}

// ApplyPayment credits amount against the fee item and returns how much was
// actually applied, never more than the current balance. A fully paid or
// waived item absorbs nothing; the caller redistributes the remainder.
func (s *Service) ApplyPayment(feeItemID int64, amount money.Money) (money.Money, error) {
	if !amount.IsPositive() {
		return money.Zero, apperrors.ErrInvalidAmount
	}

	applied := money.Zero
	err := s.withRetry(feeItemID, func(item *feeitem.FeeItem) error {
		applied = ApplyPaymentToItem(item, amount)
		return nil
	})
	if err != nil {
		return money.Zero, err
	}

	if applied.IsPositive() {
		s.logger.Info("payment applied to fee item",
			"fee_item_id", feeItemID,
			"applied", applied.String())
	}

	return applied, nil
}

// ApplyWaiver reduces the item's balance by min(requested, balance) without
// touching amountPaid. Every call is an additional waiver; idempotency is
// the caller's responsibility.
func (s *Service) ApplyWaiver(ctx context.Context, feeItemID int64, waiver money.Money, reason string) (money.Money, error) {
	if !waiver.IsPositive() {
		return money.Zero, apperrors.ErrInvalidAmount
	}

	waived := money.Zero
	var studentID int64
	err := s.withRetry(feeItemID, func(item *feeitem.FeeItem) error {
		studentID = item.StudentID
		waived = money.Min(waiver, item.Balance)
		if waived.IsZero() {
			return nil
		}

		item.WaiverAmount = item.WaiverAmount.Add(waived)
		item.WaiverReason = &reason
		recomputeBalance(item)
		item.Status = DeriveStatus(item.AmountPaid, item.OriginalAmount, item.Balance)
		return nil
	})
	if err != nil {
		return money.Zero, err
	}

	if waived.IsPositive() {
		s.logger.Info("waiver applied to fee item",
			"fee_item_id", feeItemID,
			"waived", waived.String(),
			"reason", reason)
		s.eventBus.Publish(ctx, events.NewWaiverAppliedEvent(feeItemID, studentID, waived.String(), reason))
	}

	return waived, nil
}

// ApplyWaiverPercentage waives the given percentage of the current balance.
func (s *Service) ApplyWaiverPercentage(ctx context.Context, feeItemID int64, percentage decimal.Decimal, reason string) (money.Money, error) {
	item, err := s.repo.GetByID(feeItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return money.Zero, apperrors.ErrFeeItemNotFound
		}
		return money.Zero, err
	}

	return s.ApplyWaiver(ctx, feeItemID, item.Balance.Percent(percentage), reason)
}

// MarkProcessing flags an unpaid item while a gateway payment is in flight.
// Advisory only, it reserves nothing.
func (s *Service) MarkProcessing(feeItemID int64) error {
	return s.withRetry(feeItemID, func(item *feeitem.FeeItem) error {
		if item.Status == feeitem.StatusPending {
			item.Status = feeitem.StatusProcessing
		}
		return nil
	})
}

// RevertProcessing puts an item back to its derived status after the in-
// flight payment failed or was cancelled and no other payment is active.
func (s *Service) RevertProcessing(feeItemID int64) error {
	return s.withRetry(feeItemID, func(item *feeitem.FeeItem) error {
		if item.Status == feeitem.StatusProcessing {
			item.Status = DeriveStatus(item.AmountPaid, item.OriginalAmount, item.Balance)
		}
		return nil
	})
}

func (s *Service) GetFeeItem(feeItemID int64) (*feeitem.FeeItem, error) {
	item, err := s.repo.GetByID(feeItemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperrors.ErrFeeItemNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Service) GetFeeItems(ids []int64) ([]*feeitem.FeeItem, error) {
	return s.repo.GetByIDs(ids)
}

// GetSettleableFeeItems returns the student's unpaid/partial items ordered
// by creation time ascending, the candidate set for oldest-first payments.
func (s *Service) GetSettleableFeeItems(studentID int64) ([]*feeitem.FeeItem, error) {
	return s.repo.GetSettleableByStudent(studentID)
}

func (s *Service) AssessFee(item *feeitem.FeeItem) error {
	if !item.OriginalAmount.IsPositive() {
		return apperrors.ErrInvalidAmount
	}
	item.AmountPaid = money.Zero
	item.WaiverAmount = money.Zero
	item.Balance = item.OriginalAmount
	item.Status = feeitem.StatusPending
	if err := s.repo.Create(item); err != nil {
		s.logger.Error("failed to assess fee", "error", err, "student_id", item.StudentID)
		return err
	}
	return nil
}

func (s *Service) withRetry(feeItemID int64, apply func(*feeitem.FeeItem) error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retryBackoff * time.Duration(attempt))
		}

		err = s.repo.UpdateWithLock(feeItemID, apply)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return apperrors.ErrFeeItemNotFound
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}

		s.logger.Warn("fee item update conflict, retrying",
			"fee_item_id", feeItemID,
			"attempt", attempt+1)
	}

	s.logger.Error("fee item update retries exhausted", "fee_item_id", feeItemID)
	return apperrors.ErrConflictRetry
}
