package payment

import (
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// Allocation strategies. Explicit selection settles the fee items the
// caller named; oldest-first walks every settleable item for the student
// by creation time ascending.
const (
	StrategyExplicit    = "explicit"
	StrategyOldestFirst = "oldest_first"
)

// ItemAllocation is one planned ledger application.
type ItemAllocation struct {
	FeeItemID int64
	Amount    money.Money
}

// Allocate distributes totalAmount greedily across items in the order
// given: each item takes min(balance, remaining) until the amount is
// exhausted. A payment larger than the combined balance of the candidates
// is rejected outright; silently dropping a remainder would lose money.
func Allocate(totalAmount money.Money, items []*feeitem.FeeItem) ([]ItemAllocation, error) {
	if !totalAmount.IsPositive() {
		return nil, apperrors.ErrInvalidAmount
	}

	available := money.Zero
	for _, item := range items {
		if item.Settleable() {
			available = available.Add(item.Balance)
		}
	}
	if totalAmount.GreaterThan(available) {
		return nil, apperrors.ErrAmountExceeds
	}

	allocations := make([]ItemAllocation, 0, len(items))
	remaining := totalAmount
	for _, item := range items {
		if remaining.IsZero() {
			break
		}
		if !item.Settleable() {
			continue
		}

		applied := money.Min(item.Balance, remaining)
		allocations = append(allocations, ItemAllocation{
			FeeItemID: item.ID,
			Amount:    applied,
		})
		remaining = remaining.Sub(applied)
	}

	return allocations, nil
}
