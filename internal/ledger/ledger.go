package ledger

import (
	"errors"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// Repository defines data access for fee items. UpdateWithLock must run
// apply inside an atomic unit that holds an exclusive lock on the row: the
// fee item passed to apply reflects the current persisted state, and the
// write commits in the same unit. Implementations return ErrConflict when
// the unit loses a concurrency race and can be retried.
type Repository interface {
	GetByID(id int64) (*feeitem.FeeItem, error)
	GetByIDs(ids []int64) ([]*feeitem.FeeItem, error)
	GetSettleableByStudent(studentID int64) ([]*feeitem.FeeItem, error)
	Create(item *feeitem.FeeItem) error
	UpdateWithLock(id int64, apply func(*feeitem.FeeItem) error) error
}

var (
	ErrConflict = errors.New("fee item modified concurrently")
	ErrNotFound = errors.New("fee item not found")
)

// DeriveStatus is the single source of truth for a fee item's settlement
// status. Every code path that sets a status goes through here so the
// paid/partial/pending/waived derivation never diverges.
func DeriveStatus(amountPaid, originalAmount, balance money.Money) string {
	switch {
	case balance.IsZero() && amountPaid.Equal(originalAmount):
		return feeitem.StatusPaid
	case balance.IsZero():
		// cleared by waiver rather than payment
		return feeitem.StatusWaived
	case amountPaid.IsPositive():
		return feeitem.StatusPartial
	default:
		return feeitem.StatusPending
	}
}

// recomputeBalance keeps balance = max(0, original - waiver - paid).
func recomputeBalance(item *feeitem.FeeItem) {
	balance := item.OriginalAmount.Sub(item.WaiverAmount).Sub(item.AmountPaid)
	item.Balance = money.Max(balance, money.Zero)
}

// ApplyPaymentToItem mutates the item in place, crediting at most its
// current balance, and returns the applied amount. Pure with respect to
// persistence: callers run it inside whatever atomic unit they hold. This
// is the one place payment application arithmetic lives; the ledger
// service and the payment transition both go through it.
func ApplyPaymentToItem(item *feeitem.FeeItem, amount money.Money) money.Money {
	if !amount.IsPositive() || !item.Settleable() {
		return money.Zero
	}

	applied := money.Min(amount, item.Balance)
	item.AmountPaid = item.AmountPaid.Add(applied)
	recomputeBalance(item)
	item.Status = DeriveStatus(item.AmountPaid, item.OriginalAmount, item.Balance)
	return applied
}
