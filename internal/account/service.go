package account

import (
	"context"
	"log/slog"
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/student"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// Repository defines data access for accounts and the two balance views.
type Repository interface {
	// InRecalculation runs fn with the student's account row locked,
	// creating the account lazily, and persists fn's changes on success.
	// Concurrent recalculations for the same student serialize here.
	InRecalculation(studentID int64, fn func(acct *account.Account) error) error
	// SumFeeItemBalances is the fee-item view of what the student owes.
	SumFeeItemBalances(studentID int64) (money.Money, error)
	// SumCharges and SumPayments together form the transaction view.
	SumCharges(studentID int64) (money.Money, error)
	SumPayments(studentID int64) (money.Money, error)
	SumWaivers(studentID int64) (money.Money, error)
}

type StudentRepository interface {
	GetByID(id int64) (*student.Student, error)
	Update(s *student.Student) error
}

// Service recomputes account balances from committed fee item state and
// drives year-level promotion when a balance clears. Balance sign
// convention: positive means the student owes.
type Service struct {
	repo       Repository
	students   StudentRepository
	yearLevels []string
	eventBus   *events.EventBus
	logger     *slog.Logger
}

func NewService(repo Repository, students StudentRepository, yearLevels []string, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		students:   students,
		yearLevels: yearLevels,
		eventBus:   eventBus,
		logger:     logger,
	}
}

// Recalculate sums the student's fee item balances into the account and
// runs the promotion check when nothing is owed. It reads committed state
// only, so it must be called after ledger mutations commit, never inside
// their transaction.
func (s *Service) Recalculate(ctx context.Context, studentID int64) (*account.Account, error) {
	var (
		result        account.Account
		shouldPromote bool
	)
	err := s.repo.InRecalculation(studentID, func(acct *account.Account) error {
		balance, err := s.repo.SumFeeItemBalances(studentID)
		if err != nil {
			return err
		}

		// Promotion fires only on the owing-to-cleared transition, and
		// the decision is made under the account lock so concurrent
		// recalculations cannot both observe the transition. A student
		// whose balance was already zero is not promoted again by
		// repeated recalculations.
		shouldPromote = acct.Balance.IsPositive() && !balance.IsPositive()

		now := time.Now()
		acct.Balance = balance
		acct.RecalculatedAt = &now
		result = *acct
		return nil
	})
	if err != nil {
		s.logger.Error("account recalculation failed", "error", err, "student_id", studentID)
		return nil, err
	}

	s.logger.Info("account recalculated",
		"student_id", studentID,
		"balance", result.Balance.String())

	if shouldPromote {
		if err := s.promote(ctx, studentID); err != nil {
			s.logger.Error("promotion check failed", "error", err, "student_id", studentID)
		}
	}

	return &result, nil
}

// VerifyBalanceViews cross-checks the fee-item view against the
// transaction view. The two agree when
// sum(balances) + sum(waivers) == sum(charges) - sum(payments).
func (s *Service) VerifyBalanceViews(studentID int64) (bool, money.Money, money.Money, error) {
	feeView, err := s.repo.SumFeeItemBalances(studentID)
	if err != nil {
		return false, money.Zero, money.Zero, err
	}
	charges, err := s.repo.SumCharges(studentID)
	if err != nil {
		return false, money.Zero, money.Zero, err
	}
	payments, err := s.repo.SumPayments(studentID)
	if err != nil {
		return false, money.Zero, money.Zero, err
	}
	waivers, err := s.repo.SumWaivers(studentID)
	if err != nil {
		return false, money.Zero, money.Zero, err
	}

	txnView := charges.Sub(payments).Sub(waivers)
	if !feeView.Equal(txnView) {
		s.logger.Error("balance views disagree",
			"student_id", studentID,
			"fee_item_view", feeView.String(),
			"transaction_view", txnView.String())
		return false, feeView, txnView, nil
	}
	return true, feeView, txnView, nil
}

// promote advances the student one step on the year-level ladder, or marks
// them graduated at the top. Promotion is one-way: a graduated student, or
// a later balance increase, never reverts anything.
func (s *Service) promote(ctx context.Context, studentID int64) error {
	st, err := s.students.GetByID(studentID)
	if err != nil {
		return err
	}

	if st.IsGraduated() {
		return nil
	}

	idx := -1
	for i, lvl := range s.yearLevels {
		if st.YearLevel == lvl {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.logger.Warn("student year level not on the ladder, skipping promotion",
			"student_id", studentID,
			"year_level", st.YearLevel)
		return nil
	}

	fromLevel := st.YearLevel
	graduated := false
	if idx == len(s.yearLevels)-1 {
		st.Status = student.StatusGraduated
		now := time.Now()
		st.GraduatedAt = &now
		graduated = true
	} else {
		st.YearLevel = s.yearLevels[idx+1]
	}

	if err := s.students.Update(st); err != nil {
		return err
	}

	s.logger.Info("student promoted",
		"student_id", studentID,
		"from_level", fromLevel,
		"to_level", st.YearLevel,
		"graduated", graduated)

	s.eventBus.Publish(ctx, events.NewStudentPromotedEvent(studentID, fromLevel, st.YearLevel, graduated))
	return nil
}
