package account_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	accountpkg "github.com/jccalsado/tuition-portal/internal/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/student"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// mockAccountRepository serializes InRecalculation with a mutex the way
// the real repository serializes it with a row lock.
type mockAccountRepository struct {
	txMu            sync.Mutex
	accounts        map[int64]*account.Account
	nextID          int64
	feeItemBalances map[int64]money.Money
	charges         map[int64]money.Money
	payments        map[int64]money.Money
	waivers         map[int64]money.Money
}

func newMockAccountRepository() *mockAccountRepository {
	return &mockAccountRepository{
		accounts:        make(map[int64]*account.Account),
		nextID:          1,
		feeItemBalances: make(map[int64]money.Money),
		charges:         make(map[int64]money.Money),
		payments:        make(map[int64]money.Money),
		waivers:         make(map[int64]money.Money),
	}
}

func (m *mockAccountRepository) InRecalculation(studentID int64, fn func(acct *account.Account) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	var acct *account.Account
	for _, a := range m.accounts {
		if a.StudentID == studentID {
			acct = a
			break
		}
	}
	if acct == nil {
		acct = &account.Account{ID: m.nextID, StudentID: studentID, Balance: money.Zero}
		m.nextID++
		m.accounts[acct.ID] = acct
	}

	working := *acct
	if err := fn(&working); err != nil {
		return err
	}
	*acct = working
	return nil
}

func (m *mockAccountRepository) SumFeeItemBalances(studentID int64) (money.Money, error) {
	return m.feeItemBalances[studentID], nil
}

func (m *mockAccountRepository) SumCharges(studentID int64) (money.Money, error) {
	return m.charges[studentID], nil
}

func (m *mockAccountRepository) SumPayments(studentID int64) (money.Money, error) {
	return m.payments[studentID], nil
}

func (m *mockAccountRepository) SumWaivers(studentID int64) (money.Money, error) {
	return m.waivers[studentID], nil
}

type mockStudentRepository struct {
	students map[int64]*student.Student
}

func newMockStudentRepository() *mockStudentRepository {
	return &mockStudentRepository{students: make(map[int64]*student.Student)}
}

func (m *mockStudentRepository) GetByID(id int64) (*student.Student, error) {
	st, ok := m.students[id]
	if !ok {
		return nil, errors.New("student not found")
	}
	return st, nil
}

func (m *mockStudentRepository) Update(st *student.Student) error {
	m.students[st.ID] = st
	return nil
}

var _ = Describe("AccountService", func() {
	var (
		service     *accountpkg.Service
		repo        *mockAccountRepository
		studentRepo *mockStudentRepository
		ctx         context.Context
	)

	yearLevels := []string{"first_year", "second_year", "third_year", "fourth_year"}

	BeforeEach(func() {
		repo = newMockAccountRepository()
		studentRepo = newMockStudentRepository()
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		bus := events.NewEventBus(logger)
		service = accountpkg.NewService(repo, studentRepo, yearLevels, bus, logger)
		ctx = context.Background()

		studentRepo.students[1] = &student.Student{
			ID:        1,
			YearLevel: "first_year",
			Status:    student.StatusEnrolled,
		}
	})

	Describe("Recalculate", func() {
		It("sums fee item balances into the account", func() {
			repo.feeItemBalances[1] = money.MustFromString("8500.00")

			acct, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(acct.Balance.String()).To(Equal("8500.00"))
			Expect(acct.RecalculatedAt).NotTo(BeNil())
		})

		It("does not promote while a balance is owed", func() {
			repo.feeItemBalances[1] = money.MustFromString("0.01")

			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].YearLevel).To(Equal("first_year"))
		})

		It("promotes one level when an owed balance clears", func() {
			repo.feeItemBalances[1] = money.MustFromString("5000.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			repo.feeItemBalances[1] = money.Zero
			_, err = service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].YearLevel).To(Equal("second_year"))
			Expect(studentRepo.students[1].IsGraduated()).To(BeFalse())
		})

		It("graduates a student clearing their final year", func() {
			studentRepo.students[1].YearLevel = "fourth_year"
			repo.feeItemBalances[1] = money.MustFromString("5000.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			repo.feeItemBalances[1] = money.Zero
			_, err = service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].IsGraduated()).To(BeTrue())
			Expect(studentRepo.students[1].GraduatedAt).NotTo(BeNil())
		})

		It("does not promote again on repeated zero-balance recalculations", func() {
			repo.feeItemBalances[1] = money.MustFromString("5000.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			repo.feeItemBalances[1] = money.Zero
			_, err = service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].YearLevel).To(Equal("second_year"))

			_, err = service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].YearLevel).To(Equal("second_year"))
		})

		It("promotes exactly one level when recalculations race after a clearing", func() {
			repo.feeItemBalances[1] = money.MustFromString("5000.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			repo.feeItemBalances[1] = money.Zero

			var wg sync.WaitGroup
			for i := 0; i < 2; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := service.Recalculate(ctx, 1)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			Expect(studentRepo.students[1].YearLevel).To(Equal("second_year"))
		})

		It("never demotes a graduated student", func() {
			studentRepo.students[1].Status = student.StatusGraduated
			studentRepo.students[1].YearLevel = "fourth_year"
			repo.feeItemBalances[1] = money.MustFromString("100.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			repo.feeItemBalances[1] = money.Zero
			_, err = service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(studentRepo.students[1].IsGraduated()).To(BeTrue())
			Expect(studentRepo.students[1].YearLevel).To(Equal("fourth_year"))
		})
	})

	Describe("EventHandler", func() {
		var handler *accountpkg.EventHandler

		BeforeEach(func() {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
			handler = accountpkg.NewEventHandler(service, logger)
		})

		It("recalculates the account when a waiver is applied", func() {
			repo.feeItemBalances[1] = money.MustFromString("5000.00")
			_, err := service.Recalculate(ctx, 1)
			Expect(err).NotTo(HaveOccurred())

			// the waiver settles the remaining balance without a payment
			repo.feeItemBalances[1] = money.Zero

			evt := events.NewWaiverAppliedEvent(42, 1, "5000.00", "scholarship")
			Expect(handler.HandleWaiverApplied(ctx, evt)).To(Succeed())

			var acct *account.Account
			for _, a := range repo.accounts {
				if a.StudentID == 1 {
					acct = a
				}
			}
			Expect(acct).NotTo(BeNil())
			Expect(acct.Balance.IsZero()).To(BeTrue())
			Expect(studentRepo.students[1].YearLevel).To(Equal("second_year"))
		})

		It("rejects an event of the wrong type", func() {
			evt := events.NewStudentPromotedEvent(1, "first_year", "second_year", false)
			Expect(handler.HandleWaiverApplied(ctx, evt)).To(HaveOccurred())
		})
	})

	Describe("VerifyBalanceViews", func() {
		It("agrees when charges minus payments minus waivers equals the fee view", func() {
			repo.feeItemBalances[1] = money.MustFromString("2000.00")
			repo.charges[1] = money.MustFromString("5000.00")
			repo.payments[1] = money.MustFromString("2500.00")
			repo.waivers[1] = money.MustFromString("500.00")

			consistent, feeView, txnView, err := service.VerifyBalanceViews(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(consistent).To(BeTrue())
			Expect(feeView.Equal(txnView)).To(BeTrue())
		})

		It("flags a divergence", func() {
			repo.feeItemBalances[1] = money.MustFromString("2000.00")
			repo.charges[1] = money.MustFromString("5000.00")
			repo.payments[1] = money.MustFromString("2000.00")
			repo.waivers[1] = money.Zero

			consistent, feeView, txnView, err := service.VerifyBalanceViews(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(consistent).To(BeFalse())
			Expect(feeView.String()).To(Equal("2000.00"))
			Expect(txnView.String()).To(Equal("3000.00"))
		})
	})
})
