package payment_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/account"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/core/events"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/jccalsado/tuition-portal/internal/fraud"
	paymentPkg "github.com/jccalsado/tuition-portal/internal/payment"
)

// mockStore backs the payment service with in-memory state. It also acts
// as its own TransitionStore so InTransition mirrors the all-or-nothing
// commit of the real store closely enough for state machine tests. txMu
// serializes transitions the way the row lock does; mu guards the maps
// with short critical sections so the transition body can call back into
// any Store method (receipt lookups included) without deadlocking.
type mockStore struct {
	mu           sync.Mutex
	txMu         sync.Mutex
	payments     map[int64]*payment.Payment
	allocations  map[int64][]payment.Allocation
	items        map[int64]*feeitem.FeeItem
	transactions []payment.Transaction
	details      []payment.GatewayDetail
	history      fraud.History
	nextID       int64
	conflicts    int
}

func newMockStore() *mockStore {
	return &mockStore{
		payments:    make(map[int64]*payment.Payment),
		allocations: make(map[int64][]payment.Allocation),
		items:       make(map[int64]*feeitem.FeeItem),
		nextID:      1,
	}
}

func (m *mockStore) addItem(item *feeitem.FeeItem) *feeitem.FeeItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == 0 {
		item.ID = m.nextID
		m.nextID++
	}
	m.items[item.ID] = item
	return item
}

func (m *mockStore) CreatePayment(p *payment.Payment, allocations []payment.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.nextID
	m.nextID++
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	copied := *p
	m.payments[p.ID] = &copied
	for i := range allocations {
		allocations[i].PaymentID = p.ID
	}
	m.allocations[p.ID] = allocations
	return nil
}

func (m *mockStore) GetPayment(id int64) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, paymentPkg.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockStore) GetByReference(referenceNumber string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ReferenceNumber == referenceNumber {
			copied := *p
			return &copied, nil
		}
	}
	return nil, paymentPkg.ErrNotFound
}

func (m *mockStore) GetByStudent(studentID int64, limit, offset int) ([]*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*payment.Payment
	for _, p := range m.payments {
		if p.StudentID == studentID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) ReceiptNumberExists(receiptNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ReceiptNumber != nil && *p.ReceiptNumber == receiptNumber {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) CreateGatewayDetail(d *payment.GatewayDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.ID = m.nextID
	m.nextID++
	m.details = append(m.details, *d)
	return nil
}

func (m *mockStore) HistoryForStudent(studentID int64, since time.Time) (fraud.History, error) {
	return m.history, nil
}

func (m *mockStore) InTransition(paymentID int64, fn func(ts paymentPkg.TransitionStore, p *payment.Payment) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	if m.conflicts > 0 {
		m.conflicts--
		m.mu.Unlock()
		return paymentPkg.ErrConflict
	}
	p, ok := m.payments[paymentID]
	if !ok {
		m.mu.Unlock()
		return paymentPkg.ErrNotFound
	}
	snapshot := *p
	m.mu.Unlock()

	// fn mutates the snapshot; SavePayment commits it
	return fn(m, &snapshot)
}

// TransitionStore, serialized by txMu

func (m *mockStore) SavePayment(p *payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.payments[p.ID] = &copied
	return nil
}

func (m *mockStore) Allocations(paymentID int64) ([]payment.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocations[paymentID], nil
}

func (m *mockStore) LockFeeItem(id int64) (*feeitem.FeeItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, paymentPkg.ErrNotFound
	}
	return item, nil
}

func (m *mockStore) SaveFeeItem(item *feeitem.FeeItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *mockStore) HasTransaction(paymentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) CreateTransaction(t *payment.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *mockStore) CountActivePayments(feeItemID, excludePaymentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for pid, allocs := range m.allocations {
		if pid == excludePaymentID {
			continue
		}
		p, ok := m.payments[pid]
		if !ok || paymentPkg.IsTerminal(p.Status) {
			continue
		}
		for _, a := range allocs {
			if a.FeeItemID == feeItemID {
				count++
				break
			}
		}
	}
	return count, nil
}

func (m *mockStore) transactionsForPayment(paymentID int64) []payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Transaction
	for _, t := range m.transactions {
		if t.PaymentID != nil && *t.PaymentID == paymentID {
			out = append(out, t)
		}
	}
	return out
}

type mockLedgerAPI struct {
	store *mockStore
}

func (m *mockLedgerAPI) GetFeeItems(ids []int64) ([]*feeitem.FeeItem, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*feeitem.FeeItem
	for _, id := range ids {
		if item, ok := m.store.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockLedgerAPI) GetSettleableFeeItems(studentID int64) ([]*feeitem.FeeItem, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []*feeitem.FeeItem
	for id := int64(1); id < m.store.nextID; id++ {
		item, ok := m.store.items[id]
		if ok && item.StudentID == studentID && item.Settleable() {
			out = append(out, item)
		}
	}
	return out, nil
}

type mockRecalculator struct {
	mu    sync.Mutex
	calls []int64
}

func (m *mockRecalculator) Recalculate(ctx context.Context, studentID int64) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, studentID)
	return &account.Account{StudentID: studentID}, nil
}

type mockScorer struct {
	blocked bool
}

func (m *mockScorer) Score(req fraud.PaymentRequest, hist fraud.History) fraud.Result {
	if m.blocked {
		return fraud.Result{TotalScore: 60, Threshold: 50, Blocked: true}
	}
	return fraud.Result{TotalScore: 0, Threshold: 50}
}

type mockGateway struct {
	name        string
	result      *paymentPkg.InitiationResult
	initiateErr error
}

func (m *mockGateway) Name() string { return m.name }

func (m *mockGateway) Initiate(ctx context.Context, p *payment.Payment) (*paymentPkg.InitiationResult, error) {
	if m.initiateErr != nil {
		return nil, m.initiateErr
	}
	return m.result, nil
}

func pendingFeeItem(store *mockStore, studentID int64, amount string) *feeitem.FeeItem {
	original := money.MustFromString(amount)
	return store.addItem(&feeitem.FeeItem{
		StudentID:      studentID,
		OriginalAmount: original,
		AmountPaid:     money.Zero,
		Balance:        original,
		WaiverAmount:   money.Zero,
		Status:         feeitem.StatusPending,
	})
}

var _ = Describe("PaymentService", func() {
	var (
		service      *paymentPkg.Service
		store        *mockStore
		ledgerAPI    *mockLedgerAPI
		recalculator *mockRecalculator
		scorer       *mockScorer
		gw           *mockGateway
		ctx          context.Context
	)

	BeforeEach(func() {
		store = newMockStore()
		ledgerAPI = &mockLedgerAPI{store: store}
		recalculator = &mockRecalculator{}
		scorer = &mockScorer{}
		expiresAt := time.Now().Add(15 * time.Minute)
		gw = &mockGateway{
			name: "gcash",
			result: &paymentPkg.InitiationResult{
				TransactionID: "gc_txn_001",
				RedirectURL:   "https://checkout.example/gc_txn_001",
				ExpiresAt:     &expiresAt,
			},
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		bus := events.NewEventBus(logger)
		service = paymentPkg.NewService(
			store,
			ledgerAPI,
			recalculator,
			map[string]paymentPkg.GatewayInitiator{"gcash": gw},
			scorer,
			bus,
			logger,
		)
		ctx = context.Background()
	})

	Describe("InitiatePayment", func() {
		It("creates a pending payment with a redirect", func() {
			pendingFeeItem(store, 1, "5000.00")

			handle, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Blocked).To(BeFalse())
			Expect(handle.Status).To(Equal(payment.StatusPending))
			Expect(handle.RedirectURL).To(ContainSubstring("gc_txn_001"))
			Expect(handle.ReferenceNumber).To(HavePrefix("PAY-"))

			p, err := store.GetPayment(handle.PaymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(payment.StatusPending))

			Expect(store.details).To(HaveLen(1))
			Expect(store.details[0].GatewayTransactionID).To(Equal("gc_txn_001"))
		})

		It("marks candidate fee items processing", func() {
			item := pendingFeeItem(store, 1, "5000.00")

			_, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusProcessing))
		})

		It("returns a blocked handle without creating a payment", func() {
			pendingFeeItem(store, 1, "5000.00")
			scorer.blocked = true

			handle, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Blocked).To(BeTrue())
			Expect(handle.PaymentID).To(BeZero())
			Expect(store.payments).To(BeEmpty())
		})

		It("rejects an unknown payment method", func() {
			_, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "100.00",
				PaymentMethod: "barter",
			})
			Expect(err).To(HaveOccurred())
		})

		It("rejects a payment above the outstanding balance", func() {
			pendingFeeItem(store, 1, "5000.00")

			_, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.01",
				PaymentMethod: "gcash",
			})
			Expect(err).To(Equal(apperrors.ErrAmountExceeds))
		})

		It("fails the payment when the gateway errors", func() {
			pendingFeeItem(store, 1, "5000.00")
			gw.initiateErr = errors.New("connection refused")

			_, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).To(HaveOccurred())

			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayFailed))

			// the orphaned payment is failed, not left dangling
			for _, p := range store.payments {
				Expect(p.Status).To(Equal(payment.StatusFailed))
			}
		})

		It("honors explicit fee item selection", func() {
			first := pendingFeeItem(store, 1, "6000.00")
			second := pendingFeeItem(store, 1, "4000.00")

			handle, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "4000.00",
				PaymentMethod: "gcash",
				FeeItemIDs:    []int64{second.ID},
			})
			Expect(err).NotTo(HaveOccurred())

			allocs := store.allocations[handle.PaymentID]
			Expect(allocs).To(HaveLen(1))
			Expect(allocs[0].FeeItemID).To(Equal(second.ID))
			Expect(store.items[first.ID].Status).To(Equal(feeitem.StatusPending))
		})

		It("rejects fee items belonging to another student", func() {
			other := pendingFeeItem(store, 2, "5000.00")

			_, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "1000.00",
				PaymentMethod: "gcash",
				FeeItemIDs:    []int64{other.ID},
			})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Transition to completed", func() {
		var (
			item   *feeitem.FeeItem
			handle *paymentPkg.PaymentHandle
		)

		BeforeEach(func() {
			item = pendingFeeItem(store, 1, "5000.00")
			var err error
			handle, err = service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("applies the allocation, stamps paid_at and issues a receipt", func() {
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			p, err := store.GetPayment(handle.PaymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(payment.StatusCompleted))
			Expect(p.PaidAt).NotTo(BeNil())
			Expect(p.ReceiptNumber).NotTo(BeNil())
			Expect(*p.ReceiptNumber).To(HavePrefix("OR-"))

			Expect(store.items[item.ID].Balance.IsZero()).To(BeTrue())
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusPaid))
		})

		It("writes exactly one transaction record", func() {
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())
			Expect(store.transactionsForPayment(handle.PaymentID)).To(HaveLen(1))
		})

		It("recalculates the account after completion", func() {
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())
			Expect(recalculator.calls).To(ContainElement(int64(1)))
		})

		It("treats a replayed completion as a no-op", func() {
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			p, _ := store.GetPayment(handle.PaymentID)
			paidAt := *p.PaidAt
			receipt := *p.ReceiptNumber

			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			p, _ = store.GetPayment(handle.PaymentID)
			Expect(p.PaidAt.Equal(paidAt)).To(BeTrue())
			Expect(*p.ReceiptNumber).To(Equal(receipt))
			Expect(store.transactionsForPayment(handle.PaymentID)).To(HaveLen(1))
			Expect(store.items[item.ID].AmountPaid.String()).To(Equal("5000.00"))
		})

		It("refuses to leave a terminal state", func() {
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			// a late failure callback must not unsettle a completed payment
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusFailed, "late callback")).To(Succeed())

			p, _ := store.GetPayment(handle.PaymentID)
			Expect(p.Status).To(Equal(payment.StatusCompleted))
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusPaid))
		})

		It("splits a payment across two fee items exactly", func() {
			first := pendingFeeItem(store, 2, "6000.00")
			second := pendingFeeItem(store, 2, "4000.00")
			h, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     2,
				Amount:        "10000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(service.Transition(ctx, h.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			Expect(store.items[second.ID].Balance.IsZero()).To(BeTrue())
			Expect(store.items[first.ID].Balance.IsZero()).To(BeTrue())
			Expect(store.transactionsForPayment(h.PaymentID)).To(HaveLen(1))
		})

		It("records only the absorbed amount when an item was waived mid-flight", func() {
			first := pendingFeeItem(store, 3, "3000.00")
			second := pendingFeeItem(store, 3, "2000.00")
			h, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     3,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())

			// a waiver lands between initiation and the gateway callback
			store.mu.Lock()
			store.items[second.ID].WaiverAmount = store.items[second.ID].Balance
			store.items[second.ID].Balance = money.Zero
			store.items[second.ID].Status = feeitem.StatusWaived
			store.mu.Unlock()

			Expect(service.Transition(ctx, h.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			Expect(store.items[first.ID].Balance.IsZero()).To(BeTrue())
			txns := store.transactionsForPayment(h.PaymentID)
			Expect(txns).To(HaveLen(1))
			Expect(txns[0].Amount.String()).To(Equal("3000.00"))
		})

		It("retries conflicts before giving up", func() {
			store.conflicts = 2
			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusCompleted, "")).To(Succeed())

			store.conflicts = 10
			err := service.Transition(ctx, handle.PaymentID, payment.StatusFailed, "")
			Expect(err).To(Equal(apperrors.ErrConflictRetry))
		})
	})

	Describe("Transition to failed", func() {
		It("records the failure reason and reverts processing items", func() {
			item := pendingFeeItem(store, 1, "5000.00")
			handle, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "5000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusProcessing))

			Expect(service.Transition(ctx, handle.PaymentID, payment.StatusFailed, "insufficient funds")).To(Succeed())

			p, _ := store.GetPayment(handle.PaymentID)
			Expect(p.Status).To(Equal(payment.StatusFailed))
			Expect(p.FailureReason).NotTo(BeNil())
			Expect(*p.FailureReason).To(Equal("insufficient funds"))
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusPending))
			Expect(store.items[item.ID].AmountPaid.IsZero()).To(BeTrue())
		})

		It("keeps items processing while another payment is still active", func() {
			item := pendingFeeItem(store, 1, "5000.00")
			first, err := service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "2000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = service.InitiatePayment(ctx, &paymentPkg.InitiatePaymentRequest{
				StudentID:     1,
				Amount:        "1000.00",
				PaymentMethod: "gcash",
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(service.Transition(ctx, first.PaymentID, payment.StatusFailed, "expired")).To(Succeed())
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusProcessing))
		})
	})

	Describe("RecordManualPayment", func() {
		It("completes immediately with a receipt", func() {
			item := pendingFeeItem(store, 1, "3500.00")

			handle, err := service.RecordManualPayment(ctx, &paymentPkg.ManualPaymentRequest{
				StudentID:     1,
				Amount:        "3500.00",
				PaymentMethod: "cash",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(handle.Status).To(Equal(payment.StatusCompleted))
			Expect(handle.ReceiptNumber).To(HavePrefix("OR-"))
			Expect(store.items[item.ID].Status).To(Equal(feeitem.StatusPaid))
			Expect(recalculator.calls).To(ContainElement(int64(1)))
		})

		It("rejects gateway methods", func() {
			pendingFeeItem(store, 1, "3500.00")

			_, err := service.RecordManualPayment(ctx, &paymentPkg.ManualPaymentRequest{
				StudentID:     1,
				Amount:        "3500.00",
				PaymentMethod: "gcash",
			})
			Expect(err).To(HaveOccurred())
		})
	})
})
