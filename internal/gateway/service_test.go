package gateway_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	paymentdomain "github.com/jccalsado/tuition-portal/internal/payment"
	"github.com/jccalsado/tuition-portal/internal/gateway"
)

// fakeGateway gives the reconciliation tests full control over signature
// verification, parsing and normalization without any HTTP.
type fakeGateway struct {
	name         string
	validSig     bool
	parsedEvent  *gateway.WebhookEvent
	parseErr     error
	statusMap    map[string]string
	polledStatus string
	pollErr      error
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) Initiate(ctx context.Context, p *payment.Payment) (*paymentdomain.InitiationResult, error) {
	return nil, nil
}

func (f *fakeGateway) VerifySignature(payload []byte, signature string) bool {
	return f.validSig
}

func (f *fakeGateway) ParseWebhook(payload []byte) (*gateway.WebhookEvent, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.parsedEvent, nil
}

func (f *fakeGateway) NormalizeStatus(gatewayStatus string) (string, bool) {
	status, ok := f.statusMap[gatewayStatus]
	return status, ok
}

func (f *fakeGateway) CheckStatus(ctx context.Context, transactionID string) (string, error) {
	if f.pollErr != nil {
		return "", f.pollErr
	}
	return f.polledStatus, nil
}

type mockDetailRepository struct {
	details   map[string]*payment.GatewayDetail
	processed []string
}

func newMockDetailRepository() *mockDetailRepository {
	return &mockDetailRepository{details: make(map[string]*payment.GatewayDetail)}
}

func (m *mockDetailRepository) add(d *payment.GatewayDetail) {
	m.details[d.Gateway+"/"+d.GatewayTransactionID] = d
}

func (m *mockDetailRepository) GetByTransaction(gatewayName, transactionID string) (*payment.GatewayDetail, error) {
	d, ok := m.details[gatewayName+"/"+transactionID]
	if !ok {
		return nil, gateway.ErrDetailNotFound
	}
	return d, nil
}

func (m *mockDetailRepository) GetLatestByPayment(paymentID int64) (*payment.GatewayDetail, error) {
	for _, d := range m.details {
		if d.PaymentID == paymentID {
			return d, nil
		}
	}
	return nil, gateway.ErrDetailNotFound
}

func (m *mockDetailRepository) MarkProcessed(id int64, gatewayStatus string, response json.RawMessage, processedAt time.Time) error {
	m.processed = append(m.processed, gatewayStatus)
	return nil
}

type mockPaymentAPI struct {
	payments    map[int64]*payment.Payment
	transitions []string
}

func newMockPaymentAPI() *mockPaymentAPI {
	return &mockPaymentAPI{payments: make(map[int64]*payment.Payment)}
}

func (m *mockPaymentAPI) GetPayment(id int64) (*payment.Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, paymentdomain.ErrNotFound
	}
	return p, nil
}

func (m *mockPaymentAPI) Transition(ctx context.Context, paymentID int64, target, failureReason string) error {
	m.transitions = append(m.transitions, target)
	m.payments[paymentID].Status = target
	if failureReason != "" {
		m.payments[paymentID].FailureReason = &failureReason
	}
	return nil
}

var _ = Describe("ReconciliationService", func() {
	var (
		service  *gateway.Service
		gw       *fakeGateway
		details  *mockDetailRepository
		payments *mockPaymentAPI
		ctx      context.Context
	)

	BeforeEach(func() {
		gw = &fakeGateway{
			name:     "gcash",
			validSig: true,
			parsedEvent: &gateway.WebhookEvent{
				TransactionID: "gc_1",
				Status:        "SUCCESS",
			},
			statusMap: map[string]string{
				"SUCCESS": payment.StatusCompleted,
				"FAILED":  payment.StatusFailed,
			},
		}
		details = newMockDetailRepository()
		payments = newMockPaymentAPI()
		service = gateway.NewService(
			map[string]gateway.Gateway{"gcash": gw},
			details,
			payments,
			testLogger(),
		)
		ctx = context.Background()

		details.add(&payment.GatewayDetail{
			ID:                   1,
			PaymentID:            10,
			Gateway:              "gcash",
			GatewayTransactionID: "gc_1",
		})
		payments.payments[10] = &payment.Payment{ID: 10, StudentID: 1, Status: payment.StatusPending}
	})

	Describe("ProcessWebhook", func() {
		It("applies a successful outcome and records processing", func() {
			err := service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")
			Expect(err).NotTo(HaveOccurred())
			Expect(payments.transitions).To(Equal([]string{payment.StatusCompleted}))
			Expect(details.processed).To(Equal([]string{"SUCCESS"}))
		})

		It("carries the failure reason into the transition", func() {
			gw.parsedEvent = &gateway.WebhookEvent{
				TransactionID: "gc_1",
				Status:        "FAILED",
				FailureReason: "card declined",
			}

			Expect(service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")).To(Succeed())
			Expect(payments.payments[10].Status).To(Equal(payment.StatusFailed))
			Expect(*payments.payments[10].FailureReason).To(Equal("card declined"))
		})

		It("rejects an unknown gateway", func() {
			err := service.ProcessWebhook(ctx, "venmo", []byte(`{}`), "sig")
			Expect(err).To(Equal(apperrors.ErrUnknownGateway))
		})

		It("rejects an invalid signature before any lookup", func() {
			gw.validSig = false

			err := service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "bad")
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidSignature))
			Expect(payments.transitions).To(BeEmpty())
		})

		It("rejects an unparseable payload", func() {
			gw.parseErr = gateway.ErrUnparseableWebhook

			err := service.ProcessWebhook(ctx, "gcash", []byte(`garbage`), "sig")
			Expect(err).To(HaveOccurred())
			Expect(payments.transitions).To(BeEmpty())
		})

		It("reports an unknown transaction as not found", func() {
			gw.parsedEvent.TransactionID = "gc_missing"

			err := service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeUnknownTransaction))
		})

		It("records informational statuses without touching the payment", func() {
			gw.parsedEvent.Status = "PROCESSING"

			Expect(service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")).To(Succeed())
			Expect(payments.transitions).To(BeEmpty())
			Expect(details.processed).To(Equal([]string{"PROCESSING"}))
		})

		It("absorbs a replay of an already applied outcome", func() {
			payments.payments[10].Status = payment.StatusCompleted

			Expect(service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")).To(Succeed())
			Expect(payments.transitions).To(BeEmpty())
			Expect(details.processed).To(Equal([]string{"SUCCESS"}))
		})

		It("never reopens a payment already in a terminal state", func() {
			payments.payments[10].Status = payment.StatusCancelled

			Expect(service.ProcessWebhook(ctx, "gcash", []byte(`{}`), "sig")).To(Succeed())
			Expect(payments.payments[10].Status).To(Equal(payment.StatusCancelled))
			Expect(payments.transitions).To(BeEmpty())
		})
	})

	Describe("CheckStatus", func() {
		It("polls the gateway and applies the result", func() {
			gw.polledStatus = "SUCCESS"

			Expect(service.CheckStatus(ctx, 10)).To(Succeed())
			Expect(payments.payments[10].Status).To(Equal(payment.StatusCompleted))
		})

		It("reports payments without a gateway attempt as not found", func() {
			err := service.CheckStatus(ctx, 999)
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeUnknownTransaction))
		})

		It("wraps poll failures as gateway errors", func() {
			gw.pollErr = gateway.ErrUnparseableWebhook

			err := service.CheckStatus(ctx, 10)
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeGatewayFailed))
		})
	})
})
