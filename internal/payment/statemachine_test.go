package payment_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	paymentPkg "github.com/jccalsado/tuition-portal/internal/payment"
)

var _ = Describe("state machine", func() {
	Describe("IsTerminal", func() {
		It("marks completed, failed and cancelled terminal", func() {
			Expect(paymentPkg.IsTerminal(payment.StatusCompleted)).To(BeTrue())
			Expect(paymentPkg.IsTerminal(payment.StatusFailed)).To(BeTrue())
			Expect(paymentPkg.IsTerminal(payment.StatusCancelled)).To(BeTrue())
		})

		It("marks initiated and pending non-terminal", func() {
			Expect(paymentPkg.IsTerminal(payment.StatusInitiated)).To(BeFalse())
			Expect(paymentPkg.IsTerminal(payment.StatusPending)).To(BeFalse())
		})
	})

	Describe("CanTransition", func() {
		It("allows initiated to pending", func() {
			Expect(paymentPkg.CanTransition(payment.StatusInitiated, payment.StatusPending)).To(BeTrue())
		})

		It("allows any non-terminal state straight to a terminal state", func() {
			for _, from := range []string{payment.StatusInitiated, payment.StatusPending} {
				for _, to := range []string{payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled} {
					Expect(paymentPkg.CanTransition(from, to)).To(BeTrue(), "%s -> %s", from, to)
				}
			}
		})

		It("allows nothing out of a terminal state", func() {
			for _, from := range []string{payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled} {
				for _, to := range []string{payment.StatusInitiated, payment.StatusPending, payment.StatusCompleted, payment.StatusFailed, payment.StatusCancelled} {
					Expect(paymentPkg.CanTransition(from, to)).To(BeFalse(), "%s -> %s", from, to)
				}
			}
		})

		It("refuses pending back to initiated", func() {
			Expect(paymentPkg.CanTransition(payment.StatusPending, payment.StatusInitiated)).To(BeFalse())
		})
	})
})
