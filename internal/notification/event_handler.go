package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jccalsado/tuition-portal/internal/core/events"
)

// EventHandler turns ledger and payment events into outbound notices.
// Delivery is fire-and-forget: a failed notice never affects the payment
// that triggered it.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger}
}

func (h *EventHandler) HandlePaymentCompleted(ctx context.Context, event events.Event) error {
	completed, ok := event.(*events.PaymentCompletedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment completed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentCompletedEvent, got %T", event)
	}

	h.logger.Info("sending payment receipt",
		"payment_id", completed.PaymentID,
		"student_id", completed.StudentID,
		"receipt_number", completed.ReceiptNumber,
		"amount", completed.Amount,
		"event_id", completed.EventID())

	return nil
}

func (h *EventHandler) HandlePaymentFailed(ctx context.Context, event events.Event) error {
	failed, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		h.logger.Error("invalid event type for payment failed handler", "event_type", event.EventType())
		return fmt.Errorf("expected PaymentFailedEvent, got %T", event)
	}

	h.logger.Info("notifying student of failed payment",
		"payment_id", failed.PaymentID,
		"student_id", failed.StudentID,
		"failure_reason", failed.FailureReason,
		"event_id", failed.EventID())

	return nil
}

func (h *EventHandler) HandleWaiverApplied(ctx context.Context, event events.Event) error {
	waiver, ok := event.(*events.WaiverAppliedEvent)
	if !ok {
		h.logger.Error("invalid event type for waiver handler", "event_type", event.EventType())
		return fmt.Errorf("expected WaiverAppliedEvent, got %T", event)
	}

	h.logger.Info("notifying student of applied waiver",
		"fee_item_id", waiver.FeeItemID,
		"student_id", waiver.StudentID,
		"waived_amount", waiver.WaivedAmount,
		"event_id", waiver.EventID())

	return nil
}

func (h *EventHandler) HandleStudentPromoted(ctx context.Context, event events.Event) error {
	promoted, ok := event.(*events.StudentPromotedEvent)
	if !ok {
		h.logger.Error("invalid event type for promotion handler", "event_type", event.EventType())
		return fmt.Errorf("expected StudentPromotedEvent, got %T", event)
	}

	h.logger.Info("notifying student of promotion",
		"student_id", promoted.StudentID,
		"from_level", promoted.FromLevel,
		"to_level", promoted.ToLevel,
		"graduated", promoted.Graduated,
		"event_id", promoted.EventID())

	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypePaymentCompleted, h.HandlePaymentCompleted)
	eventBus.Subscribe(events.EventTypePaymentFailed, h.HandlePaymentFailed)
	eventBus.Subscribe(events.EventTypeWaiverApplied, h.HandleWaiverApplied)
	eventBus.Subscribe(events.EventTypeStudentPromoted, h.HandleStudentPromoted)

	h.logger.Info("notification event handlers registered",
		"handlers", []string{
			events.EventTypePaymentCompleted,
			events.EventTypePaymentFailed,
			events.EventTypeWaiverApplied,
			events.EventTypeStudentPromoted,
		})
}
