package account

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jccalsado/tuition-portal/internal/core/events"
)

// EventHandler keeps account balances in sync with ledger mutations that
// happen outside the payment flow. Waivers settle fee items without a
// payment completion, so the recalculation has to be driven from here.
type EventHandler struct {
	service *Service
	logger  *slog.Logger
}

func NewEventHandler(service *Service, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, logger: logger}
}

func (h *EventHandler) HandleWaiverApplied(ctx context.Context, event events.Event) error {
	waiver, ok := event.(*events.WaiverAppliedEvent)
	if !ok {
		h.logger.Error("invalid event type for waiver recalculation handler", "event_type", event.EventType())
		return fmt.Errorf("expected WaiverAppliedEvent, got %T", event)
	}

	if _, err := h.service.Recalculate(ctx, waiver.StudentID); err != nil {
		h.logger.Error("account recalculation after waiver failed",
			"error", err,
			"student_id", waiver.StudentID,
			"fee_item_id", waiver.FeeItemID)
		return err
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeWaiverApplied, h.HandleWaiverApplied)

	h.logger.Info("account event handlers registered",
		"handlers", []string{events.EventTypeWaiverApplied})
}
