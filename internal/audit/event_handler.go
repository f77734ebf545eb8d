package audit

import (
	"context"
	"log/slog"

	"github.com/jccalsado/tuition-portal/internal/core/events"
)

// EventHandler writes an audit log line for every financial mutation that
// crosses the event bus. It subscribes to every event type so a new event
// missing an audit trail shows up as a wiring bug, not silence.
type EventHandler struct {
	logger *slog.Logger
}

func NewEventHandler(logger *slog.Logger) *EventHandler {
	return &EventHandler{logger: logger.With("component", "audit")}
}

func (h *EventHandler) HandleEvent(ctx context.Context, event events.Event) error {
	h.logger.Info("audit",
		"event_type", event.EventType(),
		"event_id", event.EventID(),
		"occurred_at", event.OccurredAt(),
		"data", event.Payload())
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	for _, eventType := range []string{
		events.EventTypePaymentCompleted,
		events.EventTypePaymentFailed,
		events.EventTypePaymentStatusChanged,
		events.EventTypeWaiverApplied,
		events.EventTypeStudentPromoted,
	} {
		eventBus.Subscribe(eventType, h.HandleEvent)
	}
}
