package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/transport"
)

const signatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps callback payloads at 1 MiB.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	transport.BaseHandler
	service *Service
	logger  *slog.Logger
}

func NewWebhookHandler(service *Service, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: *transport.NewBaseHandler(logger),
		service:     service,
		logger:      logger,
	}
}

// HandleWebhook handles POST /api/v1/webhooks/{gateway}
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayName := chi.URLParam(r, "gateway")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err, "gateway", gatewayName)
		h.HandleError(w, apperrors.NewValidationError("could not read request body", apperrors.ErrCodeValidationFailed))
		return
	}

	signature := r.Header.Get(signatureHeader)

	if err := h.service.ProcessWebhook(r.Context(), gatewayName, payload, signature); err != nil {
		h.logger.Error("webhook processing failed", "error", err, "gateway", gatewayName)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "callback processed successfully",
	})
}

// CheckStatus handles POST /api/v1/payments/{id}/check-status
func (h *WebhookHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid payment id", apperrors.ErrCodeValidationFailed))
		return
	}

	if err := h.service.CheckStatus(r.Context(), paymentID); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "payment status reconciled",
	})
}
