package account

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	AccountService *Service
	Logger         *slog.Logger
}

func NewHandler(accountService *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    *transport.NewBaseHandler(logger),
		AccountService: accountService,
		Logger:         logger,
	}
}

// GetBalance handles GET /api/v1/students/{studentID}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid student id", apperrors.ErrCodeValidationFailed))
		return
	}

	acct, err := h.AccountService.Recalculate(r.Context(), studentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, acct)
}

// VerifyBalance handles GET /api/v1/students/{studentID}/balance/verify
func (h *Handler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid student id", apperrors.ErrCodeValidationFailed))
		return
	}

	consistent, feeView, txnView, err := h.AccountService.VerifyBalanceViews(studentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"consistent":       consistent,
		"fee_item_view":    feeView.String(),
		"transaction_view": txnView.String(),
	})
}
