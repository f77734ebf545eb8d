package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/jccalsado/tuition-portal/internal/transport"
	"github.com/shopspring/decimal"
)

type Handler struct {
	transport.BaseHandler
	LedgerService *Service
	Logger        *slog.Logger
}

func NewHandler(ledgerService *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:   *transport.NewBaseHandler(logger),
		LedgerService: ledgerService,
		Logger:        logger,
	}
}

// AssessFee handles POST /api/v1/fee-items
func (h *Handler) AssessFee(w http.ResponseWriter, r *http.Request) {
	staffID := apperrors.StaffIDFromContext(r.Context())
	if staffID == "" {
		h.HandleError(w, apperrors.NewValidationError("staff identity required", apperrors.ErrCodeValidationFailed))
		return
	}

	var req AssessFeeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("AssessFee: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	amount, err := money.FromString(req.Amount)
	if err != nil {
		h.HandleError(w, apperrors.ErrInvalidAmount)
		return
	}

	item := &feeitem.FeeItem{
		StudentID:      req.StudentID,
		Term:           req.Term,
		Description:    req.Description,
		OriginalAmount: amount,
		DueDate:        req.DueDate,
	}
	if err := h.LedgerService.AssessFee(item); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("AssessFee: fee assessed",
		"fee_item_id", item.ID,
		"student_id", req.StudentID,
		"amount", amount.String(),
		"staff_id", staffID)

	h.WriteJSON(w, http.StatusCreated, item)
}

// GetFeeItem handles GET /api/v1/fee-items/{id}
func (h *Handler) GetFeeItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid fee item id", apperrors.ErrCodeValidationFailed))
		return
	}

	item, err := h.LedgerService.GetFeeItem(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, item)
}

// ListStudentFeeItems handles GET /api/v1/students/{studentID}/fee-items
func (h *Handler) ListStudentFeeItems(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid student id", apperrors.ErrCodeValidationFailed))
		return
	}

	items, err := h.LedgerService.GetSettleableFeeItems(studentID)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fee_items": items,
	})
}

// ApplyWaiver handles POST /api/v1/fee-items/{id}/waiver
func (h *Handler) ApplyWaiver(w http.ResponseWriter, r *http.Request) {
	staffID := apperrors.StaffIDFromContext(r.Context())
	if staffID == "" {
		h.HandleError(w, apperrors.NewValidationError("staff identity required", apperrors.ErrCodeValidationFailed))
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid fee item id", apperrors.ErrCodeValidationFailed))
		return
	}

	var req ApplyWaiverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("ApplyWaiver: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	var waived money.Money
	if req.Amount != "" {
		amount, convErr := money.FromString(req.Amount)
		if convErr != nil {
			h.HandleError(w, apperrors.ErrInvalidAmount)
			return
		}
		waived, err = h.LedgerService.ApplyWaiver(r.Context(), id, amount, req.Reason)
	} else {
		pct, convErr := decimal.NewFromString(req.Percentage)
		if convErr != nil {
			h.HandleError(w, apperrors.NewValidationError("invalid percentage", apperrors.ErrCodeValidationFailed))
			return
		}
		waived, err = h.LedgerService.ApplyWaiverPercentage(r.Context(), id, pct, req.Reason)
	}
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("ApplyWaiver: waiver applied",
		"fee_item_id", id,
		"waived", waived.String(),
		"staff_id", staffID)

	h.WriteJSON(w, http.StatusOK, map[string]string{
		"waived": waived.String(),
	})
}
