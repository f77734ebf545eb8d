package payment

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService *Service
	Logger         *slog.Logger
}

func NewHandler(paymentService *Service, logger *slog.Logger) *Handler {
	return &Handler{
		BaseHandler:    *transport.NewBaseHandler(logger),
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// InitiatePayment handles POST /api/v1/payments
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("InitiatePayment: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeValidationFailed))
		return
	}

	req.IPAddress = clientIP(r)
	req.Country = r.Header.Get("X-Client-Country")
	req.Latitude = parseCoordinate(r.Header.Get("X-Client-Latitude"))
	req.Longitude = parseCoordinate(r.Header.Get("X-Client-Longitude"))
	if req.DeviceFingerprint == "" {
		req.DeviceFingerprint = r.Header.Get("X-Device-Fingerprint")
	}

	handle, err := h.PaymentService.InitiatePayment(r.Context(), &req)
	if err != nil {
		h.Logger.Error("InitiatePayment: service error", "error", err, "student_id", req.StudentID)
		h.HandleServiceError(w, err)
		return
	}

	if handle.Blocked {
		h.Logger.Warn("InitiatePayment: payment blocked", "student_id", req.StudentID)
		h.HandleError(w, apperrors.NewFraudBlockedError())
		return
	}

	h.Logger.Info("InitiatePayment: payment initiated",
		"payment_id", handle.PaymentID,
		"student_id", req.StudentID,
		"reference_number", handle.ReferenceNumber)

	h.WriteJSON(w, http.StatusCreated, handle)
}

// RecordManualPayment handles POST /api/v1/payments/manual
func (h *Handler) RecordManualPayment(w http.ResponseWriter, r *http.Request) {
	staffID := apperrors.StaffIDFromContext(r.Context())
	if staffID == "" {
		h.HandleError(w, apperrors.NewValidationError("staff identity required", apperrors.ErrCodeValidationFailed))
		return
	}

	var req ManualPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("RecordManualPayment: failed to parse request body", "error", err)
		h.HandleError(w, apperrors.NewValidationError("invalid request body", apperrors.ErrCodeValidationFailed))
		return
	}

	handle, err := h.PaymentService.RecordManualPayment(r.Context(), &req)
	if err != nil {
		h.Logger.Error("RecordManualPayment: service error", "error", err, "student_id", req.StudentID, "staff_id", staffID)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("RecordManualPayment: payment recorded",
		"payment_id", handle.PaymentID,
		"student_id", req.StudentID,
		"staff_id", staffID,
		"receipt_number", handle.ReceiptNumber)

	h.WriteJSON(w, http.StatusCreated, handle)
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid payment id", apperrors.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.GetPayment(id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

// GetPaymentByReference handles GET /api/v1/payments/reference/{reference}
func (h *Handler) GetPaymentByReference(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		h.HandleError(w, apperrors.NewValidationError("reference number is required", apperrors.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.GetPaymentByReference(reference)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, p)
}

// ListStudentPayments handles GET /api/v1/students/{studentID}/payments
func (h *Handler) ListStudentPayments(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil {
		h.HandleError(w, apperrors.NewValidationError("invalid student id", apperrors.ErrCodeValidationFailed))
		return
	}

	limit := queryInt(r, "limit", 20)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	payments, err := h.PaymentService.GetStudentPayments(studentID, limit, offset)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseCoordinate(raw string) float64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
