package payment

import (
	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/common/validation"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
)

var gatewayMethods = []string{
	payment.MethodGCash,
	payment.MethodPayPal,
	payment.MethodStripe,
}

var manualMethods = []string{
	payment.MethodCash,
	payment.MethodCheque,
	payment.MethodBankTxn,
}

// InitiatePaymentRequest starts a gateway payment. FeeItemIDs is optional;
// when empty the payment is allocated oldest-first across the student's
// outstanding items.
type InitiatePaymentRequest struct {
	StudentID     int64   `json:"student_id"`
	Amount        string  `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	FeeItemIDs    []int64 `json:"fee_item_ids,omitempty"`

	DeviceFingerprint string  `json:"device_fingerprint,omitempty"`
	IPAddress         string  `json:"-"`
	Country           string  `json:"-"`
	Latitude          float64 `json:"-"`
	Longitude         float64 `json:"-"`
}

func (r *InitiatePaymentRequest) Validate() *apperrors.AppError {
	v := validation.NewValidator()
	v.Field("student_id", r.StudentID).Required().MinInt(1, apperrors.ErrCodeValidationFailed)
	v.Field("amount", r.Amount).Required()
	v.Field("payment_method", r.PaymentMethod).Required().OneOf(gatewayMethods, apperrors.ErrCodeInvalidMethod)
	return v.Validate()
}

// ManualPaymentRequest records an over-the-counter payment entered by staff.
type ManualPaymentRequest struct {
	StudentID     int64   `json:"student_id"`
	Amount        string  `json:"amount"`
	PaymentMethod string  `json:"payment_method"`
	FeeItemIDs    []int64 `json:"fee_item_ids,omitempty"`
	Notes         string  `json:"notes,omitempty"`
}

func (r *ManualPaymentRequest) Validate() *apperrors.AppError {
	v := validation.NewValidator()
	v.Field("student_id", r.StudentID).Required().MinInt(1, apperrors.ErrCodeValidationFailed)
	v.Field("amount", r.Amount).Required()
	v.Field("payment_method", r.PaymentMethod).Required().OneOf(manualMethods, apperrors.ErrCodeInvalidMethod)
	v.Field("notes", r.Notes).MaxLength(500)
	return v.Validate()
}
