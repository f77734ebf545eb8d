package ledger

import (
	"time"

	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/common/validation"
)

// AssessFeeRequest creates one fee item on a student's ledger.
type AssessFeeRequest struct {
	StudentID   int64      `json:"student_id"`
	Term        string     `json:"term"`
	Description string     `json:"description"`
	Amount      string     `json:"amount"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

func (r *AssessFeeRequest) Validate() *apperrors.AppError {
	v := validation.NewValidator()
	v.Field("student_id", r.StudentID).Required().MinInt(1, apperrors.ErrCodeValidationFailed)
	v.Field("term", r.Term).Required().MaxLength(50)
	v.Field("description", r.Description).Required().MaxLength(255)
	v.Field("amount", r.Amount).Required()
	return v.Validate()
}

// ApplyWaiverRequest reduces a fee item's balance. Exactly one of Amount or
// Percentage must be set.
type ApplyWaiverRequest struct {
	Amount     string `json:"amount,omitempty"`
	Percentage string `json:"percentage,omitempty"`
	Reason     string `json:"reason"`
}

func (r *ApplyWaiverRequest) Validate() *apperrors.AppError {
	v := validation.NewValidator()
	v.Field("reason", r.Reason).Required().MaxLength(255)
	if err := v.Validate(); err != nil {
		return err
	}

	if (r.Amount == "") == (r.Percentage == "") {
		return apperrors.NewValidationError("provide exactly one of amount or percentage", apperrors.ErrCodeValidationFailed)
	}
	return nil
}
