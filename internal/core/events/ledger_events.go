package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted     = "payment.completed"
	EventTypePaymentFailed        = "payment.failed"
	EventTypePaymentStatusChanged = "payment.status_changed"
	EventTypeWaiverApplied        = "ledger.waiver_applied"
	EventTypeStudentPromoted      = "student.promoted"
)

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID       int64  `json:"payment_id"`
	StudentID       int64  `json:"student_id"`
	ReferenceNumber string `json:"reference_number"`
	ReceiptNumber   string `json:"receipt_number"`
	Amount          string `json:"amount"`
	PaymentMethod   string `json:"payment_method"`
}

func NewPaymentCompletedEvent(paymentID, studentID int64, referenceNumber, receiptNumber, amount, method string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":       paymentID,
				"student_id":       studentID,
				"reference_number": referenceNumber,
				"receipt_number":   receiptNumber,
				"amount":           amount,
				"payment_method":   method,
			},
		},
		PaymentID:       paymentID,
		StudentID:       studentID,
		ReferenceNumber: referenceNumber,
		ReceiptNumber:   receiptNumber,
		Amount:          amount,
		PaymentMethod:   method,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID       int64  `json:"payment_id"`
	StudentID       int64  `json:"student_id"`
	ReferenceNumber string `json:"reference_number"`
	Amount          string `json:"amount"`
	FailureReason   string `json:"failure_reason"`
}

func NewPaymentFailedEvent(paymentID, studentID int64, referenceNumber, amount, failureReason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":       paymentID,
				"student_id":       studentID,
				"reference_number": referenceNumber,
				"amount":           amount,
				"failure_reason":   failureReason,
			},
		},
		PaymentID:       paymentID,
		StudentID:       studentID,
		ReferenceNumber: referenceNumber,
		Amount:          amount,
		FailureReason:   failureReason,
	}
}

type PaymentStatusChangedEvent struct {
	BaseEvent
	PaymentID int64  `json:"payment_id"`
	StudentID int64  `json:"student_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

func NewPaymentStatusChangedEvent(paymentID, studentID int64, oldStatus, newStatus string) *PaymentStatusChangedEvent {
	return &PaymentStatusChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentStatusChanged,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"student_id": studentID,
				"old_status": oldStatus,
				"new_status": newStatus,
			},
		},
		PaymentID: paymentID,
		StudentID: studentID,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	}
}

type WaiverAppliedEvent struct {
	BaseEvent
	FeeItemID    int64  `json:"fee_item_id"`
	StudentID    int64  `json:"student_id"`
	WaivedAmount string `json:"waived_amount"`
	Reason       string `json:"reason"`
}

func NewWaiverAppliedEvent(feeItemID, studentID int64, waivedAmount, reason string) *WaiverAppliedEvent {
	return &WaiverAppliedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeWaiverApplied,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"fee_item_id":   feeItemID,
				"student_id":    studentID,
				"waived_amount": waivedAmount,
				"reason":        reason,
			},
		},
		FeeItemID:    feeItemID,
		StudentID:    studentID,
		WaivedAmount: waivedAmount,
		Reason:       reason,
	}
}

type StudentPromotedEvent struct {
	BaseEvent
	StudentID int64  `json:"student_id"`
	FromLevel string `json:"from_level"`
	ToLevel   string `json:"to_level"`
	Graduated bool   `json:"graduated"`
}

func NewStudentPromotedEvent(studentID int64, fromLevel, toLevel string, graduated bool) *StudentPromotedEvent {
	return &StudentPromotedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeStudentPromoted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"student_id": studentID,
				"from_level": fromLevel,
				"to_level":   toLevel,
				"graduated":  graduated,
			},
		},
		StudentID: studentID,
		FromLevel: fromLevel,
		ToLevel:   toLevel,
		Graduated: graduated,
	}
}
