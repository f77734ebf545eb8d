package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	apperrors "github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
)

var ErrDetailNotFound = errors.New("gateway detail not found")

// DetailRepository persists the per-gateway leg of a payment.
type DetailRepository interface {
	GetByTransaction(gateway, transactionID string) (*payment.GatewayDetail, error)
	GetLatestByPayment(paymentID int64) (*payment.GatewayDetail, error)
	MarkProcessed(id int64, gatewayStatus string, response json.RawMessage, processedAt time.Time) error
}

// PaymentAPI is the slice of the payment service reconciliation drives.
type PaymentAPI interface {
	GetPayment(id int64) (*payment.Payment, error)
	Transition(ctx context.Context, paymentID int64, target string, failureReason string) error
}

// Service reconciles external gateway outcomes with internal payment
// state. Webhooks and status polls converge on the same transition path,
// so replays and races resolve to a single applied outcome.
type Service struct {
	gateways map[string]Gateway
	details  DetailRepository
	payments PaymentAPI
	logger   *slog.Logger
}

func NewService(gateways map[string]Gateway, details DetailRepository, payments PaymentAPI, logger *slog.Logger) *Service {
	return &Service{
		gateways: gateways,
		details:  details,
		payments: payments,
		logger:   logger,
	}
}

// ProcessWebhook verifies, parses and applies one gateway callback.
// Signature failures reject before any lookup. Replays of an already
// applied outcome return success without touching the payment.
func (s *Service) ProcessWebhook(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	gw, ok := s.gateways[gatewayName]
	if !ok {
		return apperrors.ErrUnknownGateway
	}

	if !gw.VerifySignature(payload, signature) {
		s.logger.Warn("webhook signature verification failed", "gateway", gatewayName)
		return apperrors.NewValidationError("invalid webhook signature", apperrors.ErrCodeInvalidSignature)
	}

	event, err := gw.ParseWebhook(payload)
	if err != nil {
		s.logger.Error("webhook payload unparseable", "gateway", gatewayName, "error", err)
		return apperrors.NewValidationError("invalid webhook payload", apperrors.ErrCodeValidationFailed)
	}

	detail, err := s.details.GetByTransaction(gatewayName, event.TransactionID)
	if err != nil {
		if errors.Is(err, ErrDetailNotFound) {
			s.logger.Warn("webhook for unknown transaction",
				"gateway", gatewayName,
				"transaction_id", event.TransactionID)
			return apperrors.NewNotFoundError("unknown gateway transaction", apperrors.ErrCodeUnknownTransaction)
		}
		return err
	}

	return s.applyOutcome(ctx, gw, detail, event.Status, event.FailureReason, event.Raw)
}

// CheckStatus polls the gateway for a payment whose callback may have
// been missed and applies the result through the same path as webhooks.
func (s *Service) CheckStatus(ctx context.Context, paymentID int64) error {
	detail, err := s.details.GetLatestByPayment(paymentID)
	if err != nil {
		if errors.Is(err, ErrDetailNotFound) {
			return apperrors.NewNotFoundError("no gateway attempt recorded for payment", apperrors.ErrCodeUnknownTransaction)
		}
		return err
	}

	gw, ok := s.gateways[detail.Gateway]
	if !ok {
		return apperrors.ErrUnknownGateway
	}

	status, err := gw.CheckStatus(ctx, detail.GatewayTransactionID)
	if err != nil {
		s.logger.Error("gateway status check failed",
			"error", err,
			"gateway", detail.Gateway,
			"payment_id", paymentID)
		return apperrors.NewGatewayError("could not retrieve payment status", apperrors.ErrCodeGatewayFailed, err)
	}

	return s.applyOutcome(ctx, gw, detail, status, "", nil)
}

func (s *Service) applyOutcome(ctx context.Context, gw Gateway, detail *payment.GatewayDetail, gatewayStatus, failureReason string, raw json.RawMessage) error {
	target, mapped := gw.NormalizeStatus(gatewayStatus)
	if !mapped {
		// informational event, record it and move on
		s.logger.Info("gateway status carries no state change",
			"gateway", gw.Name(),
			"gateway_status", gatewayStatus,
			"payment_id", detail.PaymentID)
		return s.details.MarkProcessed(detail.ID, gatewayStatus, raw, time.Now())
	}

	p, err := s.payments.GetPayment(detail.PaymentID)
	if err != nil {
		return err
	}

	if p.Status == target || p.IsTerminal() {
		s.logger.Info("gateway outcome already applied",
			"gateway", gw.Name(),
			"payment_id", p.ID,
			"status", p.Status,
			"gateway_status", gatewayStatus)
		return s.details.MarkProcessed(detail.ID, gatewayStatus, raw, time.Now())
	}

	if err := s.payments.Transition(ctx, detail.PaymentID, target, failureReason); err != nil {
		return err
	}

	s.logger.Info("gateway outcome applied",
		"gateway", gw.Name(),
		"payment_id", detail.PaymentID,
		"gateway_status", gatewayStatus,
		"status", target)

	return s.details.MarkProcessed(detail.ID, gatewayStatus, raw, time.Now())
}
