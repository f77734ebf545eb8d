package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	paymentdomain "github.com/jccalsado/tuition-portal/internal/payment"
)

const StripeName = "stripe"

var stripeEvents = map[string]string{
	"checkout.session.completed":     payment.StatusCompleted,
	"checkout.session.expired":       payment.StatusCancelled,
	"payment_intent.payment_failed":  payment.StatusFailed,
	"payment_intent.canceled":        payment.StatusCancelled,
	"checkout.session.async_failure": payment.StatusFailed,
}

type StripeGateway struct {
	cfg    internal.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewStripeGateway(cfg internal.GatewayConfig, logger *slog.Logger) *StripeGateway {
	return &StripeGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (g *StripeGateway) Name() string { return StripeName }

func (g *StripeGateway) Initiate(ctx context.Context, p *payment.Payment) (*paymentdomain.InitiationResult, error) {
	// Stripe takes form-encoded bodies and amounts in minor units.
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", p.ReferenceNumber)
	form.Set("line_items[0][price_data][currency]", "php")
	form.Set("line_items[0][price_data][product_data][name]", "Tuition payment")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(p.Amount.Centavos(), 10))
	form.Set("line_items[0][quantity]", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stripe session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stripe session returned status %d", resp.StatusCode)
	}

	var apiResponse struct {
		ID        string `json:"id"`
		URL       string `json:"url"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to decode stripe response: %w", err)
	}
	raw, _ := json.Marshal(apiResponse)

	expiresAt := time.Now().Add(g.cfg.Expiry)
	if apiResponse.ExpiresAt > 0 {
		expiresAt = time.Unix(apiResponse.ExpiresAt, 0)
	}

	g.logger.Info("stripe checkout session created",
		"reference_number", p.ReferenceNumber,
		"session_id", apiResponse.ID)

	return &paymentdomain.InitiationResult{
		TransactionID: apiResponse.ID,
		RedirectURL:   apiResponse.URL,
		ExpiresAt:     &expiresAt,
		Raw:           raw,
	}, nil
}

func (g *StripeGateway) VerifySignature(payload []byte, signature string) bool {
	return verifyHMAC(g.cfg.WebhookSecret, payload, signature)
}

func (g *StripeGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID               string `json:"id"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrUnparseableWebhook
	}
	if body.Type == "" || body.Data.Object.ID == "" {
		return nil, ErrUnparseableWebhook
	}
	return &WebhookEvent{
		TransactionID: body.Data.Object.ID,
		Status:        body.Type,
		FailureReason: body.Data.Object.LastPaymentError.Message,
		Raw:           payload,
	}, nil
}

func (g *StripeGateway) NormalizeStatus(gatewayStatus string) (string, bool) {
	status, ok := stripeEvents[gatewayStatus]
	return status, ok
}

func (g *StripeGateway) CheckStatus(ctx context.Context, transactionID string) (string, error) {
	statusURL := fmt.Sprintf("%s/v1/checkout/sessions/%s", g.cfg.BaseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stripe status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stripe status returned %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode stripe status: %w", err)
	}

	switch body.Status {
	case "complete":
		return "checkout.session.completed", nil
	case "expired":
		return "checkout.session.expired", nil
	default:
		return body.Status, nil
	}
}
