package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	paymentdomain "github.com/jccalsado/tuition-portal/internal/payment"
)

const GCashName = "gcash"

// GCash checkout sessions expire; expired sessions come back as EXPIRED
// and cancel the payment rather than failing it.
var gcashStatuses = map[string]string{
	"SUCCESS":   payment.StatusCompleted,
	"FAILED":    payment.StatusFailed,
	"CANCELLED": payment.StatusFailed,
	"EXPIRED":   payment.StatusCancelled,
}

type GCashGateway struct {
	cfg    internal.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewGCashGateway(cfg internal.GatewayConfig, logger *slog.Logger) *GCashGateway {
	return &GCashGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (g *GCashGateway) Name() string { return GCashName }

func (g *GCashGateway) Initiate(ctx context.Context, p *payment.Payment) (*paymentdomain.InitiationResult, error) {
	body := map[string]interface{}{
		"reference_number": p.ReferenceNumber,
		"amount":           p.Amount.String(),
		"currency":         "PHP",
		"description":      "Tuition payment",
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkout request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/checkout", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gcash checkout request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gcash checkout returned status %d", resp.StatusCode)
	}

	var apiResponse struct {
		CheckoutID  string `json:"checkout_id"`
		CheckoutURL string `json:"checkout_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to decode gcash response: %w", err)
	}
	raw, _ := json.Marshal(apiResponse)

	expiresAt := time.Now().Add(g.cfg.Expiry)

	g.logger.Info("gcash checkout created",
		"reference_number", p.ReferenceNumber,
		"checkout_id", apiResponse.CheckoutID)

	return &paymentdomain.InitiationResult{
		TransactionID: apiResponse.CheckoutID,
		RedirectURL:   apiResponse.CheckoutURL,
		ExpiresAt:     &expiresAt,
		Raw:           raw,
	}, nil
}

func (g *GCashGateway) VerifySignature(payload []byte, signature string) bool {
	return verifyHMAC(g.cfg.WebhookSecret, payload, signature)
}

func (g *GCashGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body struct {
		CheckoutID    string `json:"checkout_id"`
		Status        string `json:"status"`
		FailureReason string `json:"failure_reason,omitempty"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrUnparseableWebhook
	}
	if body.CheckoutID == "" || body.Status == "" {
		return nil, ErrUnparseableWebhook
	}
	return &WebhookEvent{
		TransactionID: body.CheckoutID,
		Status:        body.Status,
		FailureReason: body.FailureReason,
		Raw:           payload,
	}, nil
}

func (g *GCashGateway) NormalizeStatus(gatewayStatus string) (string, bool) {
	status, ok := gcashStatuses[gatewayStatus]
	return status, ok
}

func (g *GCashGateway) CheckStatus(ctx context.Context, transactionID string) (string, error) {
	url := fmt.Sprintf("%s/checkout/%s", g.cfg.BaseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gcash status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gcash status returned %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode gcash status: %w", err)
	}
	return body.Status, nil
}
