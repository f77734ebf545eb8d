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

const PayPalName = "paypal"

// PayPal delivers event-typed webhooks; only capture and cancellation
// events change payment state, approval events are informational.
var paypalEvents = map[string]string{
	"PAYMENT.CAPTURE.COMPLETED": payment.StatusCompleted,
	"PAYMENT.CAPTURE.DENIED":    payment.StatusFailed,
	"PAYMENT.CAPTURE.DECLINED":  payment.StatusFailed,
	"CHECKOUT.ORDER.CANCELLED":  payment.StatusCancelled,
}

type PayPalGateway struct {
	cfg    internal.GatewayConfig
	client *http.Client
	logger *slog.Logger
}

func NewPayPalGateway(cfg internal.GatewayConfig, logger *slog.Logger) *PayPalGateway {
	return &PayPalGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (g *PayPalGateway) Name() string { return PayPalName }

func (g *PayPalGateway) Initiate(ctx context.Context, p *payment.Payment) (*paymentdomain.InitiationResult, error) {
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": p.ReferenceNumber,
				"amount": map[string]string{
					"currency_code": "PHP",
					"value":         p.Amount.String(),
				},
			},
		},
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/v2/checkout/orders", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paypal order request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("paypal order returned status %d", resp.StatusCode)
	}

	var apiResponse struct {
		ID    string `json:"id"`
		Links []struct {
			Href string `json:"href"`
			Rel  string `json:"rel"`
		} `json:"links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to decode paypal response: %w", err)
	}

	redirectURL := ""
	for _, link := range apiResponse.Links {
		if link.Rel == "approve" {
			redirectURL = link.Href
			break
		}
	}
	raw, _ := json.Marshal(apiResponse)

	expiresAt := time.Now().Add(g.cfg.Expiry)

	g.logger.Info("paypal order created",
		"reference_number", p.ReferenceNumber,
		"order_id", apiResponse.ID)

	return &paymentdomain.InitiationResult{
		TransactionID: apiResponse.ID,
		RedirectURL:   redirectURL,
		ExpiresAt:     &expiresAt,
		Raw:           raw,
	}, nil
}

func (g *PayPalGateway) VerifySignature(payload []byte, signature string) bool {
	return verifyHMAC(g.cfg.WebhookSecret, payload, signature)
}

func (g *PayPalGateway) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body struct {
		EventType string `json:"event_type"`
		Resource  struct {
			ID           string `json:"id"`
			StatusDetail struct {
				Reason string `json:"reason"`
			} `json:"status_details"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, ErrUnparseableWebhook
	}
	if body.EventType == "" {
		return nil, ErrUnparseableWebhook
	}

	// capture events reference the order through supplementary data
	transactionID := body.Resource.SupplementaryData.RelatedIDs.OrderID
	if transactionID == "" {
		transactionID = body.Resource.ID
	}
	if transactionID == "" {
		return nil, ErrUnparseableWebhook
	}

	return &WebhookEvent{
		TransactionID: transactionID,
		Status:        body.EventType,
		FailureReason: body.Resource.StatusDetail.Reason,
		Raw:           payload,
	}, nil
}

func (g *PayPalGateway) NormalizeStatus(gatewayStatus string) (string, bool) {
	status, ok := paypalEvents[gatewayStatus]
	return status, ok
}

func (g *PayPalGateway) CheckStatus(ctx context.Context, transactionID string) (string, error) {
	url := fmt.Sprintf("%s/v2/checkout/orders/%s", g.cfg.BaseURL, transactionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("paypal status returned %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode paypal status: %w", err)
	}

	// order statuses map onto event names for a single normalization path
	switch body.Status {
	case "COMPLETED":
		return "PAYMENT.CAPTURE.COMPLETED", nil
	case "VOIDED":
		return "CHECKOUT.ORDER.CANCELLED", nil
	default:
		return body.Status, nil
	}
}
