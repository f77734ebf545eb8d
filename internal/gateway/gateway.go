package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"

	paymentdomain "github.com/jccalsado/tuition-portal/internal/payment"
)

var ErrUnparseableWebhook = errors.New("webhook payload could not be parsed")

// Gateway is one external payment provider. It extends the initiation
// capability the payment service uses with the webhook side: signature
// verification, payload parsing, status normalization and a pull-based
// status check for missed callbacks.
type Gateway interface {
	paymentdomain.GatewayInitiator
	VerifySignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	// NormalizeStatus maps a provider status to an internal payment
	// status. The second return is false for statuses that carry no
	// state change (informational events).
	NormalizeStatus(gatewayStatus string) (string, bool)
	CheckStatus(ctx context.Context, transactionID string) (string, error)
}

// WebhookEvent is a provider callback reduced to what reconciliation needs.
type WebhookEvent struct {
	TransactionID string
	Status        string
	FailureReason string
	Raw           json.RawMessage
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func verifyHMAC(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := signPayload(secret, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}
