package fraud

import (
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/money"
)

// PaymentRequest is the initiation attempt being scored. The scorer never
// mutates the ledger; its only writable state is the injected tracking
// Store.
type PaymentRequest struct {
	StudentID         int64
	Amount            money.Money
	PaymentMethod     string
	DeviceFingerprint string
	IPAddress         string
	Country           string
	Latitude          float64
	Longitude         float64
}

// HistoricalPayment is one prior payment attempt for the student.
type HistoricalPayment struct {
	Amount        money.Money
	PaymentMethod string
	Status        string
	CreatedAt     time.Time
	PaidAt        *time.Time
}

// History is the student's trailing payment record, assembled by the
// caller from committed data.
type History struct {
	Payments []HistoricalPayment
}

// Check is one signal's contribution to the total.
type Check struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Reason string `json:"reason"`
}

// Result is the scoring outcome. Blocked is true iff TotalScore reached
// the configured threshold.
type Result struct {
	TotalScore int     `json:"total_score"`
	Threshold  int     `json:"threshold"`
	Blocked    bool    `json:"blocked"`
	Breakdown  []Check `json:"breakdown"`
}

// Store is a TTL key-value cache for device and location tracking state.
// Injected so tests can use a plain map and a fake clock.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
