package fraud

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jccalsado/tuition-portal/internal"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/shopspring/decimal"
)

const (
	pointsUnusualHigh      = 25
	pointsUnusualLow       = 10
	pointsFailedVelocityHi = 30
	pointsFailedVelocityLo = 15
	pointsRoundAmount      = 10
	pointsManyMethods      = 15
	pointsRapidCompleted   = 20
	pointsMinAmountPattern = 10
	pointsImpossibleTravel = 25
	pointsManyCountries    = 15
	pointsVelocityCap      = 10
	pointsNewDeviceMany    = 20
	pointsFirstDevice      = 10
	pointsDeviceNewIP      = 15
	pointsNewMethod        = 5
	pointsRareMethod       = 10
)

// Scorer combines independent weighted signals into an accept/block
// decision. Scoring is deterministic for identical inputs and tracking
// state; the only side effects are writes to the tracking Store.
type Scorer struct {
	cfg    internal.FraudConfig
	store  Store
	clock  Clock
	logger *slog.Logger

	minimumAmount money.Money
}

func NewScorer(cfg internal.FraudConfig, store Store, clock Clock, logger *slog.Logger) *Scorer {
	minAmount, err := money.FromString(cfg.MinimumPaymentAmount)
	if err != nil {
		minAmount = money.FromCentavos(10000)
	}
	return &Scorer{
		cfg:           cfg,
		store:         store,
		clock:         clock,
		logger:        logger,
		minimumAmount: minAmount,
	}
}

// Score runs every check and sums the contributions. The breakdown lists
// only checks that contributed points.
func (s *Scorer) Score(req PaymentRequest, hist History) Result {
	now := s.clock.Now()

	var checks []Check
	add := func(c Check) {
		if c.Points > 0 {
			checks = append(checks, c)
		}
	}

	add(s.checkUnusualAmount(req, hist))
	add(s.checkFailedVelocity(req, hist, now))
	add(s.checkRoundAmount(req))
	add(s.checkManyMethods(req, hist, now))
	add(s.checkRapidCompleted(hist, now))
	add(s.checkMinAmountPattern(req, hist))
	add(s.checkImpossibleTravel(req, now))
	add(s.checkCountryHistory(req))
	for _, c := range s.checkVelocityCaps(hist, now) {
		add(c)
	}
	for _, c := range s.checkDevice(req) {
		add(c)
	}
	add(s.checkMethodHistory(req, hist))

	total := 0
	for _, c := range checks {
		total += c.Points
	}

	result := Result{
		TotalScore: total,
		Threshold:  s.cfg.BlockThreshold,
		Blocked:    total >= s.cfg.BlockThreshold,
		Breakdown:  checks,
	}

	if result.Blocked {
		s.logger.Warn("payment blocked by risk score",
			"student_id", req.StudentID,
			"total_score", total,
			"threshold", s.cfg.BlockThreshold)
	}

	return result
}

func completedPayments(hist History) []HistoricalPayment {
	var out []HistoricalPayment
	for _, p := range hist.Payments {
		if p.Status == payment.StatusCompleted {
			out = append(out, p)
		}
	}
	return out
}

// checkUnusualAmount compares the amount to the trailing ten completed
// payments: far above the usual range scores high, an unusually small
// probe amount scores low.
func (s *Scorer) checkUnusualAmount(req PaymentRequest, hist History) Check {
	completed := completedPayments(hist)
	if len(completed) == 0 {
		return Check{Name: "unusual_amount"}
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].CreatedAt.After(completed[j].CreatedAt)
	})
	if len(completed) > 10 {
		completed = completed[:10]
	}

	sum := decimal.Zero
	max := decimal.Zero
	for _, p := range completed {
		sum = sum.Add(p.Amount.Decimal)
		if p.Amount.Decimal.GreaterThan(max) {
			max = p.Amount.Decimal
		}
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(completed))))
	amount := req.Amount.Decimal

	if amount.GreaterThan(avg.Mul(decimal.NewFromInt(3))) || amount.GreaterThan(max.Mul(decimal.NewFromInt(5))) {
		return Check{
			Name:   "unusual_amount",
			Points: pointsUnusualHigh,
			Reason: fmt.Sprintf("amount %s far above trailing average %s", req.Amount, avg.StringFixed(2)),
		}
	}
	if avg.IsPositive() && amount.LessThan(avg.Div(decimal.NewFromInt(10))) {
		return Check{
			Name:   "unusual_amount",
			Points: pointsUnusualLow,
			Reason: fmt.Sprintf("amount %s under 10%% of trailing average %s", req.Amount, avg.StringFixed(2)),
		}
	}
	return Check{Name: "unusual_amount"}
}

func (s *Scorer) checkFailedVelocity(req PaymentRequest, hist History, now time.Time) Check {
	cutoff := now.Add(-s.cfg.FailedAttemptWindow)
	failed := 0
	for _, p := range hist.Payments {
		if p.Status == payment.StatusFailed && p.CreatedAt.After(cutoff) {
			failed++
		}
	}

	if failed >= s.cfg.MaxFailedAttempts {
		return Check{
			Name:   "failed_velocity",
			Points: pointsFailedVelocityHi,
			Reason: fmt.Sprintf("%d failed attempts in window", failed),
		}
	}
	if failed >= (s.cfg.MaxFailedAttempts+1)/2 {
		return Check{
			Name:   "failed_velocity",
			Points: pointsFailedVelocityLo,
			Reason: fmt.Sprintf("%d failed attempts in window", failed),
		}
	}
	return Check{Name: "failed_velocity"}
}

func (s *Scorer) checkRoundAmount(req PaymentRequest) Check {
	centavos := req.Amount.Centavos()
	if centavos > 1000*100 && centavos%(1000*100) == 0 {
		return Check{
			Name:   "round_amount",
			Points: pointsRoundAmount,
			Reason: "round amount over 1000",
		}
	}
	return Check{Name: "round_amount"}
}

func (s *Scorer) checkManyMethods(req PaymentRequest, hist History, now time.Time) Check {
	cutoff := now.Add(-24 * time.Hour)
	methods := map[string]bool{req.PaymentMethod: true}
	for _, p := range hist.Payments {
		if p.CreatedAt.After(cutoff) {
			methods[p.PaymentMethod] = true
		}
	}
	if len(methods) >= 3 {
		return Check{
			Name:   "many_methods",
			Points: pointsManyMethods,
			Reason: fmt.Sprintf("%d distinct payment methods in 24h", len(methods)),
		}
	}
	return Check{Name: "many_methods"}
}

func (s *Scorer) checkRapidCompleted(hist History, now time.Time) Check {
	cutoff := now.Add(-30 * time.Minute)
	count := 0
	for _, p := range completedPayments(hist) {
		if p.PaidAt != nil && p.PaidAt.After(cutoff) {
			count++
		}
	}
	if count >= 3 {
		return Check{
			Name:   "rapid_completed",
			Points: pointsRapidCompleted,
			Reason: fmt.Sprintf("%d completed payments in 30 minutes", count),
		}
	}
	return Check{Name: "rapid_completed"}
}

// checkMinAmountPattern flags accounts that overwhelmingly pay the bare
// minimum, a card-testing tell.
func (s *Scorer) checkMinAmountPattern(req PaymentRequest, hist History) Check {
	completed := completedPayments(hist)
	if len(completed) < 5 {
		return Check{Name: "min_amount_pattern"}
	}

	nearMin := s.minimumAmount.Decimal.Mul(decimal.NewFromFloat(1.1))
	atMin := 0
	for _, p := range completed {
		if !p.Amount.Decimal.GreaterThan(nearMin) {
			atMin++
		}
	}

	if float64(atMin)/float64(len(completed)) > 0.8 {
		return Check{
			Name:   "min_amount_pattern",
			Points: pointsMinAmountPattern,
			Reason: fmt.Sprintf("%d of %d payments at or near minimum", atMin, len(completed)),
		}
	}
	return Check{Name: "min_amount_pattern"}
}

type lastLocation struct {
	Country   string    `json:"country"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	SeenAt    time.Time `json:"seen_at"`
	Countries []string  `json:"countries"`
}

func (s *Scorer) checkImpossibleTravel(req PaymentRequest, now time.Time) Check {
	key := fmt.Sprintf("geo:%d", req.StudentID)
	defer s.rememberLocation(key, req, now)

	raw, ok := s.store.Get(key)
	if !ok {
		return Check{Name: "impossible_travel"}
	}
	var last lastLocation
	if err := json.Unmarshal(raw, &last); err != nil {
		return Check{Name: "impossible_travel"}
	}

	elapsed := now.Sub(last.SeenAt).Hours()
	if elapsed <= 0 {
		elapsed = 1.0 / 3600
	}
	distance := haversineKm(last.Latitude, last.Longitude, req.Latitude, req.Longitude)
	speed := distance / elapsed

	if speed > s.cfg.MaxTravelSpeedKmh {
		return Check{
			Name:   "impossible_travel",
			Points: pointsImpossibleTravel,
			Reason: fmt.Sprintf("implied speed %.0f km/h over %.0f km", speed, distance),
		}
	}
	return Check{Name: "impossible_travel"}
}

func (s *Scorer) checkCountryHistory(req PaymentRequest) Check {
	key := fmt.Sprintf("geo:%d", req.StudentID)
	raw, ok := s.store.Get(key)
	if !ok {
		return Check{Name: "country_history"}
	}
	var last lastLocation
	if err := json.Unmarshal(raw, &last); err != nil {
		return Check{Name: "country_history"}
	}

	countries := map[string]bool{req.Country: true}
	for _, c := range last.Countries {
		countries[c] = true
	}
	if len(countries) >= 3 {
		return Check{
			Name:   "country_history",
			Points: pointsManyCountries,
			Reason: fmt.Sprintf("%d distinct countries in recent history", len(countries)),
		}
	}
	return Check{Name: "country_history"}
}

func (s *Scorer) rememberLocation(key string, req PaymentRequest, now time.Time) {
	var countries []string
	if raw, ok := s.store.Get(key); ok {
		var last lastLocation
		if err := json.Unmarshal(raw, &last); err == nil {
			countries = last.Countries
		}
	}
	seen := false
	for _, c := range countries {
		if c == req.Country {
			seen = true
			break
		}
	}
	if !seen && req.Country != "" {
		countries = append(countries, req.Country)
	}

	data, err := json.Marshal(lastLocation{
		Country:   req.Country,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		SeenAt:    now,
		Countries: countries,
	})
	if err == nil {
		s.store.Set(key, data)
	}
}

func (s *Scorer) checkVelocityCaps(hist History, now time.Time) []Check {
	windows := []struct {
		name   string
		window time.Duration
		cap    int
	}{
		{"velocity_hourly", time.Hour, s.cfg.MaxPaymentsPerHour},
		{"velocity_daily", 24 * time.Hour, s.cfg.MaxPaymentsPerDay},
		{"velocity_weekly", 7 * 24 * time.Hour, s.cfg.MaxPaymentsPerWeek},
	}

	var checks []Check
	for _, w := range windows {
		if w.cap <= 0 {
			continue
		}
		cutoff := now.Add(-w.window)
		count := 0
		for _, p := range hist.Payments {
			if p.CreatedAt.After(cutoff) {
				count++
			}
		}
		if count >= w.cap {
			checks = append(checks, Check{
				Name:   w.name,
				Points: pointsVelocityCap,
				Reason: fmt.Sprintf("%d payments against a cap of %d", count, w.cap),
			})
		}
	}
	return checks
}

type deviceRecord struct {
	Hashes map[string]string `json:"hashes"` // fingerprint -> last IP
}

func (s *Scorer) checkDevice(req PaymentRequest) []Check {
	if req.DeviceFingerprint == "" {
		return nil
	}

	key := fmt.Sprintf("devices:%d", req.StudentID)
	record := deviceRecord{Hashes: map[string]string{}}
	if raw, ok := s.store.Get(key); ok {
		_ = json.Unmarshal(raw, &record)
	}

	var checks []Check
	lastIP, known := record.Hashes[req.DeviceFingerprint]
	switch {
	case !known && len(record.Hashes) >= 5:
		checks = append(checks, Check{
			Name:   "device_new",
			Points: pointsNewDeviceMany,
			Reason: fmt.Sprintf("new device with %d already known", len(record.Hashes)),
		})
	case !known:
		checks = append(checks, Check{
			Name:   "device_first_use",
			Points: pointsFirstDevice,
			Reason: "device not seen before for student",
		})
	case lastIP != "" && lastIP != req.IPAddress:
		checks = append(checks, Check{
			Name:   "device_ip_change",
			Points: pointsDeviceNewIP,
			Reason: "known device arriving from a different IP",
		})
	}

	record.Hashes[req.DeviceFingerprint] = req.IPAddress
	if data, err := json.Marshal(record); err == nil {
		s.store.Set(key, data)
	}

	return checks
}

func (s *Scorer) checkMethodHistory(req PaymentRequest, hist History) Check {
	counts := map[string]int{}
	total := 0
	for _, p := range hist.Payments {
		counts[p.PaymentMethod]++
		total++
	}

	used := counts[req.PaymentMethod]
	if total > 0 && used == 0 {
		return Check{
			Name:   "method_history",
			Points: pointsNewMethod,
			Reason: "payment method never used before",
		}
	}
	if total >= 5 && used > 0 && float64(used)/float64(total) < 0.1 {
		return Check{
			Name:   "method_history",
			Points: pointsRareMethod,
			Reason: fmt.Sprintf("method used in %d of %d payments", used, total),
		}
	}
	return Check{Name: "method_history"}
}

const earthRadiusKm = 6371.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
