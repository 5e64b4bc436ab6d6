package pricing

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
)

// Demand levels bucketed from recent request counts.
const (
	DemandHigh    = "high"
	DemandMedium  = "medium"
	DemandLow     = "low"
	DemandVeryLow = "very_low"
)

// Price trend classifications.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Prediction confidence levels from correlation magnitude.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// PricePoint is one observed card price with its base price.
type PricePoint struct {
	Price     float64
	BasePrice float64
	At        time.Time
}

// UtilizationPoint pairs an observed price with the utilization it produced.
type UtilizationPoint struct {
	Price       float64
	Utilization float64
}

// History supplies the raw usage and price history the engine recomputes
// from on every call. The engine holds no pricing state of its own.
type History interface {
	ActiveCardCount(ctx context.Context, platform string, since time.Time) (int64, error)
	RequestCount(ctx context.Context, platform string, since time.Time) (int64, error)
	PriceSeries(ctx context.Context, platform string, since time.Time) ([]PricePoint, error)
	UtilizationPoints(ctx context.Context, platform string) ([]UtilizationPoint, error)
}

// TrendReport summarizes recent price movement for a platform.
type TrendReport struct {
	Platform              string  `json:"platform"`
	AveragePrice          float64 `json:"average_price"`
	AverageBasePrice      float64 `json:"average_base_price"`
	PriceTrend            string  `json:"price_trend"`
	DemandLevel           string  `json:"demand_level"`
	RecommendedMultiplier float64 `json:"recommended_multiplier"`
	SampleSize            int     `json:"sample_size"`
}

// Prediction is the optimal-price estimate for a target utilization.
type Prediction struct {
	OptimalPrice         float64 `json:"optimal_price"`
	PredictedUtilization float64 `json:"predicted_utilization"`
	Confidence           string  `json:"confidence"`
	Correlation          float64 `json:"correlation"`
}

// Engine computes demand multipliers and recommended prices from historical
// usage. It is stateless with respect to pricing decisions; each call
// recomputes from raw history. Only UpdateCardPrice writes anything, and that
// write shares the card store's per-entity atomicity.
type Engine struct {
	history History
	cards   card.Store
	cfg     Config
	logger  *log.Logger
	now     func() time.Time
}

// NewEngine creates a pricing engine over the given history source and card
// store.
func NewEngine(history History, cards card.Store, cfg Config) *Engine {
	return &Engine{
		history: history,
		cards:   cards,
		cfg:     cfg,
		logger:  log.New(log.Writer(), "[pricing] ", log.LstdFlags|log.Lmicroseconds),
		now:     time.Now,
	}
}

// SetLogger overrides the default logger; nil keeps the current logger.
func (e *Engine) SetLogger(logger *log.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetClock overrides the time source, for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// DemandMultiplier derives the demand-driven price multiplier for a platform
// over the trailing window. Region is accepted for forward compatibility;
// history is currently tracked globally.
func (e *Engine) DemandMultiplier(ctx context.Context, platform, region string, windowHours int) (float64, error) {
	if windowHours <= 0 {
		windowHours = e.cfg.WindowHours
	}
	since := e.now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	sessions, err := e.history.ActiveCardCount(ctx, platform, since)
	if err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	requests, err := e.history.RequestCount(ctx, platform, since)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}

	multiplier := e.multiplierFromCounts(sessions, requests)
	e.logf("demand multiplier platform=%s region=%s sessions=%d requests=%d multiplier=%.2f", platform, region, sessions, requests, multiplier)
	return multiplier, nil
}

func (e *Engine) multiplierFromCounts(sessions, requests int64) float64 {
	sessionScore := math.Min(float64(sessions)/float64(e.cfg.SessionCap), 1.0)
	requestScore := math.Min(float64(requests)/float64(e.cfg.RequestCap), 1.0)
	demand := e.cfg.SessionWeight*sessionScore + e.cfg.RequestWeight*requestScore
	return round2(e.cfg.MultiplierFloor + e.cfg.MultiplierSpan*demand)
}

// UpdateCardPrice recomputes one card's price from current demand, clamped
// to the configured bounds around its base price, and persists the result.
func (e *Engine) UpdateCardPrice(ctx context.Context, cardID uuid.UUID) (float64, error) {
	c, err := e.cards.GetByID(ctx, cardID)
	if err != nil {
		return 0, err
	}
	multiplier, err := e.DemandMultiplier(ctx, c.Platform, "global", e.cfg.WindowHours)
	if err != nil {
		return 0, err
	}
	price := e.clampPrice(c.BasePrice, c.BasePrice*multiplier)
	if err := e.cards.UpdatePricing(ctx, cardID, price, multiplier); err != nil {
		return 0, err
	}
	e.logf("card price updated card_id=%s price=%.2f multiplier=%.2f", cardID, price, multiplier)
	return price, nil
}

func (e *Engine) clampPrice(base, price float64) float64 {
	return math.Max(base*e.cfg.PriceFloorRatio, math.Min(price, base*e.cfg.PriceCeilingRatio))
}

// BulkUpdate reprices every active card and reports, per platform, how many
// prices actually changed. The demand multiplier is computed once per
// platform within the call; nothing is cached across calls.
func (e *Engine) BulkUpdate(ctx context.Context) (map[string]int, error) {
	active, err := e.cards.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	multipliers := make(map[string]float64)
	changed := make(map[string]int)
	for _, c := range active {
		multiplier, ok := multipliers[c.Platform]
		if !ok {
			multiplier, err = e.DemandMultiplier(ctx, c.Platform, "global", e.cfg.WindowHours)
			if err != nil {
				return nil, err
			}
			multipliers[c.Platform] = multiplier
		}
		price := e.clampPrice(c.BasePrice, c.BasePrice*multiplier)
		if price == c.CurrentPrice {
			continue
		}
		if err := e.cards.UpdatePricing(ctx, c.ID, price, multiplier); err != nil {
			return nil, err
		}
		changed[c.Platform]++
	}
	e.logf("bulk price update cards=%d changed=%v", len(active), changed)
	return changed, nil
}

// Trend reports price movement and demand level for a platform over the
// trailing number of days.
func (e *Engine) Trend(ctx context.Context, platform string, days int) (TrendReport, error) {
	if days <= 0 {
		days = 7
	}
	now := e.now().UTC()
	series, err := e.history.PriceSeries(ctx, platform, now.AddDate(0, 0, -days))
	if err != nil {
		return TrendReport{}, err
	}
	report := TrendReport{
		Platform:              platform,
		PriceTrend:            TrendStable,
		DemandLevel:           DemandLow,
		RecommendedMultiplier: 1.0,
		SampleSize:            len(series),
	}
	if len(series) == 0 {
		return report, nil
	}

	var priceSum, baseSum float64
	prices := make([]float64, len(series))
	for i, p := range series {
		prices[i] = p.Price
		priceSum += p.Price
		baseSum += p.BasePrice
	}
	report.AveragePrice = round2(priceSum / float64(len(series)))
	report.AverageBasePrice = round2(baseSum / float64(len(series)))
	report.PriceTrend = classifyTrend(prices)

	recent, err := e.history.RequestCount(ctx, platform, now.Add(-time.Duration(e.cfg.WindowHours)*time.Hour))
	if err != nil {
		return TrendReport{}, err
	}
	report.DemandLevel = classifyDemand(recent)

	current := 1.0
	if report.AverageBasePrice > 0 {
		current = report.AveragePrice / report.AverageBasePrice
	}
	recommended := current * e.cfg.Adjustments[report.DemandLevel]
	report.RecommendedMultiplier = round2(math.Max(0.5, math.Min(recommended, 3.0)))
	return report, nil
}

// classifyTrend compares the mean of the first and second half of the series;
// a change beyond ±5% is a trend.
func classifyTrend(prices []float64) string {
	if len(prices) < 2 {
		return TrendStable
	}
	half := len(prices) / 2
	first := mean(prices[:half])
	second := mean(prices[half:])
	if first == 0 {
		return TrendStable
	}
	change := (second - first) / first * 100
	switch {
	case change > 5:
		return TrendIncreasing
	case change < -5:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func classifyDemand(requests int64) string {
	switch {
	case requests > 100:
		return DemandHigh
	case requests > 50:
		return DemandMedium
	case requests > 10:
		return DemandLow
	default:
		return DemandVeryLow
	}
}

// PredictOptimalPrice interpolates the price that historically produced the
// target utilization. Confidence follows the Pearson correlation between
// price and utilization; under three data points the base price is returned
// with low confidence.
func (e *Engine) PredictOptimalPrice(ctx context.Context, platform string, basePrice, targetUtilization float64) (Prediction, error) {
	points, err := e.history.UtilizationPoints(ctx, platform)
	if err != nil {
		return Prediction{}, err
	}
	if len(points) < 3 {
		return Prediction{
			OptimalPrice:         basePrice,
			PredictedUtilization: 0.5,
			Confidence:           ConfidenceLow,
		}, nil
	}

	prices := make([]float64, len(points))
	utils := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price
		utils[i] = p.Utilization
	}
	correlation := pearson(prices, utils)

	sort.Slice(points, func(i, j int) bool { return points[i].Utilization < points[j].Utilization })
	optimal := interpolate(points, targetUtilization)

	confidence := ConfidenceLow
	switch {
	case math.Abs(correlation) > 0.7:
		confidence = ConfidenceHigh
	case math.Abs(correlation) > 0.4:
		confidence = ConfidenceMedium
	}
	return Prediction{
		OptimalPrice:         round2(optimal),
		PredictedUtilization: targetUtilization,
		Confidence:           confidence,
		Correlation:          math.Round(correlation*1000) / 1000,
	}, nil
}

// interpolate returns the price at the target utilization by linear
// interpolation over points sorted by utilization, clamping outside the
// observed range.
func interpolate(points []UtilizationPoint, target float64) float64 {
	if target <= points[0].Utilization {
		return points[0].Price
	}
	last := points[len(points)-1]
	if target >= last.Utilization {
		return last.Price
	}
	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		if target > hi.Utilization {
			continue
		}
		if hi.Utilization == lo.Utilization {
			return lo.Price
		}
		frac := (target - lo.Utilization) / (hi.Utilization - lo.Utilization)
		return lo.Price + frac*(hi.Price-lo.Price)
	}
	return last.Price
}

func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
