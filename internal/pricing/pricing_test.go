package pricing

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
)

type fakeHistory struct {
	sessions int64
	requests int64
	series   []PricePoint
	points   []UtilizationPoint
}

func (f *fakeHistory) ActiveCardCount(ctx context.Context, platform string, since time.Time) (int64, error) {
	return f.sessions, nil
}

func (f *fakeHistory) RequestCount(ctx context.Context, platform string, since time.Time) (int64, error) {
	return f.requests, nil
}

func (f *fakeHistory) PriceSeries(ctx context.Context, platform string, since time.Time) ([]PricePoint, error) {
	return f.series, nil
}

func (f *fakeHistory) UtilizationPoints(ctx context.Context, platform string) ([]UtilizationPoint, error) {
	return f.points, nil
}

type fakeCards struct {
	card.Store
	cards   map[uuid.UUID]card.Card
	updated map[uuid.UUID]float64
}

func newFakeCards(cards ...card.Card) *fakeCards {
	f := &fakeCards{cards: make(map[uuid.UUID]card.Card), updated: make(map[uuid.UUID]float64)}
	for _, c := range cards {
		f.cards[c.ID] = c
	}
	return f
}

func (f *fakeCards) GetByID(ctx context.Context, id uuid.UUID) (card.Card, error) {
	c, ok := f.cards[id]
	if !ok {
		return card.Card{}, card.ErrNotFound
	}
	return c, nil
}

func (f *fakeCards) UpdatePricing(ctx context.Context, id uuid.UUID, price, multiplier float64) error {
	c, ok := f.cards[id]
	if !ok {
		return card.ErrNotFound
	}
	c.CurrentPrice = price
	c.DemandMultiplier = multiplier
	f.cards[id] = c
	f.updated[id] = price
	return nil
}

func (f *fakeCards) ListActive(ctx context.Context) ([]card.Card, error) {
	var out []card.Card
	for _, c := range f.cards {
		if c.Status == card.StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestEngine(h *fakeHistory, cards *fakeCards) *Engine {
	e := NewEngine(h, cards, DefaultConfig())
	e.SetLogger(log.New(io.Discard, "", 0))
	return e
}

func TestDemandMultiplierBounds(t *testing.T) {
	ctx := context.Background()

	// No activity at all sits at the floor.
	e := newTestEngine(&fakeHistory{}, newFakeCards())
	m, err := e.DemandMultiplier(ctx, "claude", "global", 24)
	if err != nil {
		t.Fatalf("DemandMultiplier: %v", err)
	}
	if m != 0.8 {
		t.Fatalf("idle multiplier = %v, want 0.8", m)
	}

	// Saturated demand caps both scores at 1.
	e = newTestEngine(&fakeHistory{sessions: 500, requests: 50000}, newFakeCards())
	m, err = e.DemandMultiplier(ctx, "claude", "global", 24)
	if err != nil {
		t.Fatalf("DemandMultiplier: %v", err)
	}
	if m != 2.0 {
		t.Fatalf("saturated multiplier = %v, want 2.0", m)
	}
}

func TestDemandMultiplierMidRange(t *testing.T) {
	// Half-saturated on both axes: 0.8 + 1.2*(0.6*0.5 + 0.4*0.5) = 1.4.
	e := newTestEngine(&fakeHistory{sessions: 50, requests: 500}, newFakeCards())
	m, err := e.DemandMultiplier(context.Background(), "claude", "global", 24)
	if err != nil {
		t.Fatalf("DemandMultiplier: %v", err)
	}
	if m != 1.4 {
		t.Fatalf("multiplier = %v, want 1.4", m)
	}
}

func TestUpdateCardPriceAppliesMultiplier(t *testing.T) {
	c := card.Card{ID: uuid.New(), Platform: "claude", BasePrice: 10, CurrentPrice: 10, Status: card.StatusActive}
	cards := newFakeCards(c)

	// Idle demand reprices base 10 down to 8.
	e := newTestEngine(&fakeHistory{}, cards)
	price, err := e.UpdateCardPrice(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("UpdateCardPrice: %v", err)
	}
	if price != 8.0 {
		t.Fatalf("price = %v, want 8.0", price)
	}
	if cards.cards[c.ID].DemandMultiplier != 0.8 {
		t.Fatalf("multiplier not persisted: %v", cards.cards[c.ID].DemandMultiplier)
	}
}

func TestPriceClampedToBounds(t *testing.T) {
	c := card.Card{ID: uuid.New(), Platform: "claude", BasePrice: 10, CurrentPrice: 10, Status: card.StatusActive}
	cards := newFakeCards(c)

	// A runaway multiplier configuration still cannot push the price
	// past 3x base.
	cfg := DefaultConfig()
	cfg.MultiplierSpan = 10
	e := NewEngine(&fakeHistory{sessions: 1000, requests: 100000}, cards, cfg)
	e.SetLogger(log.New(io.Discard, "", 0))
	price, err := e.UpdateCardPrice(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("UpdateCardPrice: %v", err)
	}
	if price != 30.0 {
		t.Fatalf("price = %v, want ceiling 30.0", price)
	}

	// And a collapsed multiplier cannot drop below half of base.
	cfg = DefaultConfig()
	cfg.MultiplierFloor = 0.01
	e = NewEngine(&fakeHistory{}, cards, cfg)
	e.SetLogger(log.New(io.Discard, "", 0))
	price, err = e.UpdateCardPrice(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("UpdateCardPrice: %v", err)
	}
	if price != 5.0 {
		t.Fatalf("price = %v, want floor 5.0", price)
	}
}

func TestBulkUpdateCountsOnlyChanges(t *testing.T) {
	// One card already sits at the idle price; only the other moves.
	settled := card.Card{ID: uuid.New(), Platform: "claude", BasePrice: 10, CurrentPrice: 8, Status: card.StatusActive}
	stale := card.Card{ID: uuid.New(), Platform: "claude", BasePrice: 20, CurrentPrice: 20, Status: card.StatusActive}
	cards := newFakeCards(settled, stale)

	e := newTestEngine(&fakeHistory{}, cards)
	changed, err := e.BulkUpdate(context.Background())
	if err != nil {
		t.Fatalf("BulkUpdate: %v", err)
	}
	if changed["claude"] != 1 {
		t.Fatalf("changed = %v, want 1 for claude", changed)
	}
	if cards.cards[stale.ID].CurrentPrice != 16.0 {
		t.Fatalf("stale card price = %v, want 16.0", cards.cards[stale.ID].CurrentPrice)
	}
}

func TestTrendClassification(t *testing.T) {
	at := time.Now().UTC()
	mk := func(prices ...float64) []PricePoint {
		out := make([]PricePoint, len(prices))
		for i, p := range prices {
			out[i] = PricePoint{Price: p, BasePrice: 10, At: at}
		}
		return out
	}

	cases := []struct {
		name   string
		series []PricePoint
		want   string
	}{
		{"rising", mk(10, 10, 12, 12), TrendIncreasing},
		{"falling", mk(12, 12, 10, 10), TrendDecreasing},
		{"flat", mk(10, 10, 10.2, 10.2), TrendStable},
		{"empty", nil, TrendStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(&fakeHistory{series: tc.series}, newFakeCards())
			report, err := e.Trend(context.Background(), "claude", 7)
			if err != nil {
				t.Fatalf("Trend: %v", err)
			}
			if report.PriceTrend != tc.want {
				t.Fatalf("trend = %q, want %q", report.PriceTrend, tc.want)
			}
		})
	}
}

func TestTrendDemandLevels(t *testing.T) {
	cases := []struct {
		requests int64
		want     string
	}{
		{150, DemandHigh},
		{75, DemandMedium},
		{25, DemandLow},
		{5, DemandVeryLow},
	}
	series := []PricePoint{{Price: 10, BasePrice: 10}, {Price: 10, BasePrice: 10}}
	for _, tc := range cases {
		e := newTestEngine(&fakeHistory{series: series, requests: tc.requests}, newFakeCards())
		report, err := e.Trend(context.Background(), "claude", 7)
		if err != nil {
			t.Fatalf("Trend: %v", err)
		}
		if report.DemandLevel != tc.want {
			t.Fatalf("requests=%d demand = %q, want %q", tc.requests, report.DemandLevel, tc.want)
		}
	}
}

func TestPredictFallbackOnSparseHistory(t *testing.T) {
	e := newTestEngine(&fakeHistory{points: []UtilizationPoint{{Price: 10, Utilization: 50}}}, newFakeCards())
	pred, err := e.PredictOptimalPrice(context.Background(), "claude", 12.5, 80)
	if err != nil {
		t.Fatalf("PredictOptimalPrice: %v", err)
	}
	if pred.OptimalPrice != 12.5 || pred.Confidence != ConfidenceLow {
		t.Fatalf("fallback prediction = %+v", pred)
	}
}

func TestPredictInterpolates(t *testing.T) {
	points := []UtilizationPoint{
		{Price: 5, Utilization: 20},
		{Price: 10, Utilization: 50},
		{Price: 15, Utilization: 80},
	}
	e := newTestEngine(&fakeHistory{points: points}, newFakeCards())
	pred, err := e.PredictOptimalPrice(context.Background(), "claude", 10, 65)
	if err != nil {
		t.Fatalf("PredictOptimalPrice: %v", err)
	}
	if pred.OptimalPrice != 12.5 {
		t.Fatalf("optimal price = %v, want 12.5", pred.OptimalPrice)
	}
	// Price and utilization move in lockstep here, so correlation is 1.
	if pred.Confidence != ConfidenceHigh {
		t.Fatalf("confidence = %q, want high", pred.Confidence)
	}
	if pred.PredictedUtilization != 65 {
		t.Fatalf("predicted utilization = %v", pred.PredictedUtilization)
	}
}

func TestPredictClampsOutsideObservedRange(t *testing.T) {
	points := []UtilizationPoint{
		{Price: 5, Utilization: 20},
		{Price: 10, Utilization: 50},
		{Price: 15, Utilization: 80},
	}
	e := newTestEngine(&fakeHistory{points: points}, newFakeCards())
	pred, err := e.PredictOptimalPrice(context.Background(), "claude", 10, 99)
	if err != nil {
		t.Fatalf("PredictOptimalPrice: %v", err)
	}
	if pred.OptimalPrice != 15 {
		t.Fatalf("optimal price = %v, want clamp to 15", pred.OptimalPrice)
	}
}
