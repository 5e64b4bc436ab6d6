package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/api/v1/cards", 120*time.Millisecond)
	c.RecordRequest("/api/v1/cards", 80*time.Millisecond)
	c.RecordError("/api/v1/cards")
	c.RecordRequestStart("/api/v1/pools")
	c.RecordRateLimitHit("user")
	c.RecordRateLimitHit("user")
	c.RecordRateLimitHit("session")
	c.RecordCharge("claude", 2.5)
	c.RecordCharge("claude", 1.5)
	c.RecordUsageCost("claude", 0.75)
	c.RecordPurchase("cursor", 12)
	c.RecordPoolSession(true)
	c.RecordPoolSession(true)
	c.RecordPoolSession(false)

	snap := c.GetSnapshot()
	if snap.TotalRequests["/api/v1/cards"] != 2 {
		t.Fatalf("requests = %d, want 2", snap.TotalRequests["/api/v1/cards"])
	}
	if snap.TotalRequestsDur["/api/v1/cards"] != 200 {
		t.Fatalf("duration = %d, want 200", snap.TotalRequestsDur["/api/v1/cards"])
	}
	if snap.RequestErrors["/api/v1/cards"] != 1 {
		t.Fatalf("errors = %d, want 1", snap.RequestErrors["/api/v1/cards"])
	}
	if snap.RequestsInProgress["/api/v1/pools"] != 1 {
		t.Fatalf("in progress = %d, want 1", snap.RequestsInProgress["/api/v1/pools"])
	}
	if snap.RateLimitHits != 3 || snap.RateLimitByKey["user"] != 2 {
		t.Fatalf("rate limit hits = %d by key %v", snap.RateLimitHits, snap.RateLimitByKey)
	}
	if snap.ChargesByPlatform["claude"] != 2 || snap.ChargedByPlatform["claude"] != 4 {
		t.Fatalf("charges = %d volume %v", snap.ChargesByPlatform["claude"], snap.ChargedByPlatform["claude"])
	}
	if snap.UsageCostByPlatform["claude"] != 0.75 {
		t.Fatalf("usage cost = %v, want 0.75", snap.UsageCostByPlatform["claude"])
	}
	if snap.PurchasesByPlatform["cursor"] != 1 || snap.PurchaseVolume != 12 {
		t.Fatalf("purchases = %d volume %v", snap.PurchasesByPlatform["cursor"], snap.PurchaseVolume)
	}
	if snap.PoolSessionsOpened != 2 || snap.PoolSessionsFinished != 1 {
		t.Fatalf("pool sessions = %d/%d, want 2/1", snap.PoolSessionsOpened, snap.PoolSessionsFinished)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/health", time.Millisecond)

	snap := c.GetSnapshot()
	snap.TotalRequests["/health"] = 99

	if got := c.GetSnapshot().TotalRequests["/health"]; got != 1 {
		t.Fatalf("collector counter = %d, want 1 after mutating snapshot", got)
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/api/v1/cards", 50*time.Millisecond)
	c.RecordRequestStart("/api/v1/cards")
	c.RecordRateLimitHit("user")
	c.RecordCharge("claude", 3.5)
	c.RecordPurchase("claude", 10)

	out := FormatPrometheus(c.GetSnapshot())
	for _, want := range []string{
		"# TYPE subsplit_uptime_seconds gauge",
		`subsplit_requests_total{endpoint="/api/v1/cards"} 1`,
		`subsplit_requests_in_progress{endpoint="/api/v1/cards"} 1`,
		`subsplit_request_duration_ms_total{endpoint="/api/v1/cards"} 50`,
		"subsplit_rate_limit_hits_total 1",
		`subsplit_rate_limit_hits_by_key_total{key="user"} 1`,
		`subsplit_card_charges_total{platform="claude"} 1`,
		`subsplit_credits_charged_total{platform="claude"} 3.5`,
		`subsplit_purchases_total{platform="claude"} 1`,
		"subsplit_purchase_volume_total 10",
		"subsplit_pool_sessions_opened_total 0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatPrometheusHidesIdleEndpoints(t *testing.T) {
	c := NewCollector()
	c.RecordRequestStart("/api/v1/cards")
	c.RecordRequestEnd("/api/v1/cards")

	out := FormatPrometheus(c.GetSnapshot())
	if strings.Contains(out, "subsplit_requests_in_progress{") {
		t.Fatalf("in-progress gauge should omit zero endpoints:\n%s", out)
	}
}
