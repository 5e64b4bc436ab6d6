package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus renders a snapshot in Prometheus text format.
// See: https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	sb.WriteString("# HELP subsplit_uptime_seconds Time since the daemon started\n")
	sb.WriteString("# TYPE subsplit_uptime_seconds gauge\n")
	sb.WriteString(fmt.Sprintf("subsplit_uptime_seconds %d\n\n", snap.Uptime))

	sb.WriteString("# HELP subsplit_requests_total Total requests by endpoint\n")
	sb.WriteString("# TYPE subsplit_requests_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequests) {
		sb.WriteString(fmt.Sprintf("subsplit_requests_total{endpoint=%q} %d\n", endpoint, snap.TotalRequests[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_request_errors_total Request errors by endpoint\n")
	sb.WriteString("# TYPE subsplit_request_errors_total counter\n")
	for _, endpoint := range sortedKeys(snap.RequestErrors) {
		sb.WriteString(fmt.Sprintf("subsplit_request_errors_total{endpoint=%q} %d\n", endpoint, snap.RequestErrors[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_requests_in_progress Requests currently being processed\n")
	sb.WriteString("# TYPE subsplit_requests_in_progress gauge\n")
	for _, endpoint := range sortedKeys(snap.RequestsInProgress) {
		if n := snap.RequestsInProgress[endpoint]; n > 0 {
			sb.WriteString(fmt.Sprintf("subsplit_requests_in_progress{endpoint=%q} %d\n", endpoint, n))
		}
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_request_duration_ms_total Total request duration in milliseconds\n")
	sb.WriteString("# TYPE subsplit_request_duration_ms_total counter\n")
	for _, endpoint := range sortedKeys(snap.TotalRequestsDur) {
		sb.WriteString(fmt.Sprintf("subsplit_request_duration_ms_total{endpoint=%q} %d\n", endpoint, snap.TotalRequestsDur[endpoint]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_rate_limit_hits_total Rate limit rejections\n")
	sb.WriteString("# TYPE subsplit_rate_limit_hits_total counter\n")
	sb.WriteString(fmt.Sprintf("subsplit_rate_limit_hits_total %d\n\n", snap.RateLimitHits))

	sb.WriteString("# HELP subsplit_rate_limit_hits_by_key_total Rate limit rejections by key type\n")
	sb.WriteString("# TYPE subsplit_rate_limit_hits_by_key_total counter\n")
	for _, key := range sortedKeys(snap.RateLimitByKey) {
		sb.WriteString(fmt.Sprintf("subsplit_rate_limit_hits_by_key_total{key=%q} %d\n", key, snap.RateLimitByKey[key]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_card_charges_total Successful card charges by platform\n")
	sb.WriteString("# TYPE subsplit_card_charges_total counter\n")
	for _, platform := range sortedKeys(snap.ChargesByPlatform) {
		sb.WriteString(fmt.Sprintf("subsplit_card_charges_total{platform=%q} %d\n", platform, snap.ChargesByPlatform[platform]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_credits_charged_total Credits charged to cards by platform\n")
	sb.WriteString("# TYPE subsplit_credits_charged_total counter\n")
	for _, platform := range sortedFloatKeys(snap.ChargedByPlatform) {
		sb.WriteString(fmt.Sprintf("subsplit_credits_charged_total{platform=%q} %g\n", platform, snap.ChargedByPlatform[platform]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_usage_cost_total Metered usage cost by platform\n")
	sb.WriteString("# TYPE subsplit_usage_cost_total counter\n")
	for _, platform := range sortedFloatKeys(snap.UsageCostByPlatform) {
		sb.WriteString(fmt.Sprintf("subsplit_usage_cost_total{platform=%q} %g\n", platform, snap.UsageCostByPlatform[platform]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_purchases_total Settled marketplace purchases by platform\n")
	sb.WriteString("# TYPE subsplit_purchases_total counter\n")
	for _, platform := range sortedKeys(snap.PurchasesByPlatform) {
		sb.WriteString(fmt.Sprintf("subsplit_purchases_total{platform=%q} %d\n", platform, snap.PurchasesByPlatform[platform]))
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP subsplit_purchase_volume_total Total purchase volume\n")
	sb.WriteString("# TYPE subsplit_purchase_volume_total counter\n")
	sb.WriteString(fmt.Sprintf("subsplit_purchase_volume_total %g\n\n", snap.PurchaseVolume))

	sb.WriteString("# HELP subsplit_pool_sessions_opened_total Pool sessions opened\n")
	sb.WriteString("# TYPE subsplit_pool_sessions_opened_total counter\n")
	sb.WriteString(fmt.Sprintf("subsplit_pool_sessions_opened_total %d\n\n", snap.PoolSessionsOpened))

	sb.WriteString("# HELP subsplit_pool_sessions_finished_total Pool sessions completed or expired\n")
	sb.WriteString("# TYPE subsplit_pool_sessions_finished_total counter\n")
	sb.WriteString(fmt.Sprintf("subsplit_pool_sessions_finished_total %d\n", snap.PoolSessionsFinished))

	return sb.String()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedFloatKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
