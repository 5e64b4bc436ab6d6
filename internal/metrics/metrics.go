package metrics

import (
	"sync"
	"time"
)

// Collector tracks marketplace counters for the metrics endpoint. Manual
// tracking keeps the dependency surface small; the output is Prometheus
// text format either way.
type Collector struct {
	mu sync.RWMutex

	// Request metrics
	totalRequests      map[string]int64 // by endpoint
	totalRequestsDur   map[string]int64 // total duration in ms
	requestErrors      map[string]int64 // by endpoint
	requestsInProgress map[string]int64

	// Rate limit metrics
	rateLimitHits  int64
	rateLimitByKey map[string]int64

	// Billing metrics
	chargesByPlatform    map[string]int64
	chargedByPlatform    map[string]float64 // credits charged
	usageCostByPlatform  map[string]float64 // metered actual cost
	purchasesByPlatform  map[string]int64
	purchaseVolume       float64
	poolSessionsOpened   int64
	poolSessionsFinished int64

	startTime time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		totalRequests:       make(map[string]int64),
		totalRequestsDur:    make(map[string]int64),
		requestErrors:       make(map[string]int64),
		requestsInProgress:  make(map[string]int64),
		rateLimitByKey:      make(map[string]int64),
		chargesByPlatform:   make(map[string]int64),
		chargedByPlatform:   make(map[string]float64),
		usageCostByPlatform: make(map[string]float64),
		purchasesByPlatform: make(map[string]int64),
		startTime:           time.Now(),
	}
}

// RecordRequest records a completed request to an endpoint.
func (c *Collector) RecordRequest(endpoint string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests[endpoint]++
	c.totalRequestsDur[endpoint] += duration.Milliseconds()
}

// RecordError records a request error for an endpoint.
func (c *Collector) RecordError(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestErrors[endpoint]++
}

// RecordRequestStart increments in-flight requests.
func (c *Collector) RecordRequestStart(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]++
}

// RecordRequestEnd decrements in-flight requests.
func (c *Collector) RecordRequestEnd(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestsInProgress[endpoint]--
}

// RecordRateLimitHit records a rate limit rejection.
func (c *Collector) RecordRateLimitHit(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimitHits++
	c.rateLimitByKey[key]++
}

// RecordCharge records a successful card charge.
func (c *Collector) RecordCharge(platform string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chargesByPlatform[platform]++
	c.chargedByPlatform[platform] += amount
}

// RecordUsageCost records a metered request cost.
func (c *Collector) RecordUsageCost(platform string, actualCost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usageCostByPlatform[platform] += actualCost
}

// RecordPurchase records a settled marketplace purchase.
func (c *Collector) RecordPurchase(platform string, amount float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purchasesByPlatform[platform]++
	c.purchaseVolume += amount
}

// RecordPoolSession tracks pool session lifecycle counts.
func (c *Collector) RecordPoolSession(opened bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if opened {
		c.poolSessionsOpened++
	} else {
		c.poolSessionsFinished++
	}
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Uptime             int64
	TotalRequests      map[string]int64
	TotalRequestsDur   map[string]int64
	RequestErrors      map[string]int64
	RequestsInProgress map[string]int64

	RateLimitHits  int64
	RateLimitByKey map[string]int64

	ChargesByPlatform    map[string]int64
	ChargedByPlatform    map[string]float64
	UsageCostByPlatform  map[string]float64
	PurchasesByPlatform  map[string]int64
	PurchaseVolume       float64
	PoolSessionsOpened   int64
	PoolSessionsFinished int64
}

// GetSnapshot copies the current counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		Uptime:               int64(time.Since(c.startTime).Seconds()),
		TotalRequests:        copyMap(c.totalRequests),
		TotalRequestsDur:     copyMap(c.totalRequestsDur),
		RequestErrors:        copyMap(c.requestErrors),
		RequestsInProgress:   copyMap(c.requestsInProgress),
		RateLimitHits:        c.rateLimitHits,
		RateLimitByKey:       copyMap(c.rateLimitByKey),
		ChargesByPlatform:    copyMap(c.chargesByPlatform),
		ChargedByPlatform:    copyFloatMap(c.chargedByPlatform),
		UsageCostByPlatform:  copyFloatMap(c.usageCostByPlatform),
		PurchasesByPlatform:  copyMap(c.purchasesByPlatform),
		PurchaseVolume:       c.purchaseVolume,
		PoolSessionsOpened:   c.poolSessionsOpened,
		PoolSessionsFinished: c.poolSessionsFinished,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func copyFloatMap(m map[string]float64) map[string]float64 {
	result := make(map[string]float64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
