// Package client is a typed HTTP client for the subsplit daemon API. The
// CLI uses it; it is also handy for integration scripts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/subsplit/subsplit/internal/card"
	"github.com/subsplit/subsplit/internal/marketplace"
	"github.com/subsplit/subsplit/internal/platform"
	"github.com/subsplit/subsplit/internal/pool"
	"github.com/subsplit/subsplit/internal/usage"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client communicates with a subsplit daemon.
type Client struct {
	baseURL    *url.URL
	userID     uuid.UUID
	httpClient HTTPClient
}

// New constructs a client for the given base URL acting as the given user.
func New(baseURL string, userID uuid.UUID, httpClient HTTPClient) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: parsed, userID: userID, httpClient: httpClient}, nil
}

// GenerateCardParams is the card creation payload.
type GenerateCardParams struct {
	PlatformAccountID uuid.UUID `json:"platform_account_id"`
	Platform          string    `json:"platform"`
	InitialBalance    float64   `json:"initial_balance"`
	PricePerHour      float64   `json:"price_per_hour"`
	ExpiryHours       int       `json:"expiry_hours"`
}

// IssuedCard is a card plus the number and CVV the server reveals only at
// creation and purchase time.
type IssuedCard struct {
	Card       card.Card `json:"card"`
	CardNumber string    `json:"card_number"`
	CVV        string    `json:"cvv"`
}

// PurchaseResult is a settled purchase with the revealed card secrets.
type PurchaseResult struct {
	Transaction marketplace.Transaction `json:"transaction"`
	Card        card.Card               `json:"card"`
	CardNumber  string                  `json:"card_number"`
	CVV         string                  `json:"cvv"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	return c.doJSON(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	endpoint := c.baseURL.ResolveReference(rel)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != uuid.Nil {
		req.Header.Set("X-User-ID", c.userID.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var errPayload errorResponse
		if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
			return fmt.Errorf("subsplit error: %s", errPayload.Error)
		}
		return fmt.Errorf("subsplit error: status %d", resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// GenerateCard creates a virtual card backed by the caller's platform account.
func (c *Client) GenerateCard(ctx context.Context, p GenerateCardParams) (IssuedCard, error) {
	var resp IssuedCard
	if err := c.post(ctx, "/api/v1/cards", p, &resp); err != nil {
		return IssuedCard{}, err
	}
	return resp, nil
}

// ValidateCard checks a card number and CVV.
func (c *Client) ValidateCard(ctx context.Context, number, cvv string) (card.Validation, error) {
	payload := map[string]string{"card_number": number, "cvv": cvv}
	var resp card.Validation
	if err := c.post(ctx, "/api/v1/cards/validate", payload, &resp); err != nil {
		return card.Validation{}, err
	}
	return resp, nil
}

// GetCard fetches a card by ID.
func (c *Client) GetCard(ctx context.Context, id uuid.UUID) (card.Card, error) {
	var resp card.Card
	if err := c.get(ctx, "/api/v1/cards/"+id.String(), &resp); err != nil {
		return card.Card{}, err
	}
	return resp, nil
}

// DeactivateCard cancels a card.
func (c *Client) DeactivateCard(ctx context.Context, id uuid.UUID) error {
	return c.post(ctx, "/api/v1/cards/"+id.String()+"/deactivate", struct{}{}, nil)
}

// Browse lists cards for sale.
func (c *Client) Browse(ctx context.Context, platformName string, maxPrice float64) ([]marketplace.Listing, error) {
	q := url.Values{}
	if platformName != "" {
		q.Set("platform", platformName)
	}
	if maxPrice > 0 {
		q.Set("max_price", fmt.Sprintf("%g", maxPrice))
	}
	path := "/api/v1/marketplace/cards"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Listings []marketplace.Listing `json:"listings"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Listings, nil
}

// Purchase buys a listed card.
func (c *Client) Purchase(ctx context.Context, cardID uuid.UUID, durationHours int) (PurchaseResult, error) {
	payload := map[string]int{"duration_hours": durationHours}
	var resp PurchaseResult
	if err := c.post(ctx, "/api/v1/marketplace/cards/"+cardID.String()+"/purchase", payload, &resp); err != nil {
		return PurchaseResult{}, err
	}
	return resp, nil
}

// Purchases lists the caller's purchases, newest first.
func (c *Client) Purchases(ctx context.Context) ([]marketplace.Transaction, error) {
	var resp struct {
		Transactions []marketplace.Transaction `json:"transactions"`
	}
	if err := c.get(ctx, "/api/v1/marketplace/purchases", &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// StartSession opens provider access to a purchased card.
func (c *Client) StartSession(ctx context.Context, cardID uuid.UUID) (platform.Session, error) {
	payload := map[string]string{"card_id": cardID.String()}
	var resp platform.Session
	if err := c.post(ctx, "/api/v1/sessions", payload, &resp); err != nil {
		return platform.Session{}, err
	}
	return resp, nil
}

// Execute runs one request on an open access session.
func (c *Client) Execute(ctx context.Context, sessionID uuid.UUID, reqType, message string) (platform.RunResult, error) {
	payload := map[string]string{"type": reqType, "message": message}
	var resp platform.RunResult
	if err := c.post(ctx, "/api/v1/sessions/"+sessionID.String()+"/execute", payload, &resp); err != nil {
		return platform.RunResult{}, err
	}
	return resp, nil
}

// EndSession terminates an access session.
func (c *Client) EndSession(ctx context.Context, sessionID uuid.UUID) (platform.Session, error) {
	var resp platform.Session
	if err := c.post(ctx, "/api/v1/sessions/"+sessionID.String()+"/end", struct{}{}, &resp); err != nil {
		return platform.Session{}, err
	}
	return resp, nil
}

// Usage lists the caller's recent metered requests.
func (c *Client) Usage(ctx context.Context, limit int) ([]usage.Entry, error) {
	path := "/api/v1/usage"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp struct {
		Entries []usage.Entry `json:"entries"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Pools lists credit pools, optionally by platform.
func (c *Client) Pools(ctx context.Context, platformName string) ([]pool.Pool, error) {
	path := "/api/v1/pools"
	if platformName != "" {
		path += "?platform=" + url.QueryEscape(platformName)
	}
	var resp struct {
		Pools []pool.Pool `json:"pools"`
	}
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Pools, nil
}

// Multiplier returns the live demand multiplier for a platform.
func (c *Client) Multiplier(ctx context.Context, platformName string) (float64, error) {
	var resp struct {
		Multiplier float64 `json:"demand_multiplier"`
	}
	if err := c.get(ctx, "/api/v1/pricing/multiplier?platform="+url.QueryEscape(platformName), &resp); err != nil {
		return 0, err
	}
	return resp.Multiplier, nil
}

// Health reports whether the daemon is up.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}
