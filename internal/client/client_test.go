package client

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type stubHTTPClient struct {
	responses map[string]*http.Response
	requests  []*http.Request
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	key := req.Method + " " + req.URL.Path
	if resp, ok := s.responses[key]; ok {
		return resp, nil
	}
	return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader(`{"error":"not found"}`))}, nil
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestGenerateCardSendsIdentity(t *testing.T) {
	userID := uuid.New()
	stub := &stubHTTPClient{responses: map[string]*http.Response{
		"POST /api/v1/cards": jsonResponse(http.StatusCreated,
			`{"card":{"platform":"claude","current_balance":100},"card_number":"4000111122223333","cvv":"123"}`),
	}}
	c, err := New("http://localhost:8090", userID, stub)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	issued, err := c.GenerateCard(context.Background(), GenerateCardParams{Platform: "claude", InitialBalance: 100})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if issued.CardNumber != "4000111122223333" || issued.CVV != "123" {
		t.Fatalf("issued = %+v, want revealed number and cvv", issued)
	}
	if got := stub.requests[0].Header.Get("X-User-ID"); got != userID.String() {
		t.Fatalf("X-User-ID = %q, want %q", got, userID)
	}
	if got := stub.requests[0].Header.Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
}

func TestBrowseUnwrapsListings(t *testing.T) {
	stub := &stubHTTPClient{responses: map[string]*http.Response{
		"GET /api/v1/marketplace/cards": jsonResponse(http.StatusOK,
			`{"listings":[{"platform":"claude","current_price":8.5}],"count":1}`),
	}}
	c, err := New("http://localhost:8090", uuid.New(), stub)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	listings, err := c.Browse(context.Background(), "claude", 10)
	if err != nil {
		t.Fatalf("browse: %v", err)
	}
	if len(listings) != 1 || listings[0].CurrentPrice != 8.5 {
		t.Fatalf("listings = %+v", listings)
	}
	if q := stub.requests[0].URL.RawQuery; !strings.Contains(q, "platform=claude") || !strings.Contains(q, "max_price=10") {
		t.Fatalf("query = %q", q)
	}
}

func TestErrorPayloadSurfaced(t *testing.T) {
	stub := &stubHTTPClient{responses: map[string]*http.Response{
		"POST /api/v1/cards/validate": jsonResponse(http.StatusPaymentRequired, `{"error":"card depleted"}`),
	}}
	c, err := New("http://localhost:8090", uuid.New(), stub)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = c.ValidateCard(context.Background(), "4000111122223333", "123")
	if err == nil || !strings.Contains(err.Error(), "card depleted") {
		t.Fatalf("err = %v, want server error message", err)
	}
}
