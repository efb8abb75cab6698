package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestServer creates a test server that routes to the given handler map.
// Keys are "METHOD /path", values are handler funcs.
func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) (*httptest.Server, *Client) {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, handler := range routes {
		mux.HandleFunc(pattern, handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := New(srv.URL, WithToken("test-token"))
	return srv, c
}

func jsonResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func TestHealth(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/health": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 200, HealthResponse{Status: "ok", Version: "0.3.0", Connections: 4})
		},
	})
	resp, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "0.3.0" || resp.Connections != 4 {
		t.Errorf("got %+v", resp)
	}
}

func TestReady_NotReady(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/ready": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 503, map[string]string{"code": "unavailable", "message": "database unreachable"})
		},
	})
	_, err := c.Ready(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 503 {
		t.Fatalf("Ready() error = %v, want 503 APIError", err)
	}
}

func TestListCounters(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/agencies/a1/counters": func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
				t.Errorf("Authorization = %q", got)
			}
			jsonResponse(w, 200, map[string]any{"counters": []Counter{
				{ID: "c1", AgencyID: "a1", Name: "Counter 1", AssignedServiceIDs: []string{"s1"}},
			}})
		},
	})
	counters, err := c.Agencies.ListCounters(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ListCounters() error: %v", err)
	}
	if len(counters) != 1 || counters[0].ID != "c1" || counters[0].AssignedServiceIDs[0] != "s1" {
		t.Errorf("got %+v", counters)
	}
}

func TestListServices(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/agencies/a1/services": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 200, map[string]any{"services": []Service{{ID: "s1", Name: "Passports"}}})
		},
	})
	services, err := c.Agencies.ListServices(context.Background(), "a1")
	if err != nil {
		t.Fatalf("ListServices() error: %v", err)
	}
	if len(services) != 1 || services[0].Name != "Passports" {
		t.Errorf("got %+v", services)
	}
}

func TestIssueTicket(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/agencies/a1/tickets": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]string
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["service_id"] != "s1" {
				t.Errorf("service_id = %q", body["service_id"])
			}
			jsonResponse(w, 201, Ticket{ID: "t9", ServiceID: "s1", QueueNumber: 7, Status: StatusWaiting, WaitingAhead: 2})
		},
	})
	tk, err := c.Tickets.Issue(context.Background(), "a1", "s1")
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}
	if tk.QueueNumber != 7 || tk.WaitingAhead != 2 || tk.Status != StatusWaiting {
		t.Errorf("got %+v", tk)
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/tickets/missing": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 404, map[string]string{"code": "not_found", "message": "ticket not found", "request_id": "r1"})
		},
	})
	_, err := c.Tickets.Get(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("Get() error = %v, want not found", err)
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RequestID != "r1" {
		t.Errorf("RequestID = %q, want r1", apiErr.RequestID)
	}
}

func TestRateTicket(t *testing.T) {
	var got RatingRequest
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/tickets/t1/rating": func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
			w.WriteHeader(http.StatusAccepted)
		},
	})
	if err := c.Tickets.Rate(context.Background(), "t1", &RatingRequest{Score: 5, Comment: "quick"}); err != nil {
		t.Fatalf("Rate() error: %v", err)
	}
	if got.Score != 5 || got.Comment != "quick" {
		t.Errorf("server got %+v", got)
	}
}

func TestRateTicket_Conflict(t *testing.T) {
	_, c := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/tickets/t1/rating": func(w http.ResponseWriter, _ *http.Request) {
			jsonResponse(w, 409, map[string]string{"code": "conflict", "message": "ticket has not been served"})
		},
	})
	err := c.Tickets.Rate(context.Background(), "t1", &RatingRequest{Score: 3})
	if !IsConflict(err) {
		t.Fatalf("Rate() error = %v, want conflict", err)
	}
}

func TestParseAPIError_RawBody(t *testing.T) {
	err := parseAPIError(502, []byte("bad gateway"))
	if err.Code != "unknown" || err.Message != "bad gateway" {
		t.Errorf("got %+v", err)
	}
	if IsUnauthorized(err) || IsRateLimited(err) {
		t.Error("502 matched an unrelated status helper")
	}
}

func TestWithTimeout(t *testing.T) {
	c := New("http://localhost", WithTimeout(2*time.Second))
	if c.httpClient.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v", c.httpClient.Timeout)
	}
}

func TestWSURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:3040": "ws://localhost:3040",
		"https://queue.example": "wss://queue.example",
		"ws://already":          "ws://already",
	}
	for in, want := range tests {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
