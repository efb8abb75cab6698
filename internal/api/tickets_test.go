package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/persistorai/queuecall/internal/api"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/service"
)

func TestIssueTicket(t *testing.T) {
	t.Parallel()

	var gotAgency, gotService string

	svc := &mockTickets{
		issueFn: func(_ context.Context, agencyID, serviceID string) (*models.TicketPosition, error) {
			gotAgency, gotService = agencyID, serviceID
			return &models.TicketPosition{
				Ticket:       models.Ticket{ID: "t1", ServiceID: serviceID, QueueNumber: 12, Status: models.TicketWaiting},
				WaitingAhead: 3,
			}, nil
		},
	}

	r := newTestRouter()
	h := api.NewTicketHandler(svc, testLogger())
	r.POST("/agencies/:agencyId/tickets", h.Issue)

	w := doRequest(r, http.MethodPost, "/agencies/a1/tickets", `{"service_id":"s1"}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	if gotAgency != "a1" || gotService != "s1" {
		t.Errorf("issued for %s/%s, want a1/s1", gotAgency, gotService)
	}

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if body["queue_number"] != float64(12) || body["waiting_ahead"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestIssueTicket_MissingService(t *testing.T) {
	t.Parallel()

	r := newTestRouter()
	h := api.NewTicketHandler(&mockTickets{}, testLogger())
	r.POST("/agencies/:agencyId/tickets", h.Issue)

	if w := doRequest(r, http.MethodPost, "/agencies/a1/tickets", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	t.Parallel()

	svc := &mockTickets{
		getFn: func(context.Context, string) (*models.TicketPosition, error) {
			return nil, models.ErrTicketNotFound
		},
	}

	r := newTestRouter()
	h := api.NewTicketHandler(svc, testLogger())
	r.GET("/tickets/:id", h.Get)

	if w := doRequest(r, http.MethodGet, "/tickets/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestRateTicket(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"accepted", `{"score":5}`, nil, http.StatusAccepted},
		{"malformed", `{"score":`, nil, http.StatusBadRequest},
		{"invalid score", `{"score":9}`, models.ErrInvalidScore, http.StatusBadRequest},
		{"not served", `{"score":4}`, models.ErrTicketNotRateable, http.StatusConflict},
		{"unknown ticket", `{"score":4}`, models.ErrTicketNotFound, http.StatusNotFound},
		{"queue full", `{"score":4}`, service.ErrRatingQueueFull, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &mockTickets{
				rateFn: func(context.Context, string, *models.RateTicketRequest) error { return tt.err },
			}

			r := newTestRouter()
			h := api.NewTicketHandler(svc, testLogger())
			r.POST("/tickets/:id/rating", h.Rate)

			if w := doRequest(r, http.MethodPost, "/tickets/t1/rating", tt.body); w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}
