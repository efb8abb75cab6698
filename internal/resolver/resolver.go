// Package resolver picks the next ticket a counter should call.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/persistorai/queuecall/internal/models"
)

// Claimer atomically removes the backlog head of a service and marks it
// Serving at the given counter.
type Claimer interface {
	ClaimNext(ctx context.Context, serviceID, counterID string, now time.Time) (*models.Ticket, error)
}

// Resolver walks a counter's services in order and claims the oldest
// Waiting ticket of the first non-empty backlog.
type Resolver struct {
	claimer Claimer
}

// New creates a Resolver.
func New(claimer Claimer) *Resolver {
	return &Resolver{claimer: claimer}
}

// Next claims the next ticket for counterID. It returns
// models.ErrBacklogEmpty when every listed backlog is empty.
func (r *Resolver) Next(ctx context.Context, counterID string, serviceIDs []string, now time.Time) (*models.Ticket, error) {
	if len(serviceIDs) == 0 {
		return nil, models.ErrNoServices
	}

	for _, serviceID := range serviceIDs {
		t, err := r.claimer.ClaimNext(ctx, serviceID, counterID, now)
		if err == nil {
			return t, nil
		}

		if !errors.Is(err, models.ErrBacklogEmpty) {
			return nil, fmt.Errorf("claiming from service %s: %w", serviceID, err)
		}
	}

	return nil, models.ErrBacklogEmpty
}
