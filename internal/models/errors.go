package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for entity lookups.
var (
	ErrCounterNotFound = errors.New("counter not found")
	ErrServiceNotFound = errors.New("service not found")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrStaffNotFound   = errors.New("staff not found")
	ErrAgencyNotFound  = errors.New("agency not found")
)

// Sentinel errors for counter commands.
var (
	ErrCounterInactive    = errors.New("counter is not active")
	ErrServiceNotAssigned = errors.New("service is not assigned to counter")
	ErrNoServices         = errors.New("counter has no assigned services")
	ErrBacklogEmpty       = errors.New("no waiting ticket")
	ErrTicketMismatch     = errors.New("ticket is not the counter's current ticket")
	ErrUnknownAction      = errors.New("unknown action")
	ErrTicketNotRateable  = errors.New("only a served ticket can be rated")
	ErrTicketClosed       = errors.New("current ticket was already closed, rejoin to refresh")
	ErrCounterElsewhere   = errors.New("counter is operated from another server")
)

// Sentinel errors for validation.
var (
	ErrMissingCounterID = errors.New("counterId is required")
	ErrMissingAgencyID  = errors.New("agencyId is required")
	ErrMissingServiceID = errors.New("serviceId is required")
	ErrInvalidScore     = errors.New("score must be between 1 and 5")
)

// ErrInvalidTransition reports a ticket status change that would break the
// Waiting -> Serving -> {Done, Missed} ordering.
var ErrInvalidTransition = errors.New("invalid ticket transition")

// InvalidTransition wraps ErrInvalidTransition with the statuses involved.
func InvalidTransition(from, to TicketStatus) error {
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
}

// ErrFieldTooLong returns an error indicating a field exceeds its maximum length.
func ErrFieldTooLong(field string, maxLen int) error {
	return fmt.Errorf("%s exceeds maximum length of %d", field, maxLen)
}
