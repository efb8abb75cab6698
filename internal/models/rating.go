package models

import "time"

// maxCommentLength bounds free-text feedback.
const maxCommentLength = 2000

// Rating is a citizen's post-service score.
type Rating struct {
	TicketID  string    `json:"ticket_id"`
	CounterID string    `json:"counter_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RateTicketRequest is the payload for the ticket-rating call.
type RateTicketRequest struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// Validate checks the score range and comment length.
func (r *RateTicketRequest) Validate() error {
	if r.Score < 1 || r.Score > 5 {
		return ErrInvalidScore
	}

	if len(r.Comment) > maxCommentLength {
		return ErrFieldTooLong("comment", maxCommentLength)
	}

	return nil
}
