package models

import "time"

// HistoryEntry records a ticket leaving Serving.
type HistoryEntry struct {
	CounterID   string       `json:"counterId"`
	CounterName string       `json:"counter"`
	QueueNumber int          `json:"number"`
	Status      TicketStatus `json:"status"`
	At          time.Time    `json:"at"`
}
