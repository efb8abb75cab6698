package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/metrics"
	"github.com/persistorai/queuecall/internal/models"
)

const (
	defaultRatingQueue = 1000
	ratingWriteTimeout = 5 * time.Second
)

// RatingRecorder persists ratings.
type RatingRecorder interface {
	RecordRating(ctx context.Context, r *models.Rating) error
}

// RatingWorker buffers ratings and writes them from a single goroutine.
type RatingWorker struct {
	recorder RatingRecorder
	log      *logrus.Logger
	jobs     chan *models.Rating
}

// NewRatingWorker creates a RatingWorker with the given queue capacity.
func NewRatingWorker(recorder RatingRecorder, log *logrus.Logger, queueSize int) *RatingWorker {
	if queueSize <= 0 {
		queueSize = defaultRatingQueue
	}

	return &RatingWorker{
		recorder: recorder,
		log:      log,
		jobs:     make(chan *models.Rating, queueSize),
	}
}

// Enqueue adds a rating without blocking. It reports false when the queue
// is full and the rating was dropped.
func (w *RatingWorker) Enqueue(r *models.Rating) bool {
	select {
	case w.jobs <- r:
		metrics.RatingQueueDepth.Set(float64(len(w.jobs)))
		return true
	default:
		w.log.WithField("ticket_id", r.TicketID).Warn("rating queue full, dropping rating")
		return false
	}
}

// Run records ratings until the context is cancelled, then drains what is
// still queued.
func (w *RatingWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case r := <-w.jobs:
			w.process(r)
		}
	}
}

func (w *RatingWorker) drain() {
	for {
		select {
		case r := <-w.jobs:
			w.process(r)
		default:
			return
		}
	}
}

func (w *RatingWorker) process(r *models.Rating) {
	metrics.RatingQueueDepth.Set(float64(len(w.jobs)))

	ctx, cancel := context.WithTimeout(context.Background(), ratingWriteTimeout)
	defer cancel()

	if err := w.recorder.RecordRating(ctx, r); err != nil {
		w.log.WithError(err).WithField("ticket_id", r.TicketID).Warn("recording rating failed")
	}
}
