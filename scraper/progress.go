package scraper

import (
	"context"

	"supplier_ingest/models"
)

// Observer receives progress events. It runs on the job's goroutine and
// must not block for long.
type Observer func(models.ProgressEvent)

// ChannelObserver forwards events to ch. When ctx is done events are
// dropped instead of blocking the job.
func ChannelObserver(ctx context.Context, ch chan<- models.ProgressEvent) Observer {
	return func(ev models.ProgressEvent) {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}

// tracker keeps the running counters of one batch call. Current only grows
// and never passes Total.
type tracker struct {
	observer Observer
	current  int
	total    int
	category string
}

func newTracker(observer Observer) *tracker {
	return &tracker{observer: observer}
}

func (t *tracker) grow(n int) {
	t.total += n
}

func (t *tracker) emit(stage models.Stage, title, message string) {
	if t.observer == nil {
		return
	}
	t.observer(models.ProgressEvent{
		Stage:        stage,
		Current:      t.current,
		Total:        t.total,
		ListingTitle: title,
		Category:     t.category,
		Message:      message,
	})
}

// finish records a listing reaching a terminal stage.
func (t *tracker) finish(stage models.Stage, title, message string) {
	if t.current < t.total {
		t.current++
	}
	t.emit(stage, title, message)
}
