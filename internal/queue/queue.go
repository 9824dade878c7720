// Package queue holds submitted files and feeds them to the orchestrator
// one at a time in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/notify"
	"github.com/snarg/juicer/internal/transcribe"
)

var (
	ErrNotFound     = errors.New("queue: item not found")
	ErrNotQueued    = errors.New("queue: item is not waiting")
	ErrNotRetryable = errors.New("queue: only failed items can be retried")
	ErrStopped      = errors.New("queue: stopped")
)

// Runner transcribes one submission. *pipeline.Orchestrator implements it.
type Runner interface {
	Transcribe(ctx context.Context, sub *transcribe.Submission) (*transcribe.Result, error)
}

// Item is a submission and its position in the lifecycle.
type Item struct {
	ID          string               `json:"id"`
	FileName    string               `json:"file_name"`
	MediaType   string               `json:"media_type"`
	Size        int64                `json:"size"`
	Status      transcribe.Status    `json:"status"`
	SubmittedAt time.Time            `json:"submitted_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Result      *transcribe.Result   `json:"result,omitempty"`
	Error       string               `json:"error,omitempty"`
	ErrorKind   transcribe.ErrorKind `json:"error_kind,omitempty"`
	Attempts    int                  `json:"attempts"`

	sub *transcribe.Submission
}

// Stats counts items by state.
type Stats struct {
	Total      int   `json:"total"`
	Queued     int   `json:"queued"`
	Processing int   `json:"processing"`
	Completed  int   `json:"completed"`
	Error      int   `json:"error"`
	Processed  int64 `json:"processed_total"`
	Failed     int64 `json:"failed_total"`
}

// Options configures a Queue.
type Options struct {
	Runner    Runner
	Retention time.Duration // how long terminal items stay visible, default 5m
	Events    events.Publisher
	Notifier  notify.Notifier
	Now       func() time.Time
	Log       zerolog.Logger
}

// Queue is a FIFO with a single drain goroutine.
type Queue struct {
	runner    Runner
	retention time.Duration
	events    events.Publisher
	notifier  notify.Notifier
	now       func() time.Time
	log       zerolog.Logger

	mu    sync.Mutex
	items []*Item
	wake  chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64
}

func New(opts Options) *Queue {
	if opts.Retention <= 0 {
		opts.Retention = 5 * time.Minute
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		runner:    opts.Runner,
		retention: opts.Retention,
		events:    opts.Events,
		notifier:  opts.Notifier,
		now:       opts.Now,
		log:       opts.Log.With().Str("component", "queue").Logger(),
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start launches the drain loop.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.drain()
	q.log.Info().Dur("retention", q.retention).Msg("submission queue started")
}

// Stop cancels the in-flight job, if any, and waits for the drain loop to
// exit. Queued items are left in place.
func (q *Queue) Stop() {
	if !q.stopped.CompareAndSwap(false, true) {
		return
	}
	q.cancel()
	if q.started.Load() {
		<-q.done
	}
	q.log.Info().
		Int64("processed", q.processed.Load()).
		Int64("failed", q.failed.Load()).
		Msg("submission queue stopped")
}

// Enqueue appends sub and wakes the drain loop.
func (q *Queue) Enqueue(sub *transcribe.Submission) (Item, error) {
	if q.stopped.Load() {
		return Item{}, ErrStopped
	}
	it := &Item{
		ID:          sub.ID,
		FileName:    sub.FileName,
		MediaType:   sub.MediaType,
		Size:        sub.Size,
		Status:      transcribe.StatusQueued,
		SubmittedAt: sub.SubmittedAt,
		sub:         sub,
	}
	q.mu.Lock()
	for _, existing := range q.items {
		if existing.ID == sub.ID {
			q.mu.Unlock()
			return Item{}, fmt.Errorf("queue: duplicate submission id %s", sub.ID)
		}
	}
	q.items = append(q.items, it)
	snap := it.copy()
	q.mu.Unlock()

	q.publish("enqueued", snap)
	q.signal()
	return snap, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Cancel removes a queued item. Items already processing or finished
// return ErrNotQueued.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	i := q.index(id)
	if i < 0 {
		q.mu.Unlock()
		return ErrNotFound
	}
	it := q.items[i]
	if it.Status != transcribe.StatusQueued {
		q.mu.Unlock()
		return ErrNotQueued
	}
	q.items = append(q.items[:i], q.items[i+1:]...)
	snap := it.copy()
	q.mu.Unlock()

	q.publish("cancelled", snap)
	return nil
}

// Clear removes every queued item and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Status == transcribe.StatusQueued {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	q.mu.Unlock()

	if removed > 0 {
		q.publish("cleared", map[string]int{"removed": removed})
	}
	return removed
}

// Retry re-queues a failed item at the back of the queue. The job starts
// from scratch, so it re-checks the cache and provider health.
func (q *Queue) Retry(id string) (Item, error) {
	q.mu.Lock()
	i := q.index(id)
	if i < 0 {
		q.mu.Unlock()
		return Item{}, ErrNotFound
	}
	it := q.items[i]
	if it.Status != transcribe.StatusError || it.sub == nil {
		q.mu.Unlock()
		return Item{}, ErrNotRetryable
	}
	it.Status = transcribe.StatusQueued
	it.Error, it.ErrorKind = "", ""
	it.StartedAt, it.FinishedAt = nil, nil
	q.items = append(append(q.items[:i], q.items[i+1:]...), it)
	snap := it.copy()
	q.mu.Unlock()

	q.publish("retried", snap)
	q.signal()
	return snap, nil
}

// Items returns every item in queue order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = it.copy()
	}
	return out
}

// Get returns one item.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.index(id); i >= 0 {
		return q.items[i].copy(), nil
	}
	return Item{}, ErrNotFound
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{
		Total:     len(q.items),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
	for _, it := range q.items {
		switch it.Status {
		case transcribe.StatusQueued:
			st.Queued++
		case transcribe.StatusProcessing:
			st.Processing++
		case transcribe.StatusCompleted:
			st.Completed++
		case transcribe.StatusError:
			st.Error++
		}
	}
	return st
}

// QueueDepth reports waiting and running items for the metrics collector.
func (q *Queue) QueueDepth() (queued, processing int) {
	st := q.Stats()
	return st.Queued, st.Processing
}

func (q *Queue) index(id string) int {
	for i, it := range q.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (it *Item) copy() Item {
	c := *it
	c.sub = nil
	if it.Result != nil {
		r := *it.Result
		c.Result = &r
	}
	return c
}

func (q *Queue) drain() {
	defer close(q.done)

	ticker := time.NewTicker(pruneInterval(q.retention))
	defer ticker.Stop()

	for {
		if it := q.next(); it != nil {
			q.process(it)
			continue
		}
		select {
		case <-q.ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
			q.Prune()
		}
	}
}

func pruneInterval(retention time.Duration) time.Duration {
	return min(max(retention/5, time.Second), 30*time.Second)
}

// next claims the oldest queued item, or returns nil.
func (q *Queue) next() *Item {
	if q.ctx.Err() != nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == transcribe.StatusQueued {
			now := q.now()
			it.Status = transcribe.StatusProcessing
			it.StartedAt = &now
			it.Attempts++
			return it
		}
	}
	return nil
}

func (q *Queue) process(it *Item) {
	q.mu.Lock()
	sub := it.sub
	snap := it.copy()
	q.mu.Unlock()
	q.publish("started", snap)

	log := q.log.With().Str("job_id", it.ID).Str("file", it.FileName).Logger()
	log.Debug().Int("attempt", snap.Attempts).Msg("processing submission")

	res, err := q.runner.Transcribe(q.ctx, sub)

	q.mu.Lock()
	now := q.now()
	it.FinishedAt = &now
	if err != nil {
		it.Status = transcribe.StatusError
		it.Error = err.Error()
		it.ErrorKind = transcribe.KindOf(err)
	} else {
		it.Status = transcribe.StatusCompleted
		it.Result = res
		// Content is only kept while a retry is possible.
		it.sub = nil
	}
	snap = it.copy()
	q.mu.Unlock()

	if err != nil {
		q.failed.Add(1)
		log.Warn().Err(err).Msg("submission failed")
		q.notifier.Notify(notify.Error, fmt.Sprintf("Failed to transcribe %s: %v", it.FileName, err))
		q.publish("error", snap)
	} else {
		q.processed.Add(1)
		q.notifier.Notify(notify.Success, fmt.Sprintf("Transcribed %s", it.FileName))
		q.publish("completed", snap)
	}
	q.Prune()
}

// Prune drops terminal items older than the retention period and returns
// how many were removed.
func (q *Queue) Prune() int {
	cutoff := q.now().Add(-q.retention)
	q.mu.Lock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Status.Terminal() && it.FinishedAt != nil && it.FinishedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	q.mu.Unlock()

	if removed > 0 {
		q.log.Debug().Int("pruned", removed).Msg("pruned finished submissions")
		q.publish("pruned", map[string]int{"removed": removed})
	}
	return removed
}

func (q *Queue) publish(subType string, payload any) {
	jobID := ""
	if it, ok := payload.(Item); ok {
		jobID = it.ID
	}
	q.events.Publish(events.Data{
		Type:    events.TypeQueue,
		SubType: subType,
		JobID:   jobID,
		Payload: payload,
	})
}
