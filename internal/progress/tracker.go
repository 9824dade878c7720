// Package progress tracks the state of the job currently being
// transcribed. It only observes; the orchestrator drives every change.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/transcribe"
)

type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkCompleted  ChunkStatus = "completed"
	ChunkError      ChunkStatus = "error"
)

// Chunk is the tracked state of one byte range of the job.
type Chunk struct {
	Index    int                  `json:"index"`
	Start    int64                `json:"start"`
	End      int64                `json:"end"`
	Status   ChunkStatus          `json:"status"`
	Progress float64              `json:"progress"`
	Text     string               `json:"text,omitempty"`
	Segments []transcribe.Segment `json:"segments,omitempty"`
	Error    string               `json:"error,omitempty"`
}

// ChunkUpdate is a partial chunk update. Nil fields are left unchanged.
type ChunkUpdate struct {
	Status   *ChunkStatus
	Progress *float64
	Text     *string
	Segments []transcribe.Segment
	Error    *string
}

// Snapshot is a copy of the tracker state safe to hand to readers.
type Snapshot struct {
	JobID      string                `json:"job_id,omitempty"`
	FileName   string                `json:"file_name,omitempty"`
	Size       int64                 `json:"size"`
	Provider   transcribe.ProviderID `json:"provider,omitempty"`
	Status     transcribe.Status     `json:"status"`
	Chunks     []Chunk               `json:"chunks"`
	Progress   float64               `json:"progress"`
	ETASeconds *float64              `json:"eta_seconds,omitempty"`
	StartedAt  time.Time             `json:"started_at,omitempty"`
	EndedAt    *time.Time            `json:"ended_at,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// Tracker holds the progress of one job at a time.
type Tracker struct {
	mu     sync.RWMutex
	state  Snapshot
	events events.Publisher
	now    func() time.Time
}

func NewTracker(pub events.Publisher) *Tracker {
	if pub == nil {
		pub = events.Discard
	}
	return &Tracker{
		state:  Snapshot{Status: transcribe.StatusIdle},
		events: pub,
		now:    time.Now,
	}
}

// Initialize resets the tracker for a new job with chunkCount pending
// chunks.
func (t *Tracker) Initialize(jobID, name string, size int64, chunkCount int, provider transcribe.ProviderID) {
	t.mu.Lock()
	t.state = Snapshot{
		JobID:     jobID,
		FileName:  name,
		Size:      size,
		Provider:  provider,
		Status:    transcribe.StatusPreparing,
		Chunks:    make([]Chunk, chunkCount),
		StartedAt: t.now(),
	}
	for i := range t.state.Chunks {
		t.state.Chunks[i] = Chunk{Index: i, Status: ChunkPending}
	}
	t.mu.Unlock()
	t.publish()
}

// Resize replaces the chunk plan once the final chunk count is known (after
// normalization). Existing chunk state is discarded.
func (t *Tracker) Resize(chunkCount int) {
	t.mu.Lock()
	t.state.Chunks = make([]Chunk, chunkCount)
	for i := range t.state.Chunks {
		t.state.Chunks[i] = Chunk{Index: i, Status: ChunkPending}
	}
	t.mu.Unlock()
	t.publish()
}

// SetChunkRange records the byte range of chunk i.
func (t *Tracker) SetChunkRange(i int, start, end int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.state.Chunks) {
		return fmt.Errorf("chunk %d out of range (%d chunks)", i, len(t.state.Chunks))
	}
	t.state.Chunks[i].Start = start
	t.state.Chunks[i].End = end
	return nil
}

// UpdateChunk merges u into chunk i and recomputes the job status: any
// failed chunk fails the job, all completed completes it, anything else is
// processing.
func (t *Tracker) UpdateChunk(i int, u ChunkUpdate) error {
	t.mu.Lock()
	if i < 0 || i >= len(t.state.Chunks) {
		n := len(t.state.Chunks)
		t.mu.Unlock()
		return fmt.Errorf("chunk %d out of range (%d chunks)", i, n)
	}
	c := &t.state.Chunks[i]
	if u.Status != nil {
		c.Status = *u.Status
		if c.Status == ChunkCompleted {
			c.Progress = 100
		}
	}
	if u.Progress != nil {
		c.Progress = clamp(*u.Progress)
	}
	if u.Text != nil {
		c.Text = *u.Text
	}
	if u.Segments != nil {
		c.Segments = u.Segments
	}
	if u.Error != nil {
		c.Error = *u.Error
	}
	t.recompute()
	t.mu.Unlock()
	t.publish()
	return nil
}

func (t *Tracker) recompute() {
	completed := 0
	for _, c := range t.state.Chunks {
		switch c.Status {
		case ChunkError:
			t.setTerminal(transcribe.StatusError)
			if t.state.Error == "" {
				t.state.Error = c.Error
			}
			return
		case ChunkCompleted:
			completed++
		}
	}
	if completed == len(t.state.Chunks) && completed > 0 {
		t.setTerminal(transcribe.StatusCompleted)
		return
	}
	t.state.Status = transcribe.StatusProcessing
	t.state.EndedAt = nil
}

func (t *Tracker) setTerminal(s transcribe.Status) {
	t.state.Status = s
	if t.state.EndedAt == nil {
		now := t.now()
		t.state.EndedAt = &now
	}
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// SetProvider records a provider switch.
func (t *Tracker) SetProvider(p transcribe.ProviderID) {
	t.mu.Lock()
	t.state.Provider = p
	t.mu.Unlock()
	t.publish()
}

// Complete marks the job and every chunk completed. Used when the result
// comes from the cache or the local model.
func (t *Tracker) Complete() {
	t.mu.Lock()
	if len(t.state.Chunks) == 0 {
		t.state.Chunks = []Chunk{{Index: 0, End: t.state.Size}}
	}
	for i := range t.state.Chunks {
		t.state.Chunks[i].Status = ChunkCompleted
		t.state.Chunks[i].Progress = 100
	}
	t.setTerminal(transcribe.StatusCompleted)
	t.mu.Unlock()
	t.publish()
}

// Fail marks the job as failed outside chunk processing.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	t.setTerminal(transcribe.StatusError)
	if err != nil {
		t.state.Error = err.Error()
	}
	t.mu.Unlock()
	t.publish()
}

// Progress returns the job's completion percentage: the mean of chunk
// progress, where pending chunks count 0 and completed ones 100.
func (t *Tracker) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress()
}

func (t *Tracker) progress() float64 {
	if len(t.state.Chunks) == 0 {
		if t.state.Status == transcribe.StatusCompleted {
			return 100
		}
		return 0
	}
	var sum float64
	for _, c := range t.state.Chunks {
		switch c.Status {
		case ChunkCompleted:
			sum += 100
		case ChunkPending:
		default:
			sum += c.Progress
		}
	}
	return sum / float64(len(t.state.Chunks))
}

// TimeRemaining extrapolates linearly from elapsed time and progress. It
// reports false until some progress has been made.
func (t *Tracker) TimeRemaining() (time.Duration, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.timeRemaining()
}

func (t *Tracker) timeRemaining() (time.Duration, bool) {
	if t.state.StartedAt.IsZero() {
		return 0, false
	}
	frac := t.progress() / 100
	if frac <= 0 {
		return 0, false
	}
	if frac >= 1 {
		return 0, true
	}
	elapsed := t.now().Sub(t.state.StartedAt)
	return time.Duration(float64(elapsed) * (1 - frac) / frac), true
}

// Snapshot returns a deep copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot()
}

func (t *Tracker) snapshot() Snapshot {
	s := t.state
	s.Chunks = make([]Chunk, len(t.state.Chunks))
	for i, c := range t.state.Chunks {
		c.Segments = append([]transcribe.Segment(nil), c.Segments...)
		s.Chunks[i] = c
	}
	if t.state.EndedAt != nil {
		ended := *t.state.EndedAt
		s.EndedAt = &ended
	}
	s.Progress = t.progress()
	if eta, ok := t.timeRemaining(); ok {
		secs := eta.Seconds()
		s.ETASeconds = &secs
	}
	return s
}

func (t *Tracker) publish() {
	t.mu.RLock()
	s := t.snapshot()
	t.mu.RUnlock()
	t.events.Publish(events.Data{
		Type:    events.TypeProgress,
		SubType: string(s.Status),
		JobID:   s.JobID,
		Payload: s,
	})
}
