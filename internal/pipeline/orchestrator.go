// Package pipeline turns one submission into a transcription: cache
// lookup, provider selection, normalization, chunked provider calls with
// retry and failover, and the merged result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/cache"
	"github.com/snarg/juicer/internal/history"
	"github.com/snarg/juicer/internal/metrics"
	"github.com/snarg/juicer/internal/notify"
	"github.com/snarg/juicer/internal/progress"
	"github.com/snarg/juicer/internal/retry"
	"github.com/snarg/juicer/internal/transcribe"
)

// ResultCache is the part of *cache.Cache the orchestrator uses.
type ResultCache interface {
	Get(ctx context.Context, hash string) (*cache.Entry, error)
	Put(ctx context.Context, hash string, e *cache.Entry) error
}

// HealthSource is the part of *health.Monitor the orchestrator uses.
type HealthSource interface {
	PreferredService() transcribe.ProviderID
	ShouldAvoid(id transcribe.ProviderID) bool
	CheckHealth(ctx context.Context, ids ...transcribe.ProviderID)
}

// Credentials is the part of *credentials.Registry the orchestrator uses.
type Credentials interface {
	Usable(id transcribe.ProviderID) bool
	Key(id transcribe.ProviderID) string
	Selected() transcribe.ProviderID
}

// Normalizer transcodes audio. *audio.Normalizer implements it.
type Normalizer interface {
	Normalize(ctx context.Context, content []byte, p audio.Profile) ([]byte, error)
}

// LocalModel runs the offline model. *localmodel.Manager implements it.
type LocalModel interface {
	Ready() bool
	Variant() string
	Transcribe(ctx context.Context, content []byte, mediaType string) (*transcribe.Response, error)
}

// Options configures an Orchestrator. Cache, History, Normalizer and Local
// are optional.
type Options struct {
	Providers   transcribe.Registry
	Credentials Credentials
	Health      HealthSource
	Cache       ResultCache
	History     history.Recorder
	Normalizer  Normalizer
	Local       LocalModel
	Tracker     *progress.Tracker
	Notifier    notify.Notifier

	// Retry holds per-provider overrides of transcribe.DefaultRetryPolicy.
	Retry map[transcribe.ProviderID]transcribe.RetryPolicy

	ChunkBytes  int64 // default audio.DefaultChunkBytes
	MaxJobBytes int64 // 0 means unlimited
	Normalize   bool
	Offline     bool

	// Sleep replaces the retry backoff wait. Tests use it to skip delays.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
	Log   zerolog.Logger
}

// Orchestrator runs jobs one at a time; the queue serializes calls.
type Orchestrator struct {
	opts    Options
	offline atomic.Bool
	log     zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.ChunkBytes <= 0 {
		opts.ChunkBytes = audio.DefaultChunkBytes
	}
	if opts.Tracker == nil {
		opts.Tracker = progress.NewTracker(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "pipeline").Logger(),
	}
	o.offline.Store(opts.Offline)
	return o
}

// SetOffline toggles routing jobs through the local model.
func (o *Orchestrator) SetOffline(v bool) { o.offline.Store(v) }

// Offline reports whether offline mode is on.
func (o *Orchestrator) Offline() bool { return o.offline.Load() }

// Tracker returns the progress tracker jobs report to.
func (o *Orchestrator) Tracker() *progress.Tracker { return o.opts.Tracker }

func (o *Orchestrator) policy(id transcribe.ProviderID) transcribe.RetryPolicy {
	if p, ok := o.opts.Retry[id]; ok {
		return p
	}
	return transcribe.DefaultRetryPolicy(id)
}

// Transcribe runs sub to completion. Any error also leaves the tracker in
// the error state and is recorded in history.
func (o *Orchestrator) Transcribe(ctx context.Context, sub *transcribe.Submission) (*transcribe.Result, error) {
	log := o.log.With().Str("job_id", sub.ID).Str("file", sub.FileName).Logger()
	start := o.opts.Now()
	tracker := o.opts.Tracker
	tracker.Initialize(sub.ID, sub.FileName, sub.Size, 0, "")

	hash := cache.Fingerprint(sub.Content)

	if res, ok := o.cached(ctx, hash, log); ok {
		tracker.Complete()
		o.record(ctx, sub, hash, res, nil, log)
		metrics.JobsTotal.WithLabelValues("cached").Inc()
		log.Info().Str("hash", hash[:12]).Msg("transcription served from cache")
		return res, nil
	}

	var (
		res *transcribe.Result
		err error
	)
	if o.Offline() && o.opts.Local != nil && o.opts.Local.Ready() {
		res, err = o.runLocal(ctx, sub)
	} else {
		res, err = o.runRemote(ctx, sub, log)
	}
	if err != nil {
		tracker.Fail(err)
		o.record(ctx, sub, hash, nil, err, log)
		metrics.JobsTotal.WithLabelValues(string(transcribe.StatusError)).Inc()
		log.Warn().Err(err).Str("kind", string(transcribe.KindOf(err))).Msg("transcription failed")
		return nil, err
	}

	if o.opts.Cache != nil {
		entry := &cache.Entry{Result: *res, Provider: res.Provider, FileSize: sub.Size, Duration: res.Duration}
		if err := o.opts.Cache.Put(ctx, hash, entry); err != nil {
			log.Warn().Err(err).Msg("failed to cache result")
		}
	}
	o.record(ctx, sub, hash, res, nil, log)
	tracker.Complete()
	metrics.JobsTotal.WithLabelValues(string(transcribe.StatusCompleted)).Inc()

	log.Info().
		Str("provider", string(res.Provider)).
		Int("segments", len(res.Segments)).
		Float64("duration", res.Duration).
		Dur("elapsed", o.opts.Now().Sub(start)).
		Msg("transcription completed")
	return res, nil
}

// cached looks up hash. Cache read errors count as a miss.
func (o *Orchestrator) cached(ctx context.Context, hash string, log zerolog.Logger) (*transcribe.Result, bool) {
	if o.opts.Cache == nil {
		return nil, false
	}
	e, err := o.opts.Cache.Get(ctx, hash)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			log.Warn().Err(err).Msg("cache lookup failed, continuing without cache")
		}
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	res := e.Result
	return &res, true
}

// record writes the history entry. Failures are logged and ignored.
func (o *Orchestrator) record(ctx context.Context, sub *transcribe.Submission, hash string, res *transcribe.Result, jobErr error, log zerolog.Logger) {
	if o.opts.History == nil {
		return
	}
	r := &history.Record{Fingerprint: hash}
	if res != nil {
		r.Result = *res
	}
	r.ID = sub.ID
	r.FileName = sub.FileName
	r.Size = sub.Size
	r.Date = o.opts.Now().UTC()
	if jobErr != nil {
		r.Status = transcribe.StatusError
		r.Error = jobErr.Error()
	} else {
		r.Status = transcribe.StatusCompleted
	}
	if err := o.opts.History.Record(ctx, r); err != nil {
		log.Warn().Err(err).Msg("failed to record history")
	}
}

func (o *Orchestrator) runLocal(ctx context.Context, sub *transcribe.Submission) (*transcribe.Result, error) {
	tracker := o.opts.Tracker
	tracker.Resize(1)
	tracker.SetProvider(transcribe.Local)
	tracker.SetChunkRange(0, 0, sub.Size)
	tracker.UpdateChunk(0, progress.ChunkUpdate{Status: ptr(progress.ChunkProcessing)})

	resp, err := o.opts.Local.Transcribe(ctx, sub.Content, sub.MediaType)
	if err != nil {
		return nil, fmt.Errorf("local model: %w", err)
	}
	tracker.UpdateChunk(0, progress.ChunkUpdate{
		Status:   ptr(progress.ChunkCompleted),
		Text:     &resp.Text,
		Segments: resp.Segments,
	})
	text, segments, duration := merge([]chunkResult{{rng: audio.Range{End: sub.Size}, resp: resp}}, sub.Size, resp.Duration)
	return &transcribe.Result{
		ID:       sub.ID,
		FileName: sub.FileName,
		Text:     text,
		Segments: segments,
		Duration: duration,
		Size:     sub.Size,
		Date:     o.opts.Now().UTC(),
		Status:   transcribe.StatusCompleted,
		Provider: transcribe.Local,
		Model:    o.opts.Local.Variant(),
		Language: resp.Language,
	}, nil
}

func (o *Orchestrator) runRemote(ctx context.Context, sub *transcribe.Submission, log zerolog.Logger) (*transcribe.Result, error) {
	tracker := o.opts.Tracker

	selected := o.opts.Credentials.Selected()
	id := selected
	if o.opts.Health != nil {
		id = o.opts.Health.PreferredService()
	}
	if id != selected {
		o.opts.Notifier.Notify(notify.Info, fmt.Sprintf("Using %s instead of %s because it is currently healthier", id, selected))
	}
	provider := o.opts.Providers.Get(id)
	if provider == nil {
		return nil, fmt.Errorf("provider %s is not configured", id)
	}
	if !o.opts.Credentials.Usable(id) {
		return nil, &transcribe.Error{Kind: transcribe.KindAuth, Provider: id, Message: "no valid API key configured"}
	}
	tracker.SetProvider(id)

	info := audio.Probe(sub.Content, sub.MediaType)
	if len(sub.Content) == 0 || !info.IsAudio {
		return nil, &transcribe.Error{Kind: transcribe.KindUnsupportedFormat, Message: fmt.Sprintf("%s is not an audio file (%s)", sub.FileName, info.MediaType)}
	}

	content, mediaType := sub.Content, info.MediaType
	if o.opts.Normalize && o.opts.Normalizer != nil &&
		(provider.PrefersCompressed() || int64(len(content)) > provider.MaxPayload()) {
		out, err := o.opts.Normalizer.Normalize(ctx, content, audio.ProfileCompressed)
		if err != nil {
			return nil, fmt.Errorf("normalize audio: %w", err)
		}
		log.Debug().
			Str("from", humanize.Bytes(uint64(len(content)))).
			Str("to", humanize.Bytes(uint64(len(out)))).
			Msg("audio normalized for upload")
		content, mediaType = out, audio.ProfileCompressed.MediaType
	}
	size := int64(len(content))
	if o.opts.MaxJobBytes > 0 && size > o.opts.MaxJobBytes {
		return nil, &transcribe.Error{
			Kind:     transcribe.KindPayloadTooLarge,
			Provider: id,
			Message:  fmt.Sprintf("%s exceeds the %s job limit", humanize.Bytes(uint64(size)), humanize.Bytes(uint64(o.opts.MaxJobBytes))),
		}
	}

	ranges := audio.Plan(size, min(o.opts.ChunkBytes, provider.MaxPayload()))
	tracker.Resize(len(ranges))
	for _, r := range ranges {
		tracker.SetChunkRange(r.Index, r.Start, r.End)
	}
	log.Info().
		Str("provider", string(id)).
		Str("size", humanize.Bytes(uint64(size))).
		Int("chunks", len(ranges)).
		Msg("transcription started")

	parts := make([]chunkResult, 0, len(ranges))
	for _, r := range ranges {
		resp, used, err := o.transcribeChunk(ctx, provider, content[r.Start:r.End], mediaType, r, log)
		if err != nil {
			msg := err.Error()
			tracker.UpdateChunk(r.Index, progress.ChunkUpdate{Status: ptr(progress.ChunkError), Error: &msg})
			return nil, err
		}
		provider = used
		tracker.UpdateChunk(r.Index, progress.ChunkUpdate{
			Status:   ptr(progress.ChunkCompleted),
			Text:     &resp.Text,
			Segments: resp.Segments,
		})
		parts = append(parts, chunkResult{rng: r, resp: resp})
	}

	text, segments, duration := merge(parts, size, info.Duration)

	var language string
	for _, p := range parts {
		if p.resp.Language != "" {
			language = p.resp.Language
			break
		}
	}
	return &transcribe.Result{
		ID:       sub.ID,
		FileName: sub.FileName,
		Text:     text,
		Segments: segments,
		Duration: duration,
		Size:     sub.Size,
		Date:     o.opts.Now().UTC(),
		Status:   transcribe.StatusCompleted,
		Provider: provider.ID(),
		Model:    provider.Model(),
		Language: language,
	}, nil
}

// transcribeChunk sends one chunk with retries. When a retryable error
// survives every attempt it re-checks provider health and, if another
// usable provider is now preferred, retries the same chunk there. It
// returns the provider that produced the response.
func (o *Orchestrator) transcribeChunk(ctx context.Context, p transcribe.Provider, chunk []byte, mediaType string, r audio.Range, log zerolog.Logger) (*transcribe.Response, transcribe.Provider, error) {
	tried := map[transcribe.ProviderID]bool{p.ID(): true}
	for {
		o.opts.Tracker.UpdateChunk(r.Index, progress.ChunkUpdate{Status: ptr(progress.ChunkProcessing), Progress: ptr(0.0)})
		resp, err := o.callWithRetry(ctx, p, chunk, mediaType, r.Index)
		if err == nil {
			return resp, p, nil
		}
		if !transcribe.IsRetryable(err) || ctx.Err() != nil {
			return nil, p, err
		}

		next := o.failover(ctx, p, tried, r.Len())
		if next == nil {
			return nil, p, err
		}
		log.Warn().
			Err(err).
			Int("chunk", r.Index).
			Str("from", string(p.ID())).
			Str("to", string(next.ID())).
			Msg("provider failed, failing over")
		metrics.FailoversTotal.WithLabelValues(string(p.ID()), string(next.ID())).Inc()
		o.opts.Notifier.Notify(notify.Warning, fmt.Sprintf("%s is failing, switching to %s", p.ID(), next.ID()))
		o.opts.Tracker.SetProvider(next.ID())
		tried[next.ID()] = true
		p = next
	}
}

// failover refreshes health and returns the newly preferred provider, or
// nil when it is the current one, was already tried for this chunk, has no
// usable key, or can't take a chunk of chunkLen bytes.
func (o *Orchestrator) failover(ctx context.Context, current transcribe.Provider, tried map[transcribe.ProviderID]bool, chunkLen int64) transcribe.Provider {
	if o.opts.Health == nil {
		return nil
	}
	o.opts.Health.CheckHealth(ctx)
	id := o.opts.Health.PreferredService()
	if id == current.ID() || tried[id] || !o.opts.Credentials.Usable(id) {
		return nil
	}
	// The fallback choice may still be down or crawling.
	if o.opts.Health.ShouldAvoid(id) {
		o.log.Debug().Str("provider", string(id)).Msg("failover target is unhealthy, not switching")
		return nil
	}
	next := o.opts.Providers.Get(id)
	if next == nil || next.MaxPayload() < chunkLen {
		return nil
	}
	return next
}

func (o *Orchestrator) callWithRetry(ctx context.Context, p transcribe.Provider, chunk []byte, mediaType string, index int) (*transcribe.Response, error) {
	id := p.ID()
	cfg := o.policy(id).Config()
	cfg.Sleep = o.opts.Sleep
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		kind := transcribe.KindOf(err)
		metrics.RetriesTotal.WithLabelValues(string(id), string(kind)).Inc()
		o.log.Info().
			Str("provider", string(id)).
			Int("chunk", index).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying chunk")
		o.opts.Notifier.Notify(notify.Info, fmt.Sprintf("Retrying %s (%d/%d) in %.1fs: %s", id, attempt, cfg.MaxRetries-1, delay.Seconds(), kind))
	}
	key := o.opts.Credentials.Key(id)

	return retry.Do(ctx, cfg, func(ctx context.Context) (*transcribe.Response, error) {
		start := time.Now()
		resp, err := p.Transcribe(ctx, chunk, mediaType, key)
		metrics.ProviderRequestDuration.WithLabelValues(string(id)).Observe(time.Since(start).Seconds())
		outcome := "success"
		if err != nil {
			outcome = string(transcribe.KindOf(err))
		}
		metrics.ProviderRequestsTotal.WithLabelValues(string(id), outcome).Inc()
		return resp, err
	})
}

func ptr[T any](v T) *T { return &v }
