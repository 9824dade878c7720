// Package health tracks provider liveness and picks the provider new work
// should go to.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/metrics"
	"github.com/snarg/juicer/internal/notify"
	"github.com/snarg/juicer/internal/transcribe"
)

type Status string

const (
	Unknown     Status = "unknown"
	Operational Status = "operational"
	Degraded    Status = "degraded"
	Down        Status = "down"
)

// Latency thresholds.
const (
	degradedAfter = 1000 * time.Millisecond
	avoidAfter    = 5 * time.Second
)

// ServiceHealth is the last-known state of one provider.
type ServiceHealth struct {
	Provider  transcribe.ProviderID `json:"provider"`
	Status    Status                `json:"status"`
	LatencyMS int64                 `json:"latency_ms"`
	LastCheck time.Time             `json:"last_check,omitempty"`
	Error     string                `json:"error,omitempty"`
}

func (h ServiceHealth) latency() time.Duration {
	return time.Duration(h.LatencyMS) * time.Millisecond
}

// Credentials is the slice of the credentials registry the monitor needs.
type Credentials interface {
	Usable(id transcribe.ProviderID) bool
	Key(id transcribe.ProviderID) string
	Selected() transcribe.ProviderID
}

// Options configures a Monitor.
type Options struct {
	Providers   transcribe.Registry
	Credentials Credentials
	Interval    time.Duration // default 5m
	Timeout     time.Duration // default 5s
	Events      events.Publisher
	Notifier    notify.Notifier
	Now         func() time.Time
	Log         zerolog.Logger
}

// Monitor probes providers and keeps a snapshot readers can consult
// without waiting on a check in progress.
type Monitor struct {
	providers transcribe.Registry
	creds     Credentials
	interval  time.Duration
	timeout   time.Duration
	events    events.Publisher
	notifier  notify.Notifier
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.RWMutex
	health map[transcribe.ProviderID]ServiceHealth

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
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
	m := &Monitor{
		providers: opts.Providers,
		creds:     opts.Credentials,
		interval:  opts.Interval,
		timeout:   opts.Timeout,
		events:    opts.Events,
		notifier:  opts.Notifier,
		now:       opts.Now,
		log:       opts.Log.With().Str("component", "health").Logger(),
		health:    make(map[transcribe.ProviderID]ServiceHealth),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, id := range transcribe.Remote {
		m.health[id] = ServiceHealth{Provider: id, Status: Unknown}
		metrics.ProviderHealth.WithLabelValues(string(id)).Set(gaugeValue(Unknown))
	}
	return m
}

// CheckHealth probes the given providers, or all remote providers when
// none are named, concurrently. It returns when every probe has settled.
func (m *Monitor) CheckHealth(ctx context.Context, ids ...transcribe.ProviderID) {
	if len(ids) == 0 {
		ids = transcribe.Remote
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id transcribe.ProviderID) {
			defer wg.Done()
			m.record(m.check(ctx, id))
		}(id)
	}
	wg.Wait()
}

func (m *Monitor) check(ctx context.Context, id transcribe.ProviderID) ServiceHealth {
	h := ServiceHealth{Provider: id, Status: Unknown, LastCheck: m.now().UTC()}

	p := m.providers.Get(id)
	if p == nil {
		h.Error = "provider not configured"
		return h
	}
	if !m.creds.Usable(id) {
		h.Error = "no valid API key"
		return h
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	err := p.Probe(ctx, m.creds.Key(id))
	elapsed := m.now().Sub(start)

	h.LatencyMS = elapsed.Milliseconds()
	switch {
	case err != nil:
		h.Status = Down
		h.Error = err.Error()
	case elapsed >= degradedAfter:
		h.Status = Degraded
	default:
		h.Status = Operational
	}
	return h
}

func (m *Monitor) record(h ServiceHealth) {
	m.mu.Lock()
	prev := m.health[h.Provider]
	m.health[h.Provider] = h
	m.mu.Unlock()

	metrics.ProviderHealth.WithLabelValues(string(h.Provider)).Set(gaugeValue(h.Status))
	m.events.Publish(events.Data{
		Type:    events.TypeHealth,
		SubType: string(h.Status),
		Payload: h,
	})

	logEvent := m.log.Debug()
	if h.Status == Down {
		logEvent = m.log.Warn()
	}
	logEvent.
		Str("provider", string(h.Provider)).
		Str("status", string(h.Status)).
		Int64("latency_ms", h.LatencyMS).
		Str("error", h.Error).
		Msg("provider health checked")

	if h.Status == prev.Status {
		return
	}
	switch h.Status {
	case Down:
		m.notifier.Notify(notify.Error, fmt.Sprintf("%s is currently unavailable", h.Provider))
	case Degraded:
		m.notifier.Notify(notify.Warning, fmt.Sprintf("%s is responding slowly (%dms)", h.Provider, h.LatencyMS))
	}
}

// gaugeValue maps a status onto the provider health gauge.
func gaugeValue(s Status) float64 {
	switch s {
	case Operational:
		return 1
	case Degraded:
		return 0.5
	case Down:
		return 0
	}
	return -1
}

// Get returns the last-known health of id.
func (m *Monitor) Get(id transcribe.ProviderID) ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[id]; ok {
		return h
	}
	return ServiceHealth{Provider: id, Status: Unknown}
}

// Snapshot returns the last-known health of every remote provider.
func (m *Monitor) Snapshot() []ServiceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceHealth, 0, len(transcribe.Remote))
	for _, id := range transcribe.Remote {
		out = append(out, m.health[id])
	}
	return out
}

// PreferredService returns the operational provider with the lowest
// latency, else the fastest degraded one, else the user's selection.
// Providers without a usable key are never preferred.
func (m *Monitor) PreferredService() transcribe.ProviderID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if id, ok := m.fastest(Operational); ok {
		return id
	}
	if id, ok := m.fastest(Degraded); ok {
		return id
	}
	return m.creds.Selected()
}

func (m *Monitor) fastest(status Status) (transcribe.ProviderID, bool) {
	var best ServiceHealth
	found := false
	for _, id := range transcribe.Remote {
		h := m.health[id]
		if h.Status != status || !m.creds.Usable(id) {
			continue
		}
		if !found || h.LatencyMS < best.LatencyMS {
			best, found = h, true
		}
	}
	return best.Provider, found
}

// ShouldAvoid reports whether id is down or so slow that another provider
// should be used when one is available.
func (m *Monitor) ShouldAvoid(id transcribe.ProviderID) bool {
	h := m.Get(id)
	return h.Status == Down || (h.Status == Degraded && h.latency() > avoidAfter)
}

// Start runs a check immediately and then on every interval until Stop is
// called or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		m.CheckHealth(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}

// Stop ends the periodic checks. It must only be called after Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}
