package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderID identifies a transcription backend.
type ProviderID string

const (
	OpenAI      ProviderID = "openai"
	Groq        ProviderID = "groq"
	HuggingFace ProviderID = "huggingface"

	// Local is the on-device whisper.cpp runtime. It is never selected by
	// the health monitor and only serves offline jobs.
	Local ProviderID = "local"
)

// Remote lists the network providers in display order.
var Remote = []ProviderID{OpenAI, Groq, HuggingFace}

// ParseProviderID validates a provider name from config or a request.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	switch id {
	case OpenAI, Groq, HuggingFace:
		return id, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Provider is the interface for speech-to-text backends.
type Provider interface {
	ID() ProviderID
	Model() string // model identifier for logs and history

	// MaxPayload is the largest request body the provider accepts.
	MaxPayload() int64

	// PrefersCompressed reports whether uploads should be transcoded to
	// compact mono audio before sending.
	PrefersCompressed() bool

	Transcribe(ctx context.Context, audio []byte, mediaType, credential string) (*Response, error)

	// Probe sends a lightweight authenticated request used for health
	// checks and credential validation.
	Probe(ctx context.Context, credential string) error
}

// Response is the common transcription result from any provider.
type Response struct {
	Text     string
	Language string
	Duration float64 // audio duration in seconds, 0 if unknown
	Segments []Segment
}

// Options configures an HTTP provider client. Zero values take the
// provider's defaults.
type Options struct {
	BaseURL     string
	Model       string
	Language    string
	Temperature float64
	Timeout     time.Duration
	MaxPayload  int64
}

const (
	defaultTimeout  = 60 * time.Second
	defaultLanguage = "en"
)

func (o Options) withDefaults(baseURL, model string, maxPayload int64) Options {
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Model == "" {
		o.Model = model
	}
	if o.Language == "" {
		o.Language = defaultLanguage
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = maxPayload
	}
	return o
}

// finish trims the response and guarantees that non-empty text always
// comes with at least one segment.
func finish(r *Response) *Response {
	r.Text = strings.TrimSpace(r.Text)
	segs := r.Segments[:0]
	for _, s := range r.Segments {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		segs = append(segs, s)
	}
	r.Segments = segs
	if r.Text == "" && len(r.Segments) > 0 {
		parts := make([]string, len(r.Segments))
		for i, s := range r.Segments {
			parts[i] = s.Text
		}
		r.Text = strings.Join(parts, " ")
	}
	if r.Text != "" && len(r.Segments) == 0 {
		r.Segments = []Segment{{Time: 0, Text: r.Text}}
	}
	return r
}

// Registry holds the configured providers keyed by ID.
type Registry map[ProviderID]Provider

// NewRegistry builds the three remote providers from per-provider options.
func NewRegistry(openai, groq, hf Options) Registry {
	return Registry{
		OpenAI:      NewOpenAIClient(openai),
		Groq:        NewGroqClient(groq),
		HuggingFace: NewHuggingFaceClient(hf),
	}
}

// Get returns the provider for id, or nil.
func (r Registry) Get(id ProviderID) Provider {
	return r[id]
}
