// Package credentials holds the per-provider API keys, their validation
// state and the user's selected provider.
package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
)

const selectedKey = "settings/selected_provider"

// Credential is one provider's key and its last validation outcome.
type Credential struct {
	Provider  transcribe.ProviderID `json:"provider"`
	Key       string                `json:"-"`
	Masked    string                `json:"key,omitempty"`
	Valid     bool                  `json:"valid"`
	Checked   bool                  `json:"checked"`
	CheckedAt time.Time             `json:"checked_at,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	creds     map[transcribe.ProviderID]*Credential
	selected  transcribe.ProviderID
	providers transcribe.Registry
	store     storage.Store // optional, persists the selection
	log       zerolog.Logger
}

// Options configures a Registry.
type Options struct {
	Keys      map[transcribe.ProviderID]string
	Selected  transcribe.ProviderID
	Providers transcribe.Registry
	Store     storage.Store
	Log       zerolog.Logger
}

// New creates a Registry. A non-empty key counts as valid until a
// validation says otherwise. A selection persisted in the store wins over
// opts.Selected.
func New(ctx context.Context, opts Options) *Registry {
	r := &Registry{
		creds:     make(map[transcribe.ProviderID]*Credential),
		selected:  opts.Selected,
		providers: opts.Providers,
		store:     opts.Store,
		log:       opts.Log.With().Str("component", "credentials").Logger(),
	}
	for _, id := range transcribe.Remote {
		key := opts.Keys[id]
		r.creds[id] = &Credential{
			Provider: id,
			Key:      key,
			Masked:   mask(key),
			Valid:    key != "",
		}
	}
	if r.store != nil {
		if raw, err := r.store.Get(ctx, selectedKey); err == nil {
			if id, err := transcribe.ParseProviderID(string(raw)); err == nil {
				r.selected = id
			}
		}
	}
	if r.selected == "" {
		r.selected = transcribe.Groq
	}
	return r
}

func mask(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Get returns a copy of the credential for id.
func (r *Registry) Get(id transcribe.ProviderID) (Credential, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[id]
	if !ok {
		return Credential{}, false
	}
	return *c, true
}

// List returns every credential in display order.
func (r *Registry) List() []Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Credential, 0, len(r.creds))
	for _, id := range transcribe.Remote {
		if c, ok := r.creds[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// Usable reports whether id has a key that hasn't failed validation.
func (r *Registry) Usable(id transcribe.ProviderID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[id]
	return ok && c.Key != "" && c.Valid
}

// Key returns the key for id, or "" when it is missing or invalid.
func (r *Registry) Key(id transcribe.ProviderID) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[id]
	if !ok || !c.Valid {
		return ""
	}
	return c.Key
}

// Set replaces the key for id and clears its validation state.
func (r *Registry) Set(id transcribe.ProviderID, key string) error {
	if _, err := transcribe.ParseProviderID(string(id)); err != nil {
		return err
	}
	r.mu.Lock()
	r.creds[id] = &Credential{Provider: id, Key: key, Masked: mask(key), Valid: key != ""}
	r.mu.Unlock()
	return nil
}

// Selected returns the user's preferred provider.
func (r *Registry) Selected() transcribe.ProviderID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Select records the user's preferred provider.
func (r *Registry) Select(ctx context.Context, id transcribe.ProviderID) error {
	if _, err := transcribe.ParseProviderID(string(id)); err != nil {
		return err
	}
	r.mu.Lock()
	r.selected = id
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Put(ctx, selectedKey, []byte(id)); err != nil {
			r.log.Warn().Err(err).Msg("failed to persist provider selection")
		}
	}
	return nil
}

// Validate probes the provider with its key and records the outcome. Only
// an auth failure marks the key invalid; other errors leave it usable since
// they say nothing about the key.
func (r *Registry) Validate(ctx context.Context, id transcribe.ProviderID) error {
	r.mu.RLock()
	c, ok := r.creds[id]
	var key string
	if ok {
		key = c.Key
	}
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	if key == "" {
		return transcribe.Errorf(transcribe.KindAuth, "no API key configured for %s", id)
	}
	p := r.providers.Get(id)
	if p == nil {
		return fmt.Errorf("provider %s not configured", id)
	}

	err := p.Probe(ctx, key)

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.creds[id]
	if cur.Key != key {
		// Replaced while probing; the old result no longer applies.
		return err
	}
	cur.Checked = true
	cur.CheckedAt = time.Now().UTC()
	cur.Error = ""
	if err != nil {
		cur.Error = err.Error()
	}
	cur.Valid = transcribe.KindOf(err) != transcribe.KindAuth
	r.log.Info().Str("provider", string(id)).Bool("valid", cur.Valid).Msg("credential validated")
	return err
}

// ValidateAll validates every provider that has a key.
func (r *Registry) ValidateAll(ctx context.Context) map[transcribe.ProviderID]error {
	out := make(map[transcribe.ProviderID]error)
	for _, id := range transcribe.Remote {
		if c, _ := r.Get(id); c.Key == "" {
			continue
		}
		out[id] = r.Validate(ctx, id)
	}
	return out
}
