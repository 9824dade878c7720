package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/snarg/juicer/internal/storage"
	"github.com/snarg/juicer/internal/transcribe"
	"github.com/spf13/afero"
)

type probeOnly struct {
	id  transcribe.ProviderID
	err error
	got string
}

func (p *probeOnly) ID() transcribe.ProviderID { return p.id }
func (p *probeOnly) Model() string             { return "test" }
func (p *probeOnly) MaxPayload() int64         { return 1 }
func (p *probeOnly) PrefersCompressed() bool   { return false }
func (p *probeOnly) Transcribe(context.Context, []byte, string, string) (*transcribe.Response, error) {
	return nil, errors.New("not used")
}
func (p *probeOnly) Probe(_ context.Context, credential string) error {
	p.got = credential
	return p.err
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("keys_and_masking", func(t *testing.T) {
		r := New(ctx, Options{
			Keys: map[transcribe.ProviderID]string{transcribe.Groq: "gsk_1234567890abcd"},
			Log:  zerolog.Nop(),
		})
		if !r.Usable(transcribe.Groq) {
			t.Error("Usable(groq) = false, want true")
		}
		if r.Usable(transcribe.OpenAI) {
			t.Error("Usable(openai) = true without key")
		}
		c, _ := r.Get(transcribe.Groq)
		if c.Masked != "gsk_****abcd" {
			t.Errorf("Masked = %q", c.Masked)
		}
		if len(r.List()) != 3 {
			t.Errorf("List() len = %d, want 3", len(r.List()))
		}
		if r.Selected() != transcribe.Groq {
			t.Errorf("Selected = %s, want groq default", r.Selected())
		}
	})

	t.Run("auth_failure_invalidates", func(t *testing.T) {
		p := &probeOnly{id: transcribe.OpenAI, err: &transcribe.Error{Kind: transcribe.KindAuth, Provider: transcribe.OpenAI, Status: 401}}
		r := New(ctx, Options{
			Keys:      map[transcribe.ProviderID]string{transcribe.OpenAI: "sk-bad"},
			Providers: transcribe.Registry{transcribe.OpenAI: p},
			Log:       zerolog.Nop(),
		})
		if err := r.Validate(ctx, transcribe.OpenAI); err == nil {
			t.Fatal("Validate() = nil, want auth error")
		}
		if p.got != "sk-bad" {
			t.Errorf("probe credential = %q", p.got)
		}
		if r.Usable(transcribe.OpenAI) {
			t.Error("Usable after auth failure = true")
		}
		if r.Key(transcribe.OpenAI) != "" {
			t.Error("Key returned for invalid credential")
		}

		// A new key resets validation.
		r.Set(transcribe.OpenAI, "sk-good")
		if !r.Usable(transcribe.OpenAI) {
			t.Error("Usable after Set = false")
		}
	})

	t.Run("transient_failure_keeps_key", func(t *testing.T) {
		p := &probeOnly{id: transcribe.HuggingFace, err: &transcribe.Error{Kind: transcribe.KindServerError, Status: 502}}
		r := New(ctx, Options{
			Keys:      map[transcribe.ProviderID]string{transcribe.HuggingFace: "hf_x"},
			Providers: transcribe.Registry{transcribe.HuggingFace: p},
			Log:       zerolog.Nop(),
		})
		r.Validate(ctx, transcribe.HuggingFace)
		c, _ := r.Get(transcribe.HuggingFace)
		if !c.Valid || !c.Checked || c.Error == "" {
			t.Errorf("credential = %+v, want valid+checked with error", c)
		}
	})

	t.Run("validate_without_key", func(t *testing.T) {
		r := New(ctx, Options{Log: zerolog.Nop()})
		err := r.Validate(ctx, transcribe.Groq)
		if transcribe.KindOf(err) != transcribe.KindAuth {
			t.Errorf("KindOf = %s, want auth_error", transcribe.KindOf(err))
		}
	})

	t.Run("selection_persists", func(t *testing.T) {
		st := storage.NewFileStore(afero.NewMemMapFs(), "/data")
		r := New(ctx, Options{Store: st, Selected: transcribe.Groq, Log: zerolog.Nop()})
		if err := r.Select(ctx, transcribe.HuggingFace); err != nil {
			t.Fatalf("Select: %v", err)
		}
		if err := r.Select(ctx, "local"); err == nil {
			t.Error("Select(local) = nil, want error")
		}

		r2 := New(ctx, Options{Store: st, Selected: transcribe.Groq, Log: zerolog.Nop()})
		if r2.Selected() != transcribe.HuggingFace {
			t.Errorf("reloaded Selected = %s, want huggingface", r2.Selected())
		}
	})
}
