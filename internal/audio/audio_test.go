package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/youpy/go-wav"
)

// fakeFFmpeg writes a fixed payload to the output path (the last argument).
type fakeFFmpeg struct {
	out   []byte
	err   error
	calls [][]string
}

func (f *fakeFFmpeg) Run(_ context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return "", "boom", f.err
	}
	return "", "", os.WriteFile(args[len(args)-1], f.out, 0o600)
}

func TestNormalize(t *testing.T) {
	t.Run("transcodes_via_ffmpeg", func(t *testing.T) {
		ff := &fakeFFmpeg{out: []byte("ID3-normalized")}
		n := NewNormalizer(NormalizerOptions{FFmpegPath: "/usr/bin/ffmpeg", TempDir: t.TempDir(), Runner: ff, Log: zerolog.Nop()})

		out, err := n.Normalize(context.Background(), []byte("raw input"), ProfileCompressed)
		if err != nil {
			t.Fatalf("Normalize: %v", err)
		}
		if string(out) != "ID3-normalized" {
			t.Errorf("out = %q", out)
		}
		if len(ff.calls) != 1 {
			t.Fatalf("calls = %d, want 1", len(ff.calls))
		}
		call := ff.calls[0]
		if call[0] != "/usr/bin/ffmpeg" {
			t.Errorf("command = %q", call[0])
		}
		joined := " " + strings.Join(call, " ") + " "
		for _, want := range []string{" -ac 1 ", " -ar 16000 ", " -b:a 64k "} {
			if !strings.Contains(joined, want) {
				t.Errorf("args %q missing %q", joined, want)
			}
		}
	})

	t.Run("ffmpeg_failure_is_error", func(t *testing.T) {
		ff := &fakeFFmpeg{err: errors.New("exit 1")}
		n := NewNormalizer(NormalizerOptions{TempDir: t.TempDir(), Runner: ff, Log: zerolog.Nop()})
		if _, err := n.Normalize(context.Background(), []byte("x"), ProfileWhisperPCM); err == nil {
			t.Error("expected error when ffmpeg fails")
		}
	})

	t.Run("empty_output_is_error", func(t *testing.T) {
		ff := &fakeFFmpeg{out: nil}
		n := NewNormalizer(NormalizerOptions{TempDir: t.TempDir(), Runner: ff, Log: zerolog.Nop()})
		if _, err := n.Normalize(context.Background(), []byte("x"), ProfileCompressed); err == nil {
			t.Error("expected error for empty ffmpeg output")
		}
	})

	t.Run("empty_input_is_error", func(t *testing.T) {
		n := NewNormalizer(NormalizerOptions{Runner: &fakeFFmpeg{}, Log: zerolog.Nop()})
		if _, err := n.Normalize(context.Background(), nil, ProfileCompressed); err == nil {
			t.Error("expected error for empty input")
		}
	})
}

// makeWAV builds a mono 16-bit WAV of the given length.
func makeWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	const rate = 16000
	n := uint32(seconds * rate)
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, n, 1, rate, 16)
	if err := w.WriteSamples(make([]wav.Sample, n)); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	t.Run("wav_with_duration", func(t *testing.T) {
		info := Probe(makeWAV(t, 2), "")
		if !info.IsAudio {
			t.Fatalf("IsAudio = false for wav (%s)", info.MediaType)
		}
		if math.Abs(info.Duration-2) > 0.01 {
			t.Errorf("Duration = %v, want 2", info.Duration)
		}
	})

	t.Run("mp3_id3", func(t *testing.T) {
		content := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), make([]byte, 64)...)
		info := Probe(content, "")
		if !info.IsAudio {
			t.Errorf("IsAudio = false for ID3 content (%s)", info.MediaType)
		}
		if info.MediaType != "audio/mpeg" {
			t.Errorf("MediaType = %q, want audio/mpeg", info.MediaType)
		}
	})

	t.Run("text_is_not_audio", func(t *testing.T) {
		info := Probe([]byte("hello, this is a plain text file\n"), "audio/mpeg")
		if info.IsAudio {
			t.Errorf("IsAudio = true for text (%s)", info.MediaType)
		}
	})

	t.Run("unknown_binary_trusts_declared", func(t *testing.T) {
		info := Probe([]byte{0x00, 0x9f, 0x13, 0xfe, 0x01, 0x02}, "audio/ogg; codecs=opus")
		if !info.IsAudio {
			t.Error("IsAudio = false, want declared audio type honoured")
		}
		if info.MediaType != "audio/ogg" {
			t.Errorf("MediaType = %q, want audio/ogg", info.MediaType)
		}
	})
}
