package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	execute "github.com/alexellis/go-execute/v2"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// CommandRunner runs an external program and returns its output. A
// non-zero exit status is an error.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands through go-execute.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	task := execute.ExecTask{
		Command: name,
		Args:    args,
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return res.Stdout, res.Stderr, fmt.Errorf("%s: %w", name, err)
	}
	if res.ExitCode != 0 {
		return res.Stdout, res.Stderr, fmt.Errorf("%s exited with code %d: %s", name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return res.Stdout, res.Stderr, nil
}

// Profile is an ffmpeg output format.
type Profile struct {
	Name      string
	Ext       string
	MediaType string
	Args      []string
}

var (
	// ProfileCompressed is mono 16 kHz MP3 at 64 kbit/s, small enough that
	// an hour of speech fits in a few provider requests.
	ProfileCompressed = Profile{
		Name:      "compressed",
		Ext:       ".mp3",
		MediaType: "audio/mpeg",
		Args:      []string{"-vn", "-ac", "1", "-ar", "16000", "-c:a", "libmp3lame", "-b:a", "64k"},
	}

	// ProfileWhisperPCM is the 16 kHz mono 16-bit WAV whisper.cpp reads.
	ProfileWhisperPCM = Profile{
		Name:      "pcm",
		Ext:       ".wav",
		MediaType: "audio/wav",
		Args:      []string{"-vn", "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le"},
	}
)

// NormalizerOptions configures a Normalizer.
type NormalizerOptions struct {
	FFmpegPath string // default "ffmpeg"
	TempDir    string // default os.TempDir()
	Runner     CommandRunner
	Log        zerolog.Logger
}

// Normalizer transcodes audio with ffmpeg.
type Normalizer struct {
	ffmpeg  string
	tempDir string
	runner  CommandRunner
	log     zerolog.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	return &Normalizer{
		ffmpeg:  opts.FFmpegPath,
		tempDir: opts.TempDir,
		runner:  opts.Runner,
		log:     opts.Log,
	}
}

// Available reports whether the ffmpeg binary can be found.
func (n *Normalizer) Available() bool {
	_, err := exec.LookPath(n.ffmpeg)
	return err == nil
}

// Normalize transcodes content into the given profile. ffmpeg works on
// files, so input and output go through a private temp directory that is
// removed before returning.
func (n *Normalizer) Normalize(ctx context.Context, content []byte, p Profile) ([]byte, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("normalize: empty input")
	}
	dir, err := os.MkdirTemp(n.tempDir, "juicer-normalize-*")
	if err != nil {
		return nil, fmt.Errorf("normalize: create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input")
	out := filepath.Join(dir, "output"+p.Ext)
	if err := os.WriteFile(in, content, 0o600); err != nil {
		return nil, fmt.Errorf("normalize: write input: %w", err)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", in}
	args = append(args, p.Args...)
	args = append(args, out)
	if _, _, err := n.runner.Run(ctx, n.ffmpeg, args...); err != nil {
		return nil, fmt.Errorf("normalize (%s): %w", p.Name, err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("normalize: read output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("normalize (%s): ffmpeg produced no output", p.Name)
	}

	n.log.Debug().
		Str("profile", p.Name).
		Str("in", humanize.Bytes(uint64(len(content)))).
		Str("out", humanize.Bytes(uint64(len(data)))).
		Msg("audio normalized")
	return data, nil
}
