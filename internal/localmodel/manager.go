package localmodel

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/events"
	"github.com/snarg/juicer/internal/transcribe"
)

// State is the lifecycle of the offline model.
type State string

const (
	StateNotLoaded    State = "not-loaded"
	StateDownloading  State = "downloading"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateError        State = "error"
)

var (
	ErrNotReady = errors.New("local model not ready")
	ErrBusy     = errors.New("local model is already loading")
)

// ggml model files start with this little-endian magic.
const ggmlMagic = 0x67676d6c

// Status is a point-in-time view of the manager.
type Status struct {
	State      State   `json:"state"`
	Variant    string  `json:"variant,omitempty"`
	Progress   float64 `json:"progress"`
	Downloaded int64   `json:"downloaded_bytes"`
	Total      int64   `json:"total_bytes"`
	Error      string  `json:"error,omitempty"`
}

// ModelInfo is a catalog entry plus whether it is present on disk.
type ModelInfo struct {
	Variant
	Downloaded bool `json:"downloaded"`
}

// PCMConverter turns arbitrary audio into the WAV whisper.cpp reads.
type PCMConverter interface {
	Normalize(ctx context.Context, content []byte, p audio.Profile) ([]byte, error)
}

// Options configures a Manager.
type Options struct {
	Fs          afero.Fs // default afero.NewOsFs()
	Dir         string
	WhisperPath string // default "whisper-cli"
	Threads     int
	Language    string
	BaseURL     string // default Hugging Face whisper.cpp repo
	HTTPClient  *http.Client
	Converter   PCMConverter
	Runner      audio.CommandRunner
	Events      events.Publisher
	Log         zerolog.Logger

	// LookPath resolves the whisper binary. Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Manager downloads, verifies and runs whisper.cpp models. Only one
// variant is loaded at a time.
type Manager struct {
	fs       afero.Fs
	dir      string
	whisper  string
	threads  int
	language string
	baseURL  string
	client   *http.Client
	conv     PCMConverter
	runner   audio.CommandRunner
	events   events.Publisher
	lookPath func(string) (string, error)
	log      zerolog.Logger

	mu     sync.RWMutex
	status Status
	loaded map[string]string // variant -> verified model path
}

// NewManager creates a Manager in the not-loaded state.
func NewManager(opts Options) *Manager {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.WhisperPath == "" {
		opts.WhisperPath = "whisper-cli"
	}
	if opts.Threads <= 0 {
		opts.Threads = 4
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.Runner == nil {
		opts.Runner = audio.ExecRunner{}
	}
	if opts.Events == nil {
		opts.Events = events.Discard
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	return &Manager{
		fs:       opts.Fs,
		dir:      opts.Dir,
		whisper:  opts.WhisperPath,
		threads:  opts.Threads,
		language: opts.Language,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		client:   opts.HTTPClient,
		conv:     opts.Converter,
		runner:   opts.Runner,
		events:   opts.Events,
		lookPath: opts.LookPath,
		log:      opts.Log.With().Str("component", "localmodel").Logger(),
		status:   Status{State: StateNotLoaded},
		loaded:   make(map[string]string),
	}
}

// Status returns the current state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Ready reports whether a model is loaded and runnable.
func (m *Manager) Ready() bool {
	return m.Status().State == StateReady
}

// Variant returns the variant currently loaded or loading.
func (m *Manager) Variant() string {
	return m.Status().Variant
}

// Models lists the catalog with on-disk presence.
func (m *Manager) Models() []ModelInfo {
	out := make([]ModelInfo, 0, len(catalog))
	for _, v := range catalog {
		out = append(out, ModelInfo{Variant: v, Downloaded: fileExists(m.fs, m.path(v))})
	}
	return out
}

// CheckSupport reports whether the whisper.cpp binary is installed and
// the model directory is writable.
func (m *Manager) CheckSupport() bool {
	if _, err := m.lookPath(m.whisper); err != nil {
		m.log.Debug().Err(err).Str("binary", m.whisper).Msg("whisper runtime not found")
		return false
	}
	if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
		return false
	}
	f, err := afero.TempFile(m.fs, m.dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	return m.fs.Remove(name) == nil
}

// Initialize makes variant ready, downloading it first when it is not on
// disk. It returns immediately when variant is already ready.
func (m *Manager) Initialize(ctx context.Context, variant string) error {
	v, err := Lookup(variant)
	if err != nil {
		return err
	}

	m.mu.Lock()
	switch {
	case m.status.State == StateReady && m.status.Variant == variant:
		m.mu.Unlock()
		return nil
	case m.status.State == StateDownloading || m.status.State == StateInitializing:
		m.mu.Unlock()
		return ErrBusy
	}
	m.status = Status{State: StateInitializing, Variant: variant}
	m.mu.Unlock()

	path := m.path(v)
	if err := m.load(ctx, v, path); err != nil {
		m.mu.Lock()
		delete(m.loaded, variant)
		m.mu.Unlock()
		m.fs.Remove(path + ".download")
		m.setStatus(Status{State: StateError, Variant: variant, Error: err.Error()})
		m.log.Error().Err(err).Str("variant", variant).Msg("local model failed to load")
		return err
	}

	m.mu.Lock()
	m.loaded = map[string]string{variant: path}
	m.mu.Unlock()
	m.setStatus(Status{State: StateReady, Variant: variant, Progress: 100})
	m.log.Info().Str("variant", variant).Str("path", path).Msg("local model ready")
	return nil
}

func (m *Manager) load(ctx context.Context, v Variant, path string) error {
	if !fileExists(m.fs, path) {
		if err := m.fs.MkdirAll(m.dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
		m.setStatus(Status{State: StateDownloading, Variant: v.ID})
		url := m.baseURL + "/" + v.FileName
		m.log.Info().Str("variant", v.ID).Str("url", url).Str("size", v.SizeLabel).Msg("downloading local model")

		err := m.download(ctx, url, path, func(written, total int64) {
			st := Status{State: StateDownloading, Variant: v.ID, Downloaded: written, Total: total}
			if total > 0 {
				st.Progress = float64(written) * 100 / float64(total)
			}
			m.setStatus(st)
		})
		if err != nil {
			return err
		}
	}

	m.setStatus(Status{State: StateInitializing, Variant: v.ID, Progress: 100})
	if err := m.verify(path); err != nil {
		// Remove so a retry downloads afresh.
		m.fs.Remove(path)
		return err
	}
	if _, err := m.lookPath(m.whisper); err != nil {
		return fmt.Errorf("whisper runtime %q not available: %w", m.whisper, err)
	}
	return nil
}

func (m *Manager) verify(path string) error {
	f, err := m.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	var magic uint32
	if err := binary.Read(f, binary.LittleEndian, &magic); err != nil {
		return fmt.Errorf("read model header: %w", err)
	}
	if magic != ggmlMagic {
		return fmt.Errorf("%s is not a ggml model (magic %#x)", filepath.Base(path), magic)
	}
	return nil
}

// Delete removes variant from disk and memory. Deleting the loaded
// variant resets the manager to not-loaded.
func (m *Manager) Delete(variant string) error {
	v, err := Lookup(variant)
	if err != nil {
		return err
	}

	m.mu.Lock()
	busy := m.status.Variant == variant &&
		(m.status.State == StateDownloading || m.status.State == StateInitializing)
	if busy {
		m.mu.Unlock()
		return ErrBusy
	}
	delete(m.loaded, variant)
	current := m.status.Variant == variant
	m.mu.Unlock()

	path := m.path(v)
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete model: %w", err)
	}
	if current {
		m.setStatus(Status{State: StateNotLoaded})
	}
	m.log.Info().Str("variant", variant).Msg("local model deleted")
	return nil
}

// Transcribe runs the loaded variant.
func (m *Manager) Transcribe(ctx context.Context, content []byte, mediaType string) (*transcribe.Response, error) {
	return m.Run(ctx, content, mediaType, m.Variant())
}

// whisperOutput is the subset of whisper.cpp's -oj output we read.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Run transcribes content with variant. whisper.cpp windows the audio
// itself so there is no payload ceiling on this path.
func (m *Manager) Run(ctx context.Context, content []byte, mediaType, variant string) (*transcribe.Response, error) {
	m.mu.RLock()
	path, ok := m.loaded[variant]
	ready := m.status.State == StateReady && m.status.Variant == variant
	m.mu.RUnlock()
	if !ok || !ready {
		return nil, ErrNotReady
	}

	pcm, err := m.toPCM(ctx, content, mediaType)
	if err != nil {
		return nil, err
	}

	dir, err := afero.TempDir(m.fs, "", "juicer-local-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer m.fs.RemoveAll(dir)

	in := filepath.Join(dir, "input.wav")
	base := filepath.Join(dir, "output")
	if err := afero.WriteFile(m.fs, in, pcm, 0o600); err != nil {
		return nil, fmt.Errorf("write input: %w", err)
	}

	args := []string{"-m", path, "-f", in, "-oj", "-of", base, "-t", fmt.Sprint(m.threads), "-np"}
	if m.language != "" {
		args = append(args, "-l", m.language)
	}
	start := time.Now()
	if _, _, err := m.runner.Run(ctx, m.whisper, args...); err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}

	raw, err := afero.ReadFile(m.fs, base+".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	resp, err := parseOutput(raw)
	if err != nil {
		return nil, err
	}
	resp.Duration = audio.Probe(pcm, audio.ProfileWhisperPCM.MediaType).Duration

	m.log.Debug().
		Str("variant", variant).
		Str("input", humanize.Bytes(uint64(len(content)))).
		Int("segments", len(resp.Segments)).
		Dur("elapsed", time.Since(start)).
		Msg("local transcription finished")
	return resp, nil
}

func (m *Manager) toPCM(ctx context.Context, content []byte, mediaType string) ([]byte, error) {
	if m.conv != nil {
		pcm, err := m.conv.Normalize(ctx, content, audio.ProfileWhisperPCM)
		if err != nil {
			return nil, fmt.Errorf("convert to pcm: %w", err)
		}
		return pcm, nil
	}
	info := audio.Probe(content, mediaType)
	if info.MediaType != "audio/wav" {
		e := transcribe.Errorf(transcribe.KindUnsupportedFormat, "local model needs WAV input without ffmpeg, got %s", info.MediaType)
		e.Provider = transcribe.Local
		return nil, e
	}
	return content, nil
}

func parseOutput(raw []byte) (*transcribe.Response, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}
	resp := &transcribe.Response{Language: out.Result.Language}
	texts := make([]string, 0, len(out.Transcription))
	for _, s := range out.Transcription {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		texts = append(texts, text)
		resp.Segments = append(resp.Segments, transcribe.Segment{
			Time: float64(s.Offsets.From) / 1000,
			Text: text,
		})
	}
	resp.Text = strings.Join(texts, " ")
	return resp, nil
}

func (m *Manager) path(v Variant) string {
	return filepath.Join(m.dir, v.FileName)
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	m.events.Publish(events.Data{Type: events.TypeModel, SubType: string(s.State), Payload: s})
}
