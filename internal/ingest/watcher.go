package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/audio"
	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

const defaultDebounce = 500 * time.Millisecond

// audioExtensions gates which file names are read at all. Content is still
// sniffed before a file is enqueued.
var audioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".mp4": true, ".ogg": true,
	".oga": true, ".opus": true, ".flac": true, ".webm": true, ".aac": true,
	".mpeg": true, ".mpga": true,
}

// Enqueuer is implemented by *queue.Queue.
type Enqueuer interface {
	Enqueue(sub *transcribe.Submission) (queue.Item, error)
}

type Options struct {
	Dir   string
	Queue Enqueuer
	// Backfill enqueues audio files already present when the watcher starts.
	Backfill bool
	// MaxBytes skips files larger than this. Zero means no limit.
	MaxBytes int64
	Debounce time.Duration
	Log      zerolog.Logger
}

// Status is reported on the health endpoint.
type Status struct {
	State          string `json:"state"`
	WatchDir       string `json:"watch_dir"`
	FilesProcessed int64  `json:"files_processed"`
	FilesSkipped   int64  `json:"files_skipped"`
}

// FileWatcher monitors a directory tree for new audio files and submits each
// one to the transcription queue.
type FileWatcher struct {
	opts Options
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// seen holds path -> size/mtime fingerprint of files already enqueued.
	seenMu sync.Mutex
	seen   map[string]string

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
	status         atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func NewFileWatcher(opts Options) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	fw := &FileWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		seen:           make(map[string]string),
	}
	fw.status.Store("starting")
	return fw
}

// Start adds every directory under the watch dir to fsnotify and begins
// watching. Backfill runs in the background when enabled.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(fw.opts.Dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	fw.watcher = w

	dirCount := 0
	err = filepath.WalkDir(fw.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			fw.log.Warn().Err(err).Str("path", path).Msg("error walking directory")
			return nil
		}
		if d.IsDir() {
			if addErr := w.Add(path); addErr != nil {
				fw.log.Warn().Err(addErr).Str("path", path).Msg("failed to watch directory")
			} else {
				dirCount++
			}
		}
		return nil
	})
	if err != nil {
		w.Close()
		return err
	}

	fw.log.Info().
		Int("directories", dirCount).
		Str("watch_dir", fw.opts.Dir).
		Msg("file watcher initialized")

	fw.ctx, fw.cancel = context.WithCancel(ctx)
	fw.done = make(chan struct{})
	go fw.watchLoop()

	if fw.opts.Backfill {
		go fw.backfill()
	} else {
		fw.status.Store("watching")
	}
	return nil
}

// Stop closes the fsnotify watcher and drops pending debounced files.
func (fw *FileWatcher) Stop() {
	fw.status.Store("stopped")
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
	}
	if fw.done != nil {
		<-fw.done
	}

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_processed", fw.filesProcessed.Load()).
		Int64("files_skipped", fw.filesSkipped.Load()).
		Msg("file watcher stopped")
}

func (fw *FileWatcher) Status() Status {
	s, _ := fw.status.Load().(string)
	return Status{
		State:          s,
		WatchDir:       fw.opts.Dir,
		FilesProcessed: fw.filesProcessed.Load(),
		FilesSkipped:   fw.filesSkipped.Load(),
	}
}

func (fw *FileWatcher) watchLoop() {
	defer close(fw.done)
	for {
		select {
		case <-fw.ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				fw.addTree(event.Name)
				continue
			}

			if !isAudioName(event.Name) {
				continue
			}
			fw.scheduleProcess(event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// addTree watches a newly created directory and everything below it.
// Nested directories and files can land before the watch on their parent
// exists, so audio already inside the tree is scheduled directly.
func (fw *FileWatcher) addTree(root string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fw.watcher.Add(path); err != nil {
				fw.log.Warn().Err(err).Str("path", path).Msg("failed to watch new directory")
			} else {
				fw.log.Debug().Str("path", path).Msg("watching new directory")
			}
			return nil
		}
		if isAudioName(path) {
			fw.scheduleProcess(path)
		}
		return nil
	})
}

// scheduleProcess waits for a quiet period on the path so the file is fully
// written before it is read.
func (fw *FileWatcher) scheduleProcess(path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.opts.Debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		if fw.ctx.Err() != nil {
			return
		}
		fw.processFile(path)
	})
}

// processFile reads an audio file and enqueues it. A file whose size and
// modification time are unchanged since it was last enqueued is ignored.
func (fw *FileWatcher) processFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		fw.log.Debug().Err(err).Str("path", path).Msg("watched file vanished")
		return
	}
	if info.Size() == 0 {
		return
	}
	if fw.opts.MaxBytes > 0 && info.Size() > fw.opts.MaxBytes {
		fw.filesSkipped.Add(1)
		fw.log.Warn().Str("path", path).Int64("size", info.Size()).Msg("watched file too large, skipping")
		return
	}

	fp := info.ModTime().UTC().Format(time.RFC3339Nano) + "/" + strconv.FormatInt(info.Size(), 10)
	fw.seenMu.Lock()
	if fw.seen[path] == fp {
		fw.seenMu.Unlock()
		return
	}
	fw.seen[path] = fp
	fw.seenMu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to read audio file")
		return
	}

	probe := audio.Probe(data, "")
	if !probe.IsAudio {
		fw.filesSkipped.Add(1)
		fw.log.Warn().Str("path", path).Str("media_type", probe.MediaType).Msg("not an audio file, skipping")
		return
	}

	item, err := fw.opts.Queue.Enqueue(transcribe.NewSubmission(filepath.Base(path), probe.MediaType, data))
	if err != nil {
		fw.seenMu.Lock()
		delete(fw.seen, path)
		fw.seenMu.Unlock()
		fw.log.Warn().Err(err).Str("path", path).Msg("failed to enqueue watched file")
		return
	}

	fw.filesProcessed.Add(1)
	fw.log.Info().Str("path", path).Str("item_id", item.ID).Msg("watched file enqueued")
}

// backfill enqueues audio files already in the watch dir, oldest first.
func (fw *FileWatcher) backfill() {
	fw.status.Store("backfilling")
	start := time.Now()

	type fileEntry struct {
		path    string
		modTime time.Time
	}
	var files []fileEntry

	_ = filepath.WalkDir(fw.opts.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !isAudioName(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, fileEntry{path: path, modTime: info.ModTime()})
		return nil
	})

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	fw.log.Info().Int("files", len(files)).Msg("backfill starting")
	for _, f := range files {
		if fw.ctx.Err() != nil {
			fw.log.Info().Msg("backfill interrupted by shutdown")
			return
		}
		fw.processFile(f.path)
	}

	fw.status.CompareAndSwap("backfilling", "watching")
	fw.log.Info().
		Int("files", len(files)).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")
}

func isAudioName(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return audioExtensions[strings.ToLower(filepath.Ext(name))]
}
