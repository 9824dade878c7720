package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/queue"
	"github.com/snarg/juicer/internal/transcribe"
)

type recordingQueue struct {
	mu   sync.Mutex
	subs []*transcribe.Submission
	err  error
}

func (q *recordingQueue) Enqueue(sub *transcribe.Submission) (queue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.Item{}, q.err
	}
	q.subs = append(q.subs, sub)
	return queue.Item{ID: sub.ID, FileName: sub.FileName}, nil
}

func (q *recordingQueue) names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, s := range q.subs {
		out = append(out, s.FileName)
	}
	return out
}

// wavBytes builds a short 16 kHz mono PCM WAV.
func wavBytes(samples int) []byte {
	dataLen := samples * 2
	b := make([]byte, 44+dataLen)
	copy(b[0:], "RIFF")
	binary.LittleEndian.PutUint32(b[4:], uint32(36+dataLen))
	copy(b[8:], "WAVE")
	copy(b[12:], "fmt ")
	binary.LittleEndian.PutUint32(b[16:], 16)
	binary.LittleEndian.PutUint16(b[20:], 1)
	binary.LittleEndian.PutUint16(b[22:], 1)
	binary.LittleEndian.PutUint32(b[24:], 16000)
	binary.LittleEndian.PutUint32(b[28:], 32000)
	binary.LittleEndian.PutUint16(b[32:], 2)
	binary.LittleEndian.PutUint16(b[34:], 16)
	copy(b[36:], "data")
	binary.LittleEndian.PutUint32(b[40:], uint32(dataLen))
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startWatcher(t *testing.T, opts Options) *FileWatcher {
	t.Helper()
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	opts.Log = zerolog.Nop()
	fw := NewFileWatcher(opts)
	if err := fw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(fw.Stop)
	return fw
}

func TestIsAudioName(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/in/meeting.wav", true},
		{"/in/Lecture.MP3", true},
		{"/in/voice.m4a", true},
		{"/in/notes.txt", false},
		{"/in/.hidden.wav", false},
		{"/in/noext", false},
	}
	for _, tt := range tests {
		if got := isAudioName(tt.path); got != tt.want {
			t.Errorf("isAudioName(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFileWatcher(t *testing.T) {
	t.Run("enqueues_new_audio", func(t *testing.T) {
		dir := t.TempDir()
		q := &recordingQueue{}
		fw := startWatcher(t, Options{Dir: dir, Queue: q})

		if err := os.WriteFile(filepath.Join(dir, "memo.wav"), wavBytes(1600), 0o644); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return len(q.names()) == 1 })

		if got := q.names()[0]; got != "memo.wav" {
			t.Errorf("FileName = %q, want memo.wav", got)
		}
		q.mu.Lock()
		mediaType := q.subs[0].MediaType
		q.mu.Unlock()
		if mediaType != "audio/wav" {
			t.Errorf("MediaType = %q, want audio/wav", mediaType)
		}
		if st := fw.Status(); st.State != "watching" || st.FilesProcessed != 1 {
			t.Errorf("Status = %+v, want watching with 1 processed", st)
		}
	})

	t.Run("new_subdirectory", func(t *testing.T) {
		dir := t.TempDir()
		q := &recordingQueue{}
		startWatcher(t, Options{Dir: dir, Queue: q})

		sub := filepath.Join(dir, "2026", "10")
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatal(err)
		}
		// Give fsnotify a moment to register the new directories.
		time.Sleep(100 * time.Millisecond)
		if err := os.WriteFile(filepath.Join(sub, "call.wav"), wavBytes(800), 0o644); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return len(q.names()) == 1 })
	})

	t.Run("tree_moved_in_with_audio", func(t *testing.T) {
		dir := t.TempDir()
		q := &recordingQueue{}
		startWatcher(t, Options{Dir: dir, Queue: q})

		staging := t.TempDir()
		nested := filepath.Join(staging, "2026", "10")
		if err := os.MkdirAll(nested, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(nested, "early.wav"), wavBytes(800), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(filepath.Join(staging, "2026"), filepath.Join(dir, "2026")); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return len(q.names()) == 1 })
		if got := q.names()[0]; got != "early.wav" {
			t.Errorf("FileName = %q, want early.wav", got)
		}

		// The nested directory is watched too.
		if err := os.WriteFile(filepath.Join(dir, "2026", "10", "late.wav"), wavBytes(400), 0o644); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return len(q.names()) == 2 })
	})

	t.Run("skips_non_audio_content", func(t *testing.T) {
		dir := t.TempDir()
		q := &recordingQueue{}
		fw := startWatcher(t, Options{Dir: dir, Queue: q})

		os.WriteFile(filepath.Join(dir, "fake.mp3"), []byte("just some text, not audio"), 0o644)
		os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored by name"), 0o644)
		waitFor(t, func() bool { return fw.Status().FilesSkipped == 1 })
		if n := len(q.names()); n != 0 {
			t.Errorf("enqueued %d files, want 0", n)
		}
	})

	t.Run("skips_oversized", func(t *testing.T) {
		dir := t.TempDir()
		q := &recordingQueue{}
		fw := startWatcher(t, Options{Dir: dir, Queue: q, MaxBytes: 100})

		os.WriteFile(filepath.Join(dir, "long.wav"), wavBytes(1000), 0o644)
		waitFor(t, func() bool { return fw.Status().FilesSkipped == 1 })
		if n := len(q.names()); n != 0 {
			t.Errorf("enqueued %d files, want 0", n)
		}
	})

	t.Run("backfill_oldest_first", func(t *testing.T) {
		dir := t.TempDir()
		old := filepath.Join(dir, "old.wav")
		newer := filepath.Join(dir, "newer.wav")
		os.WriteFile(newer, wavBytes(100), 0o644)
		os.WriteFile(old, wavBytes(200), 0o644)
		past := time.Now().Add(-time.Hour)
		os.Chtimes(old, past, past)

		q := &recordingQueue{}
		fw := startWatcher(t, Options{Dir: dir, Queue: q, Backfill: true})
		waitFor(t, func() bool { return fw.Status().State == "watching" })

		got := q.names()
		if len(got) != 2 || got[0] != "old.wav" || got[1] != "newer.wav" {
			t.Errorf("backfill order = %v, want [old.wav newer.wav]", got)
		}
	})

	t.Run("unchanged_file_not_requeued", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "once.wav")
		os.WriteFile(path, wavBytes(100), 0o644)

		q := &recordingQueue{}
		fw := NewFileWatcher(Options{Dir: dir, Queue: q, Log: zerolog.Nop()})
		fw.processFile(path)
		fw.processFile(path)
		if n := len(q.names()); n != 1 {
			t.Errorf("enqueued %d times, want 1", n)
		}
	})

	t.Run("enqueue_error_allows_retry", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "again.wav")
		os.WriteFile(path, wavBytes(100), 0o644)

		q := &recordingQueue{err: errors.New("queue stopped")}
		fw := NewFileWatcher(Options{Dir: dir, Queue: q, Log: zerolog.Nop()})
		fw.processFile(path)

		q.mu.Lock()
		q.err = nil
		q.mu.Unlock()
		fw.processFile(path)
		if n := len(q.names()); n != 1 {
			t.Errorf("enqueued %d times, want 1", n)
		}
	})
}
