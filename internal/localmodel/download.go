package localmodel

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
)

// progressWriter counts bytes written and reports whole-percent changes.
type progressWriter struct {
	total      int64
	written    int64
	lastPct    int
	onProgress func(written, total int64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 {
		pct := int(w.written * 100 / w.total)
		if pct == w.lastPct {
			return len(p), nil
		}
		w.lastPct = pct
	}
	w.onProgress(w.written, w.total)
	return len(p), nil
}

// download fetches url into path through a temporary file that is renamed
// into place only once the body has been fully written.
func (m *Manager) download(ctx context.Context, url, path string, onProgress func(written, total int64)) error {
	tmp := path + ".download"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download model: status code %d", resp.StatusCode)
	}

	out, err := m.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	counter := &progressWriter{total: resp.ContentLength, lastPct: -1, onProgress: onProgress}
	_, err = io.Copy(out, io.TeeReader(resp.Body, counter))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("copy model data: %w", err)
	}
	if resp.ContentLength > 0 && counter.written != resp.ContentLength {
		m.fs.Remove(tmp)
		return fmt.Errorf("download truncated: got %s of %s",
			humanize.Bytes(uint64(counter.written)), humanize.Bytes(uint64(resp.ContentLength)))
	}

	if err := m.fs.Rename(tmp, path); err != nil {
		m.fs.Remove(tmp)
		return fmt.Errorf("rename temporary file: %w", err)
	}
	return nil
}

// fileExists reports whether path exists and is a non-empty regular file.
func fileExists(fs afero.Fs, path string) bool {
	info, err := fs.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
