package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/transcribe"
)

// TranscriptionsHandler accepts uploads and reports job progress.
type TranscriptionsHandler struct {
	queue    Queue
	progress Progress
	maxBytes int64
	limit    func(http.Handler) http.Handler
	log      zerolog.Logger
}

// NewTranscriptionsHandler creates the upload handler. rps <= 0 disables
// rate limiting.
func NewTranscriptionsHandler(q Queue, p Progress, maxBytes int64, rps float64, burst int, log zerolog.Logger) *TranscriptionsHandler {
	h := &TranscriptionsHandler{
		queue:    q,
		progress: p,
		maxBytes: maxBytes,
		log:      log.With().Str("handler", "transcriptions").Logger(),
	}
	if rps > 0 {
		h.limit = RateLimiter(rps, burst)
	}
	return h
}

func (h *TranscriptionsHandler) Routes(r chi.Router) {
	if h.limit != nil {
		r.With(h.limit).Post("/transcriptions", h.Upload)
	} else {
		r.Post("/transcriptions", h.Upload)
	}
	r.Get("/progress", h.Progress)
}

// Upload handles POST /api/v1/transcriptions. The multipart "file" field
// is enqueued and the queue item returned.
func (h *TranscriptionsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
				Error: "upload exceeds " + humanize.IBytes(uint64(h.maxBytes)),
				Kind:  transcribe.KindPayloadTooLarge,
			})
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, `missing "file" field`)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read file")
		return
	}
	if len(content) == 0 {
		WriteError(w, http.StatusBadRequest, "file is empty")
		return
	}

	sub := transcribe.NewSubmission(header.Filename, header.Header.Get("Content-Type"), content)
	item, err := h.queue.Enqueue(sub)
	if err != nil {
		WriteErr(w, err)
		return
	}
	h.log.Info().
		Str("job_id", item.ID).
		Str("file", item.FileName).
		Str("size", humanize.Bytes(uint64(item.Size))).
		Msg("transcription queued")
	WriteJSON(w, http.StatusAccepted, item)
}

// Progress handles GET /api/v1/progress.
func (h *TranscriptionsHandler) Progress(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.progress.Snapshot())
}
