package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/juicer/internal/history"
)

type HistoryHandler struct {
	history history.Recorder
}

func NewHistoryHandler(h history.Recorder) *HistoryHandler {
	return &HistoryHandler{history: h}
}

func (h *HistoryHandler) Routes(r chi.Router) {
	r.Get("/history", h.List)
	r.Delete("/history", h.Reset)
	r.Get("/history/stats", h.Stats)
	r.Get("/history/{id}", h.Get)
	r.Delete("/history/{id}", h.Delete)
}

// List handles GET /api/v1/history, newest first.
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	records, err := h.history.List(r.Context(), p.Limit, p.Offset)
	if err != nil {
		WriteErr(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"limit":   p.Limit,
		"offset":  p.Offset,
	})
}

func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

func (h *HistoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.history.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HistoryHandler) Reset(w http.ResponseWriter, r *http.Request) {
	n, err := h.history.Reset(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (h *HistoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.history.Stats(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}
