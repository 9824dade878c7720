package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type QueueHandler struct {
	queue Queue
}

func NewQueueHandler(q Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

func (h *QueueHandler) Routes(r chi.Router) {
	r.Get("/queue", h.List)
	r.Delete("/queue", h.Clear)
	r.Get("/queue/{id}", h.Get)
	r.Delete("/queue/{id}", h.Cancel)
	r.Post("/queue/{id}/retry", h.Retry)
}

// List handles GET /api/v1/queue.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"items": h.queue.Items(),
		"stats": h.queue.Stats(),
	})
}

func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.Get(chi.URLParam(r, "id"))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, item)
}

// Cancel removes a waiting item. Items already processing can't be
// cancelled.
func (h *QueueHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.Cancel(chi.URLParam(r, "id")); err != nil {
		WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clear removes every waiting item.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]int{"removed": h.queue.Clear()})
}

func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	item, err := h.queue.Retry(chi.URLParam(r, "id"))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, item)
}
