package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type CacheHandler struct {
	cache Cache
}

func NewCacheHandler(c Cache) *CacheHandler {
	return &CacheHandler{cache: c}
}

func (h *CacheHandler) Routes(r chi.Router) {
	r.Get("/cache", h.Stats)
	r.Post("/cache/prune", h.Prune)
	r.Delete("/cache", h.Clear)
}

func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.cache.Stats(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// Prune drops expired entries now instead of waiting for the pruner.
func (h *CacheHandler) Prune(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Prune(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (h *CacheHandler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.cache.Clear(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"removed": n})
}
