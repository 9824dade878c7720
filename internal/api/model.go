package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/juicer/internal/localmodel"
)

// ModelHandler manages the offline whisper.cpp model. Downloads run in
// the background; progress arrives as model events.
type ModelHandler struct {
	ctx   context.Context
	model Model
	log   zerolog.Logger
}

func NewModelHandler(ctx context.Context, m Model, log zerolog.Logger) *ModelHandler {
	return &ModelHandler{ctx: ctx, model: m, log: log.With().Str("handler", "model").Logger()}
}

func (h *ModelHandler) Routes(r chi.Router) {
	r.Get("/model", h.Status)
	r.Post("/model/download", h.Download)
	r.Delete("/model/{variant}", h.Delete)
}

func (h *ModelHandler) Status(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":    h.model.Status(),
		"supported": h.model.CheckSupport(),
		"models":    h.model.Models(),
	})
}

// Download handles POST /api/v1/model/download with {"variant": "..."}.
// It returns 202 once loading has started.
func (h *ModelHandler) Download(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Variant string `json:"variant"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if _, err := localmodel.Lookup(body.Variant); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := h.model.Status()
	if st.State == localmodel.StateDownloading || st.State == localmodel.StateInitializing {
		WriteErr(w, localmodel.ErrBusy)
		return
	}
	if st.State == localmodel.StateReady && st.Variant == body.Variant {
		WriteJSON(w, http.StatusOK, st)
		return
	}

	go func() {
		if err := h.model.Initialize(h.ctx, body.Variant); err != nil && !errors.Is(err, localmodel.ErrBusy) {
			h.log.Warn().Err(err).Str("variant", body.Variant).Msg("model load failed")
		}
	}()
	WriteJSON(w, http.StatusAccepted, map[string]string{"variant": body.Variant, "state": "loading"})
}

func (h *ModelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	variant := chi.URLParam(r, "variant")
	if _, err := localmodel.Lookup(variant); err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := h.model.Delete(variant); err != nil {
		WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
