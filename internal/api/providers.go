package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/juicer/internal/credentials"
	"github.com/snarg/juicer/internal/health"
	"github.com/snarg/juicer/internal/transcribe"
)

// ProviderInfo combines a provider's static limits with its credential
// and health state.
type ProviderInfo struct {
	ID         transcribe.ProviderID  `json:"id"`
	Model      string                 `json:"model"`
	MaxPayload int64                  `json:"max_payload_bytes"`
	Selected   bool                   `json:"selected"`
	Credential credentials.Credential `json:"credential"`
	Health     health.ServiceHealth   `json:"health"`
}

type ProvidersHandler struct {
	providers transcribe.Registry
	creds     Credentials
	health    Health
}

func NewProvidersHandler(providers transcribe.Registry, creds Credentials, h Health) *ProvidersHandler {
	return &ProvidersHandler{providers: providers, creds: creds, health: h}
}

func (h *ProvidersHandler) Routes(r chi.Router) {
	r.Get("/providers", h.List)
	r.Get("/providers/selected", h.GetSelected)
	r.Put("/providers/selected", h.PutSelected)
	r.Get("/providers/health", h.GetHealth)
	r.Post("/providers/health/check", h.CheckHealth)
	r.Put("/providers/{id}/credential", h.PutCredential)
	r.Post("/providers/{id}/validate", h.Validate)
}

func (h *ProvidersHandler) info(id transcribe.ProviderID) ProviderInfo {
	info := ProviderInfo{ID: id, Selected: h.creds.Selected() == id, Health: h.health.Get(id)}
	if p := h.providers.Get(id); p != nil {
		info.Model = p.Model()
		info.MaxPayload = p.MaxPayload()
	}
	info.Credential, _ = h.creds.Get(id)
	return info
}

// List handles GET /api/v1/providers.
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	out := make([]ProviderInfo, 0, len(transcribe.Remote))
	for _, id := range transcribe.Remote {
		out = append(out, h.info(id))
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"providers": out,
		"selected":  h.creds.Selected(),
		"preferred": h.health.PreferredService(),
	})
}

func (h *ProvidersHandler) GetSelected(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.info(h.creds.Selected()))
}

// PutSelected handles PUT /api/v1/providers/selected with {"provider": "..."}.
func (h *ProvidersHandler) PutSelected(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	id, err := transcribe.ParseProviderID(body.Provider)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.creds.Select(r.Context(), id); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.info(id))
}

func (h *ProvidersHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.health.Snapshot())
}

// CheckHealth probes every provider now and returns the fresh snapshot.
func (h *ProvidersHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	h.health.CheckHealth(r.Context())
	WriteJSON(w, http.StatusOK, h.health.Snapshot())
}

func (h *ProvidersHandler) providerParam(w http.ResponseWriter, r *http.Request) (transcribe.ProviderID, bool) {
	id, err := transcribe.ParseProviderID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "unknown provider")
		return "", false
	}
	return id, true
}

// PutCredential replaces a provider's API key and validates it.
func (h *ProvidersHandler) PutCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Key string `json:"key"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := h.creds.Set(id, strings.TrimSpace(body.Key)); err != nil {
		WriteErr(w, err)
		return
	}
	// Validation outcome lands on the credential itself.
	h.creds.Validate(r.Context(), id)
	WriteJSON(w, http.StatusOK, h.info(id))
}

func (h *ProvidersHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	h.creds.Validate(r.Context(), id)
	WriteJSON(w, http.StatusOK, h.info(id))
}
