package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/juicer/internal/localmodel"
)

type SettingsHandler struct {
	offline OfflineSwitch
	model   Model
}

func NewSettingsHandler(offline OfflineSwitch, model Model) *SettingsHandler {
	return &SettingsHandler{offline: offline, model: model}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/settings/offline", h.GetOffline)
	r.Put("/settings/offline", h.PutOffline)
}

type offlineState struct {
	Enabled    bool `json:"enabled"`
	ModelReady bool `json:"model_ready"`
}

func (h *SettingsHandler) state() offlineState {
	st := offlineState{Enabled: h.offline.Offline()}
	if h.model != nil {
		st.ModelReady = h.model.Status().State == localmodel.StateReady
	}
	return st
}

func (h *SettingsHandler) GetOffline(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.state())
}

// PutOffline toggles offline mode. Jobs only go local while the model is
// ready; otherwise they still use the providers.
func (h *SettingsHandler) PutOffline(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	h.offline.SetOffline(body.Enabled)
	WriteJSON(w, http.StatusOK, h.state())
}
