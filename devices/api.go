package devices

import (
	"net/http"
	"strings"

	"github.com/next-trace/scg-device-relay/internal/platform/httpx"
	"github.com/next-trace/scg-device-relay/storage"
)

// NewAPI serves the read endpoints for devices and modules.
func NewAPI(store storage.DeviceStore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		dev, err := store.GetDevice(r.Context(), r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, dev)
	})

	mux.HandleFunc("GET /devices", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		devs, err := store.ListDevices(r.Context(), userID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, devs)
	})

	mux.HandleFunc("GET /modules/{id}", func(w http.ResponseWriter, r *http.Request) {
		mod, err := store.GetModule(r.Context(), r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, mod)
	})

	mux.HandleFunc("GET /modules", func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUser(w, r)
		if !ok {
			return
		}

		mods, err := store.ListModules(r.Context(), userID)
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, mods)
	})

	return mux
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		httpx.WriteJSONError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}

	return userID, true
}
