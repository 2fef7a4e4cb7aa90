// Package telemetry is the telemetry service: it records add-telemetry commands and
// serves a device's readings.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/internal/platform/httpx"
	"github.com/next-trace/scg-device-relay/servicebus"
	"github.com/next-trace/scg-device-relay/storage"
)

// Register binds the add-telemetry handler onto b.
func Register(b *servicebus.Bus, store storage.TelemetryStore) error {
	err := servicebus.BindCommand[envelope.AddTelemetry](b, cbus.CommandHandlerFunc[envelope.AddTelemetry](
		func(ctx context.Context, c envelope.AddTelemetry) error {
			_, err := store.InsertTelemetry(ctx, storage.NewTelemetry{DeviceID: c.DeviceID, Indications: c.Indications})
			return err
		}))
	if err != nil {
		return fmt.Errorf("telemetry register: %w", err)
	}

	return nil
}

// NewAPI serves a device's telemetry, newest first, and its latest reading.
func NewAPI(store storage.TelemetryStore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /devices/{id}/telemetries", func(w http.ResponseWriter, r *http.Request) {
		items, err := store.ListTelemetry(r.Context(), r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, items)
	})

	mux.HandleFunc("GET /devices/{id}/telemetries/latest", func(w http.ResponseWriter, r *http.Request) {
		item, err := store.LatestTelemetry(r.Context(), r.PathValue("id"))
		if err != nil {
			httpx.WriteError(w, err)
			return
		}

		httpx.WriteJSON(w, http.StatusOK, item)
	})

	return mux
}
