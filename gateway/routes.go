package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/next-trace/scg-device-relay/envelope"
)

// Deps are the collaborators the route table hands requests to.
type Deps struct {
	DevicesURL   *url.URL
	TelemetryURL *url.URL
	Sender       Sender
	Caller       Caller
	CORS         CORS
	Logger       *slog.Logger
}

// NewRoutes builds the gateway's route table. Order matters: the more specific
// templates under /devices come before the general ones.
func NewRoutes(d Deps) ([]Route, error) {
	if d.Sender == nil || d.Caller == nil {
		return nil, fmt.Errorf("gateway routes: sender and caller are required")
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	devices, err := NewProxy(d.DevicesURL, d.CORS, logger)
	if err != nil {
		return nil, fmt.Errorf("devices backend: %w", err)
	}

	telemetry, err := NewProxy(d.TelemetryURL, d.CORS, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry backend: %w", err)
	}

	deviceID := func(r *http.Request) string { return r.PathValue("id") }

	return []Route{
		{http.MethodGet, "/devices/{id}/telemetries/latest", telemetry},
		{http.MethodGet, "/devices/{id}/telemetries", telemetry},
		{http.MethodPost, "/devices/{id}/telemetries", commandHandler(d.Sender, d.CORS, logger,
			func(r *http.Request, c *envelope.AddTelemetry) { c.DeviceID = deviceID(r) })},
		{http.MethodPost, "/devices/call", callHandler(d.Caller, d.CORS, logger)},
		{http.MethodGet, "/devices/{id}", devices},
		{http.MethodPatch, "/devices/{id}", commandHandler(d.Sender, d.CORS, logger,
			func(r *http.Request, c *envelope.UpdateDevice) { c.DeviceID = deviceID(r) })},
		{http.MethodDelete, "/devices/{id}", commandHandler(d.Sender, d.CORS, logger,
			func(r *http.Request, c *envelope.DeleteDevice) { c.DeviceID = deviceID(r) })},
		{http.MethodGet, "/devices", devices},
		{http.MethodPost, "/devices", commandHandler[envelope.AddDevice](d.Sender, d.CORS, logger, nil)},
		{http.MethodGet, "/modules/{id}", devices},
		{http.MethodPatch, "/modules/{id}", commandHandler(d.Sender, d.CORS, logger,
			func(r *http.Request, c *envelope.UpdateModule) { c.ModuleID = r.PathValue("id") })},
		{http.MethodDelete, "/modules/{id}", commandHandler(d.Sender, d.CORS, logger,
			func(r *http.Request, c *envelope.DeleteModule) { c.ModuleID = r.PathValue("id") })},
		{http.MethodGet, "/modules", devices},
		{http.MethodPost, "/modules", commandHandler[envelope.AddModule](d.Sender, d.CORS, logger, nil)},
	}, nil
}

// New builds the gateway handler with the full route table.
func New(d Deps) (*Server, error) {
	routes, err := NewRoutes(d)
	if err != nil {
		return nil, err
	}

	router, err := NewRouter(routes...)
	if err != nil {
		return nil, err
	}

	return NewServer(router, d.CORS, d.Logger), nil
}
