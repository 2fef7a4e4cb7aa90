package gateway_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/gateway"
)

func named(name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(name + ":" + r.PathValue("id")))
	})
}

func TestRouter_FirstMatchWinsAndPathValues(t *testing.T) {
	r, err := gateway.NewRouter(
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}/telemetries/latest", Handler: named("latest")},
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}/telemetries", Handler: named("list")},
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}", Handler: named("device")},
		gateway.Route{Method: http.MethodGet, Pattern: "/devices", Handler: named("devices")},
	)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/devices/7/telemetries/latest", "latest:7"},
		{"/devices/7/telemetries", "list:7"},
		{"/devices/7", "device:7"},
		{"/devices", "devices:"},
	}

	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)

		h, ok := r.Match(req)
		if !ok {
			t.Fatalf("%s: no match", tc.path)
		}

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Body.String() != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.path, rec.Body.String(), tc.want)
		}
	}

	for _, miss := range []string{"/devices/7/other", "/devicesx", "/devices/7/telemetries/latest/x"} {
		if _, ok := r.Match(httptest.NewRequest(http.MethodGet, miss, nil)); ok {
			t.Fatalf("%s: unexpected match", miss)
		}
	}

	if _, ok := r.Match(httptest.NewRequest(http.MethodPost, "/devices/7", nil)); ok {
		t.Fatalf("method must be part of the match")
	}
}

func TestRouter_RejectsShadowedRoute(t *testing.T) {
	_, err := gateway.NewRouter(
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}", Handler: named("device")},
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}", Handler: named("again")},
	)
	if !errors.Is(err, berr.ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}

	_, err = gateway.NewRouter(
		gateway.Route{Method: http.MethodPost, Pattern: "/devices/{id}", Handler: named("device")},
		gateway.Route{Method: http.MethodPost, Pattern: "/devices/call", Handler: named("call")},
	)
	if !errors.Is(err, berr.ErrInvalidRoute) {
		t.Fatalf("expected /devices/call to be reported as shadowed, got %v", err)
	}

	// same template under another method is fine
	if _, err := gateway.NewRouter(
		gateway.Route{Method: http.MethodGet, Pattern: "/devices/{id}", Handler: named("get")},
		gateway.Route{Method: http.MethodPatch, Pattern: "/devices/{id}", Handler: named("patch")},
	); err != nil {
		t.Fatalf("new router: %v", err)
	}
}

func TestRouter_RejectsMalformedRoute(t *testing.T) {
	bad := []gateway.Route{
		{Method: http.MethodGet, Pattern: "devices", Handler: named("x")},
		{Method: "", Pattern: "/devices", Handler: named("x")},
		{Method: http.MethodGet, Pattern: "/devices"},
	}

	for _, rt := range bad {
		if _, err := gateway.NewRouter(rt); !errors.Is(err, berr.ErrInvalidRoute) {
			t.Fatalf("%+v: expected ErrInvalidRoute, got %v", rt, err)
		}
	}
}
