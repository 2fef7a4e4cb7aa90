package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/internal/platform/httpx"
	"github.com/next-trace/scg-device-relay/rpc"
)

// maxBodyBytes bounds command and call bodies.
const maxBodyBytes = 1 << 20

// Sender publishes a command to its topic. producer.Producer satisfies it.
type Sender interface {
	Send(ctx context.Context, cmd envelope.Command) error
}

// Caller issues a correlated device command. rpc.Correlator satisfies it.
type Caller interface {
	Call(ctx context.Context, req rpc.Request, timeout time.Duration) (rpc.Reply, error)
}

// commandHandler decodes the body into a command, lets bind fill in path values and
// replies 204 once the command is published. An empty body decodes to the zero command.
func commandHandler[C envelope.Command](s Sender, cors CORS, logger *slog.Logger, bind func(*http.Request, *C)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cmd C

		if err := decodeBody(w, r, &cmd); err != nil {
			cors.apply(w.Header())
			httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())

			return
		}

		if bind != nil {
			bind(r, &cmd)
		}

		if err := s.Send(r.Context(), cmd); err != nil {
			logger.WarnContext(r.Context(), "command not published", "message_type", cmd.MessageType(), "error", err)
			cors.apply(w.Header())
			httpx.WriteError(w, err)

			return
		}

		cors.apply(w.Header())
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}

	return nil
}

type callBody struct {
	DeviceID    string               `json:"device_id"`
	CommandType envelope.CommandType `json:"command_type"`
	Payload     string               `json:"payload,omitempty"`
	TimeoutMS   int                  `json:"timeout_ms,omitempty"`
}

type callResult struct {
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result"`
}

// callHandler runs a device command through the correlator. A timeout maps to 504, an
// error reported by the device service to 502 and an unreachable broker to 503.
func callHandler(c Caller, cors CORS, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cors.apply(w.Header())

		var body callBody
		if err := decodeBody(w, r, &body); err != nil {
			httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		req := envelope.Request{DeviceID: body.DeviceID, CommandType: body.CommandType, Payload: body.Payload}
		if err := req.Validate(); err != nil {
			httpx.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		timeout := time.Duration(body.TimeoutMS) * time.Millisecond

		reply, err := c.Call(r.Context(), rpc.Request{DeviceID: body.DeviceID, CommandType: body.CommandType, Payload: body.Payload}, timeout)

		switch {
		case reply.TimedOut || errors.Is(err, berr.ErrTimeout):
			httpx.WriteJSON(w, http.StatusGatewayTimeout, map[string]string{"correlation_id": reply.CorrelationID, "error": "device did not respond in time"})
		case err != nil:
			logger.WarnContext(r.Context(), "device call failed", "device_id", body.DeviceID, "command", body.CommandType, "error", err)
			httpx.WriteError(w, err)
		case reply.Error != "":
			httpx.WriteJSON(w, http.StatusBadGateway, map[string]string{"correlation_id": reply.CorrelationID, "error": reply.Error})
		default:
			httpx.WriteJSON(w, http.StatusOK, callResult{CorrelationID: reply.CorrelationID, Result: reply.Result})
		}
	})
}
