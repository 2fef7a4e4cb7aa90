package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/rpc"
	"github.com/next-trace/scg-device-relay/storage"
)

// TelemetrySink records command outcomes as telemetry. producer.Producer satisfies it.
type TelemetrySink interface {
	AddTelemetry(ctx context.Context, c envelope.AddTelemetry) error
}

// Executor runs device commands against the store. Power commands flip status; Set*
// commands write the payload into current_parameters under the command's parameter name,
// e.g. SetColorTemperature writes "colorTemperature".
type Executor struct {
	store  storage.DeviceStore
	sink   TelemetrySink
	logger *slog.Logger
}

var _ rpc.Executor = (*Executor)(nil)

// NewExecutor builds an Executor. A nil sink disables telemetry emission.
func NewExecutor(store storage.DeviceStore, sink TelemetrySink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{store: store, sink: sink, logger: logger}
}

// Execute applies req and returns the device state afterwards as a JSON document.
func (e *Executor) Execute(ctx context.Context, req envelope.Request) (string, error) {
	dev, err := e.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return "", err
	}

	patch, err := patchFor(dev, req)
	if err != nil {
		return "", err
	}

	dev, err = e.store.UpdateDevice(ctx, dev.ID, patch)
	if err != nil {
		return "", err
	}

	state, err := stateOf(dev)
	if err != nil {
		return "", err
	}

	if e.sink != nil {
		if err := e.sink.AddTelemetry(ctx, envelope.AddTelemetry{DeviceID: dev.ID, Indications: state}); err != nil {
			e.logger.WarnContext(ctx, "device telemetry not recorded", "device_id", dev.ID, "command", req.CommandType, "error", err)
		}
	}

	return state, nil
}

func patchFor(dev storage.Device, req envelope.Request) (storage.DevicePatch, error) {
	switch req.CommandType {
	case envelope.CommandOn:
		return storage.DevicePatch{Status: ptr(true)}, nil
	case envelope.CommandOff:
		return storage.DevicePatch{Status: ptr(false)}, nil
	case envelope.CommandToggle:
		return storage.DevicePatch{Status: ptr(!dev.Status)}, nil
	}

	if !req.CommandType.Valid() || !strings.HasPrefix(string(req.CommandType), "Set") {
		return storage.DevicePatch{}, fmt.Errorf("execute %q: %w", req.CommandType, berr.ErrUnknownCommand)
	}

	if strings.TrimSpace(req.Payload) == "" {
		return storage.DevicePatch{}, fmt.Errorf("execute %s: %w", req.CommandType, errors.Join(berr.ErrDecode, errors.New("payload is required")))
	}

	params := dev.CurrentParameters
	if !gjson.Valid(params) || !gjson.Parse(params).IsObject() {
		params = "{}"
	}

	key := ParameterName(req.CommandType)

	var (
		next string
		err  error
	)

	if gjson.Valid(req.Payload) {
		next, err = sjson.SetRaw(params, key, req.Payload)
	} else {
		next, err = sjson.Set(params, key, req.Payload)
	}

	if err != nil {
		return storage.DevicePatch{}, fmt.Errorf("execute %s: %w", req.CommandType, errors.Join(berr.ErrSerializationFailed, err))
	}

	return storage.DevicePatch{CurrentParameters: &next}, nil
}

// ParameterName maps a Set* command to its current_parameters key.
func ParameterName(c envelope.CommandType) string {
	name := strings.TrimPrefix(string(c), "Set")

	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}

	return string(unicode.ToLower(r)) + name[size:]
}

func stateOf(dev storage.Device) (string, error) {
	state, err := sjson.Set("{}", "device_id", dev.ID)
	if err == nil {
		state, err = sjson.Set(state, "status", dev.Status)
	}

	if err == nil && gjson.Valid(dev.CurrentParameters) {
		state, err = sjson.SetRaw(state, "current_parameters", dev.CurrentParameters)
	}

	if err != nil {
		return "", fmt.Errorf("device state %s: %w", dev.ID, errors.Join(berr.ErrSerializationFailed, err))
	}

	return state, nil
}

func ptr[T any](v T) *T { return &v }
