package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// CommandType enumerates the device commands a responder may execute.
type CommandType string

const (
	CommandOn                           CommandType = "On"
	CommandOff                          CommandType = "Off"
	CommandToggle                       CommandType = "Toggle"
	CommandSetBrightness                CommandType = "SetBrightness"
	CommandSetColor                     CommandType = "SetColor"
	CommandSetTemperature               CommandType = "SetTemperature"
	CommandSetHue                       CommandType = "SetHue"
	CommandSetSaturation                CommandType = "SetSaturation"
	CommandSetWhite                     CommandType = "SetWhite"
	CommandSetEffect                    CommandType = "SetEffect"
	CommandSetSpeed                     CommandType = "SetSpeed"
	CommandSetDirection                 CommandType = "SetDirection"
	CommandSetMode                      CommandType = "SetMode"
	CommandSetColorTemperature          CommandType = "SetColorTemperature"
	CommandSetColorMode                 CommandType = "SetColorMode"
	CommandSetColorTemperatureMode      CommandType = "SetColorTemperatureMode"
	CommandSetColorTemperatureRange     CommandType = "SetColorTemperatureRange"
	CommandSetColorTemperatureModeRange CommandType = "SetColorTemperatureModeRange"
)

var commandTypes = map[CommandType]struct{}{
	CommandOn: {}, CommandOff: {}, CommandToggle: {},
	CommandSetBrightness: {}, CommandSetColor: {}, CommandSetTemperature: {},
	CommandSetHue: {}, CommandSetSaturation: {}, CommandSetWhite: {},
	CommandSetEffect: {}, CommandSetSpeed: {}, CommandSetDirection: {},
	CommandSetMode: {}, CommandSetColorTemperature: {}, CommandSetColorMode: {},
	CommandSetColorTemperatureMode: {}, CommandSetColorTemperatureRange: {},
	CommandSetColorTemperatureModeRange: {},
}

// Valid reports whether c is a known command.
func (c CommandType) Valid() bool {
	_, ok := commandTypes[c]
	return ok
}

// Request is the correlated request envelope.
type Request struct {
	CorrelationID string      `json:"correlation_id"`
	DeviceID      string      `json:"device_id"`
	CommandType   CommandType `json:"command_type"`
	Payload       string      `json:"payload,omitempty"`
}

// Validate checks the fields every request needs, returning errors.ErrUnknownCommand
// for a command outside the enum.
func (r Request) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("request: %w", errors.Join(berr.ErrDecode, errors.New("device_id is required")))
	}

	if !r.CommandType.Valid() {
		return fmt.Errorf("request: %w: %q", berr.ErrUnknownCommand, r.CommandType)
	}

	return nil
}

// Response is the correlated response envelope. Error is set when the responder
// could not execute the command.
type Response struct {
	CorrelationID string `json:"correlation_id"`
	Result        string `json:"result"`
	Error         string `json:"error,omitempty"`
}

func EncodeRequest(r Request) ([]byte, error) {
	if r.CorrelationID == "" {
		return nil, fmt.Errorf("request encode: %w", errors.Join(berr.ErrSerializationFailed, errors.New("correlation_id is required")))
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("request encode: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// DecodeRequest parses a request envelope. A missing correlation id is filled from key.
func DecodeRequest(key, value []byte) (Request, error) {
	var r Request
	if err := json.Unmarshal(value, &r); err != nil {
		return Request{}, fmt.Errorf("request decode: %w", errors.Join(berr.ErrDecode, err))
	}

	if r.CorrelationID == "" {
		r.CorrelationID = string(key)
	}

	if r.CorrelationID == "" {
		return Request{}, fmt.Errorf("request decode: %w", errors.Join(berr.ErrDecode, errors.New("correlation_id is required")))
	}

	if err := r.Validate(); err != nil {
		return Request{}, err
	}

	return r, nil
}

func EncodeResponse(r Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("response encode: %w", errors.Join(berr.ErrSerializationFailed, err))
	}

	return b, nil
}

// DecodeResponse parses a response. Bodies that are not a JSON object are treated as a
// bare result keyed by correlation id.
func DecodeResponse(key, value []byte) (Response, error) {
	if gjson.ValidBytes(value) && gjson.ParseBytes(value).IsObject() {
		var r Response
		if err := json.Unmarshal(value, &r); err != nil {
			return Response{}, fmt.Errorf("response decode: %w", errors.Join(berr.ErrDecode, err))
		}

		if r.CorrelationID == "" {
			r.CorrelationID = string(key)
		}

		if r.CorrelationID == "" {
			return Response{}, fmt.Errorf("response decode: %w", errors.Join(berr.ErrDecode, errors.New("correlation_id is required")))
		}

		return r, nil
	}

	if len(key) == 0 {
		return Response{}, fmt.Errorf("response decode: %w", errors.Join(berr.ErrDecode, errors.New("no correlation id in key or body")))
	}

	return Response{CorrelationID: string(key), Result: string(value)}, nil
}
