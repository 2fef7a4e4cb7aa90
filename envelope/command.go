package envelope

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
)

// MessageType is the message_type discriminator of a command envelope.
type MessageType string

const (
	TypeAddDevice    MessageType = "add-device"
	TypeUpdateDevice MessageType = "update-device"
	TypeDeleteDevice MessageType = "delete-device"
	TypeAddModule    MessageType = "add-module"
	TypeUpdateModule MessageType = "update-module"
	TypeDeleteModule MessageType = "delete-module"
	TypeAddTelemetry MessageType = "add-telemetry"
)

const typeField = "message_type"

// Command is a typed mutation carried by a command envelope.
type Command interface {
	MessageType() MessageType
	validate() error
}

// AddDevice creates a device seeded with its type's default parameters.
type AddDevice struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	UserID       string `json:"user_id"`
}

// UpdateDevice overwrites only the fields that are set.
type UpdateDevice struct {
	DeviceID          string  `json:"device_id"`
	Name              *string `json:"name,omitempty"`
	CurrentParameters *string `json:"current_parameters,omitempty"`
	Status            *bool   `json:"status,omitempty"`
	HouseID           *string `json:"house_id,omitempty"`
	ModuleID          *string `json:"module_id,omitempty"`
}

type DeleteDevice struct {
	DeviceID string `json:"device_id"`
}

// AddModule creates a module.
type AddModule struct {
	SerialNumber string `json:"serial_number"`
	Name         string `json:"name"`
	UserID       string `json:"user_id"`
}

// UpdateModule overwrites only the fields that are set.
type UpdateModule struct {
	ModuleID string  `json:"module_id"`
	Name     *string `json:"name,omitempty"`
	Status   *bool   `json:"status,omitempty"`
	HouseID  *string `json:"house_id,omitempty"`
}

type DeleteModule struct {
	ModuleID string `json:"module_id"`
}

// AddTelemetry records one telemetry reading for a device.
type AddTelemetry struct {
	DeviceID    string `json:"device_id"`
	Indications string `json:"indications"`
}

func (AddDevice) MessageType() MessageType    { return TypeAddDevice }
func (UpdateDevice) MessageType() MessageType { return TypeUpdateDevice }
func (DeleteDevice) MessageType() MessageType { return TypeDeleteDevice }
func (AddModule) MessageType() MessageType    { return TypeAddModule }
func (UpdateModule) MessageType() MessageType { return TypeUpdateModule }
func (DeleteModule) MessageType() MessageType { return TypeDeleteModule }
func (AddTelemetry) MessageType() MessageType { return TypeAddTelemetry }

func (c AddDevice) validate() error {
	return required(map[string]string{"serial_number": c.SerialNumber, "type": c.Type, "user_id": c.UserID})
}

func (c UpdateDevice) validate() error { return required(map[string]string{"device_id": c.DeviceID}) }
func (c DeleteDevice) validate() error { return required(map[string]string{"device_id": c.DeviceID}) }

func (c AddModule) validate() error {
	return required(map[string]string{"serial_number": c.SerialNumber, "user_id": c.UserID})
}

func (c UpdateModule) validate() error { return required(map[string]string{"module_id": c.ModuleID}) }
func (c DeleteModule) validate() error { return required(map[string]string{"module_id": c.ModuleID}) }
func (c AddTelemetry) validate() error { return required(map[string]string{"device_id": c.DeviceID}) }

func required(fields map[string]string) error {
	var missing []error
	for name, v := range fields {
		if v == "" {
			missing = append(missing, fmt.Errorf("%s is required", name))
		}
	}

	return errors.Join(missing...)
}

var decoders = map[MessageType]func([]byte) (Command, error){
	TypeAddDevice:    decodeAs[AddDevice],
	TypeUpdateDevice: decodeAs[UpdateDevice],
	TypeDeleteDevice: decodeAs[DeleteDevice],
	TypeAddModule:    decodeAs[AddModule],
	TypeUpdateModule: decodeAs[UpdateModule],
	TypeDeleteModule: decodeAs[DeleteModule],
	TypeAddTelemetry: decodeAs[AddTelemetry],
}

func decodeAs[C Command](data []byte) (Command, error) {
	var c C
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}

	return c, nil
}

// Encode renders cmd as a flat envelope.
func Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("envelope encode: %w", errors.Join(berr.ErrSerializationFailed, errors.New("nil command")))
	}

	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("envelope encode %s: %w", cmd.MessageType(), errors.Join(berr.ErrSerializationFailed, err))
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("envelope encode %s: %w", cmd.MessageType(), errors.Join(berr.ErrSerializationFailed, err))
	}

	body, err = sjson.SetBytes(body, typeField, string(cmd.MessageType()))
	if err != nil {
		return nil, fmt.Errorf("envelope encode %s: %w", cmd.MessageType(), errors.Join(berr.ErrSerializationFailed, err))
	}

	return body, nil
}

// Decode parses a flat envelope into its typed command. Every failure wraps errors.ErrDecode.
func Decode(data []byte) (Command, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("envelope decode: %w", errors.Join(berr.ErrDecode, errors.New("invalid json")))
	}

	tag := gjson.GetBytes(data, typeField)
	if tag.Type != gjson.String {
		return nil, fmt.Errorf("envelope decode: %w", errors.Join(berr.ErrDecode, errors.New("missing message_type")))
	}

	mt := MessageType(tag.Str)

	decode, ok := decoders[mt]
	if !ok {
		return nil, fmt.Errorf("envelope decode: %w", errors.Join(berr.ErrDecode, fmt.Errorf("unknown message_type %q", mt)))
	}

	cmd, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("envelope decode %s: %w", mt, errors.Join(berr.ErrDecode, err))
	}

	if err := cmd.validate(); err != nil {
		return nil, fmt.Errorf("envelope decode %s: %w", mt, errors.Join(berr.ErrDecode, err))
	}

	return cmd, nil
}
