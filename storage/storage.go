// Package storage defines the records the backend services own and the store contracts
// their command handlers and read endpoints use.
//
// Mutations that target a missing row return errors.ErrNotFound; callers on the async
// command path treat that as a no-op.
package storage

import (
	"context"
	"time"
)

// Device is a stored device row.
type Device struct {
	ID                string  `json:"id"`
	SerialNumber      string  `json:"serial_number"`
	Name              string  `json:"name"`
	Type              string  `json:"type"`
	CurrentParameters string  `json:"current_parameters"`
	Status            bool    `json:"status"`
	HouseID           *string `json:"house_id"`
	ModuleID          *string `json:"module_id"`
	UserID            string  `json:"user_id"`
}

// DeviceType seeds new devices of its type with DefaultParameters.
type DeviceType struct {
	Type              string `json:"type"`
	DefaultParameters string `json:"default_parameters"`
}

// Module groups devices of one user.
type Module struct {
	ID           string  `json:"id"`
	SerialNumber string  `json:"serial_number"`
	Name         string  `json:"name"`
	Status       bool    `json:"status"`
	HouseID      *string `json:"house_id"`
	UserID       string  `json:"user_id"`
}

// Telemetry is one stored reading; CreatedAt is set by the store.
type Telemetry struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	Indications string    `json:"indications"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewDevice holds the fields a caller supplies when creating a device.
type NewDevice struct {
	SerialNumber string
	Name         string
	Type         string
	UserID       string
}

// DevicePatch overwrites the non-nil fields and keeps the stored value of the rest.
type DevicePatch struct {
	Name              *string
	CurrentParameters *string
	Status            *bool
	HouseID           *string
	ModuleID          *string
}

type NewModule struct {
	SerialNumber string
	Name         string
	UserID       string
}

// ModulePatch overwrites the non-nil fields.
type ModulePatch struct {
	Name    *string
	Status  *bool
	HouseID *string
}

type NewTelemetry struct {
	DeviceID    string
	Indications string
}

// DeviceStore is owned by the devices service.
type DeviceStore interface {
	// InsertDevice creates a device with status off and the type's default parameters.
	// An unknown type yields errors.ErrNotFound. Inserts are not idempotent.
	InsertDevice(ctx context.Context, d NewDevice) (Device, error)
	UpdateDevice(ctx context.Context, id string, p DevicePatch) (Device, error)
	DeleteDevice(ctx context.Context, id string) error
	GetDevice(ctx context.Context, id string) (Device, error)
	ListDevices(ctx context.Context, userID string) ([]Device, error)

	InsertModule(ctx context.Context, m NewModule) (Module, error)
	UpdateModule(ctx context.Context, id string, p ModulePatch) (Module, error)
	DeleteModule(ctx context.Context, id string) error
	GetModule(ctx context.Context, id string) (Module, error)
	ListModules(ctx context.Context, userID string) ([]Module, error)
}

// TelemetryStore is owned by the telemetry service.
type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, t NewTelemetry) (Telemetry, error)
	// ListTelemetry returns a device's readings newest first.
	ListTelemetry(ctx context.Context, deviceID string) ([]Telemetry, error)
	LatestTelemetry(ctx context.Context, deviceID string) (Telemetry, error)
}

// DefaultDeviceTypes are seeded into fresh stores.
func DefaultDeviceTypes() []DeviceType {
	return []DeviceType{
		{Type: "light", DefaultParameters: `{"brightness":100,"color":"#ffffff","colorTemperature":4000}`},
		{Type: "thermostat", DefaultParameters: `{"temperature":21,"mode":"auto"}`},
		{Type: "socket", DefaultParameters: `{}`},
		{Type: "fan", DefaultParameters: `{"speed":1,"direction":"forward"}`},
	}
}

// Apply merges p into d.
func (p DevicePatch) Apply(d Device) Device {
	if p.Name != nil {
		d.Name = *p.Name
	}

	if p.CurrentParameters != nil {
		d.CurrentParameters = *p.CurrentParameters
	}

	if p.Status != nil {
		d.Status = *p.Status
	}

	if p.HouseID != nil {
		d.HouseID = p.HouseID
	}

	if p.ModuleID != nil {
		d.ModuleID = p.ModuleID
	}

	return d
}

// Apply merges p into m.
func (p ModulePatch) Apply(m Module) Module {
	if p.Name != nil {
		m.Name = *p.Name
	}

	if p.Status != nil {
		m.Status = *p.Status
	}

	if p.HouseID != nil {
		m.HouseID = p.HouseID
	}

	return m
}
