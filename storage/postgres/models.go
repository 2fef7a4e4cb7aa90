package postgres

import (
	"time"

	"github.com/next-trace/scg-device-relay/storage"
)

type deviceTypeModel struct {
	ID                uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Type              string `gorm:"column:type;uniqueIndex;not null"`
	DefaultParameters string `gorm:"column:default_parameters;type:text;not null;default:'{}'"`
}

func (deviceTypeModel) TableName() string {
	return "device_types"
}

type moduleModel struct {
	ID           string    `gorm:"column:id;primaryKey;type:uuid"`
	SerialNumber string    `gorm:"column:serial_number;not null"`
	Name         string    `gorm:"column:name"`
	Status       bool      `gorm:"column:status;not null;default:false"`
	HouseID      *string   `gorm:"column:house_id"`
	UserID       string    `gorm:"column:user_id;index;not null"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (moduleModel) TableName() string {
	return "modules"
}

type deviceModel struct {
	ID                string          `gorm:"column:id;primaryKey;type:uuid"`
	SerialNumber      string          `gorm:"column:serial_number;not null"`
	Name              string          `gorm:"column:name"`
	TypeID            uint            `gorm:"column:type_id;not null"`
	Type              deviceTypeModel `gorm:"foreignKey:TypeID"`
	CurrentParameters string          `gorm:"column:current_parameters;type:text"`
	Status            bool            `gorm:"column:status;not null;default:false"`
	HouseID           *string         `gorm:"column:house_id"`
	ModuleID          *string         `gorm:"column:module_id;type:uuid"`
	Module            *moduleModel    `gorm:"foreignKey:ModuleID;constraint:OnDelete:SET NULL"`
	UserID            string          `gorm:"column:user_id;index;not null"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
}

func (deviceModel) TableName() string {
	return "devices"
}

type telemetryModel struct {
	ID          string    `gorm:"column:id;primaryKey;type:uuid"`
	DeviceID    string    `gorm:"column:device_id;index:idx_telemetries_device_created,priority:1;not null"`
	Indications string    `gorm:"column:indications;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;index:idx_telemetries_device_created,priority:2,sort:desc"`
}

func (telemetryModel) TableName() string {
	return "telemetries"
}

func (m deviceModel) toDevice() storage.Device {
	return storage.Device{
		ID:                m.ID,
		SerialNumber:      m.SerialNumber,
		Name:              m.Name,
		Type:              m.Type.Type,
		CurrentParameters: m.CurrentParameters,
		Status:            m.Status,
		HouseID:           m.HouseID,
		ModuleID:          m.ModuleID,
		UserID:            m.UserID,
	}
}

func (m moduleModel) toModule() storage.Module {
	return storage.Module{
		ID:           m.ID,
		SerialNumber: m.SerialNumber,
		Name:         m.Name,
		Status:       m.Status,
		HouseID:      m.HouseID,
		UserID:       m.UserID,
	}
}

func (m telemetryModel) toTelemetry() storage.Telemetry {
	return storage.Telemetry{
		ID:          m.ID,
		DeviceID:    m.DeviceID,
		Indications: m.Indications,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}

// applyDevicePatch merges p into the row through the domain merge so both stores agree.
func applyDevicePatch(m deviceModel, p storage.DevicePatch) deviceModel {
	d := p.Apply(m.toDevice())

	m.Name = d.Name
	m.CurrentParameters = d.CurrentParameters
	m.Status = d.Status
	m.HouseID = d.HouseID
	m.ModuleID = d.ModuleID

	return m
}

func applyModulePatch(m moduleModel, p storage.ModulePatch) moduleModel {
	mod := p.Apply(m.toModule())

	m.Name = mod.Name
	m.Status = mod.Status
	m.HouseID = mod.HouseID

	return m
}
