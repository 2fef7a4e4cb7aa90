package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/storage"
)

const (
	foreignKeyViolation = "23503"
	// ids are uuid columns; text that does not parse cannot name a row.
	invalidTextRepresentation = "22P02"
)

// DeviceRepository implements storage.DeviceStore.
type DeviceRepository struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ storage.DeviceStore = (*DeviceRepository)(nil)

// NewDeviceRepository returns the devices service store over p.
func NewDeviceRepository(p *DB) *DeviceRepository {
	return &DeviceRepository{db: p.DB, logger: p.logger}
}

func (r *DeviceRepository) InsertDevice(ctx context.Context, d storage.NewDevice) (storage.Device, error) {
	var dt deviceTypeModel

	err := r.db.WithContext(ctx).Where("type = ?", strings.TrimSpace(d.Type)).First(&dt).Error
	if err != nil {
		return storage.Device{}, r.classify("devices_repo_insert_device_failed", err, "device type "+d.Type)
	}

	row := deviceModel{
		ID:                uuid.NewString(),
		SerialNumber:      d.SerialNumber,
		Name:              d.Name,
		TypeID:            dt.ID,
		Type:              dt,
		CurrentParameters: dt.DefaultParameters,
		UserID:            d.UserID,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&row).Error; err != nil {
		return storage.Device{}, r.classify("devices_repo_insert_device_failed", err, "device", "serial_number", d.SerialNumber)
	}

	return row.toDevice(), nil
}

func (r *DeviceRepository) UpdateDevice(ctx context.Context, id string, p storage.DevicePatch) (storage.Device, error) {
	var out deviceModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row deviceModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}

		row = applyDevicePatch(row, p)
		if err := tx.Omit(clause.Associations).Save(&row).Error; err != nil {
			return err
		}

		return tx.Preload("Type").Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return storage.Device{}, r.classify("devices_repo_update_device_failed", err, "device "+id)
	}

	return out.toDevice(), nil
}

func (r *DeviceRepository) DeleteDevice(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&deviceModel{})
	if res.Error != nil {
		return r.classify("devices_repo_delete_device_failed", res.Error, "device "+id)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("device %q: %w", id, berr.ErrNotFound)
	}

	return nil
}

func (r *DeviceRepository) GetDevice(ctx context.Context, id string) (storage.Device, error) {
	var row deviceModel
	if err := r.db.WithContext(ctx).Preload("Type").Where("id = ?", id).First(&row).Error; err != nil {
		return storage.Device{}, r.classify("devices_repo_get_device_failed", err, "device "+id)
	}

	return row.toDevice(), nil
}

func (r *DeviceRepository) ListDevices(ctx context.Context, userID string) ([]storage.Device, error) {
	var rows []deviceModel
	if err := r.db.WithContext(ctx).Preload("Type").
		Where("user_id = ?", userID).
		Order("serial_number ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.classify("devices_repo_list_devices_failed", err, "devices of user "+userID)
	}

	out := make([]storage.Device, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDevice())
	}

	return out, nil
}

func (r *DeviceRepository) InsertModule(ctx context.Context, m storage.NewModule) (storage.Module, error) {
	row := moduleModel{ID: uuid.NewString(), SerialNumber: m.SerialNumber, Name: m.Name, UserID: m.UserID}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storage.Module{}, r.classify("devices_repo_insert_module_failed", err, "module", "serial_number", m.SerialNumber)
	}

	return row.toModule(), nil
}

func (r *DeviceRepository) UpdateModule(ctx context.Context, id string, p storage.ModulePatch) (storage.Module, error) {
	var row moduleModel

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}

		row = applyModulePatch(row, p)

		return tx.Save(&row).Error
	})
	if err != nil {
		return storage.Module{}, r.classify("devices_repo_update_module_failed", err, "module "+id)
	}

	return row.toModule(), nil
}

func (r *DeviceRepository) DeleteModule(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&moduleModel{})
	if res.Error != nil {
		return r.classify("devices_repo_delete_module_failed", res.Error, "module "+id)
	}

	if res.RowsAffected == 0 {
		return fmt.Errorf("module %q: %w", id, berr.ErrNotFound)
	}

	return nil
}

func (r *DeviceRepository) GetModule(ctx context.Context, id string) (storage.Module, error) {
	var row moduleModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return storage.Module{}, r.classify("devices_repo_get_module_failed", err, "module "+id)
	}

	return row.toModule(), nil
}

func (r *DeviceRepository) ListModules(ctx context.Context, userID string) ([]storage.Module, error) {
	var rows []moduleModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("serial_number ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.classify("devices_repo_list_modules_failed", err, "modules of user "+userID)
	}

	out := make([]storage.Module, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModule())
	}

	return out, nil
}

// TelemetryRepository implements storage.TelemetryStore.
type TelemetryRepository struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.TelemetryStore = (*TelemetryRepository)(nil)

// NewTelemetryRepository returns the telemetry service store over p.
func NewTelemetryRepository(p *DB) *TelemetryRepository {
	return &TelemetryRepository{db: p.DB, logger: p.logger, now: time.Now}
}

func (r *TelemetryRepository) InsertTelemetry(ctx context.Context, t storage.NewTelemetry) (storage.Telemetry, error) {
	row := telemetryModel{ID: uuid.NewString(), DeviceID: t.DeviceID, Indications: t.Indications, CreatedAt: r.now().UTC()}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return storage.Telemetry{}, classify(r.logger, "telemetry_repo_insert_failed", err, "telemetry", "device_id", t.DeviceID)
	}

	return row.toTelemetry(), nil
}

func (r *TelemetryRepository) ListTelemetry(ctx context.Context, deviceID string) ([]storage.Telemetry, error) {
	var rows []telemetryModel
	if err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, classify(r.logger, "telemetry_repo_list_failed", err, "telemetry of device "+deviceID)
	}

	out := make([]storage.Telemetry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toTelemetry())
	}

	return out, nil
}

func (r *TelemetryRepository) LatestTelemetry(ctx context.Context, deviceID string) (storage.Telemetry, error) {
	var row telemetryModel
	if err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC, id DESC").
		First(&row).Error; err != nil {
		return storage.Telemetry{}, classify(r.logger, "telemetry_repo_latest_failed", err, "telemetry of device "+deviceID)
	}

	return row.toTelemetry(), nil
}

func (r *DeviceRepository) classify(event string, err error, subject string, attrs ...any) error {
	return classify(r.logger, event, err, subject, attrs...)
}

// classify maps gorm and postgres errors onto the relay error codes. Missing rows and
// dangling references are expected outcomes and are not logged.
func classify(logger *slog.Logger, event string, err error, subject string, attrs ...any) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", subject, berr.ErrNotFound)
	case pgCode(err) == foreignKeyViolation:
		return fmt.Errorf("%s: %w", subject, errors.Join(berr.ErrNotFound, err))
	case pgCode(err) == invalidTextRepresentation:
		return fmt.Errorf("%s: malformed id: %w", subject, berr.ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	fields := make([]any, 0, len(attrs)+6)
	fields = append(fields, "event", event, "layer", "storage", "error", err.Error())
	fields = append(fields, attrs...)
	logger.Error("storage operation failed", fields...)

	return fmt.Errorf("%s: %w", subject, err)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}

	return pgErr.Code
}
