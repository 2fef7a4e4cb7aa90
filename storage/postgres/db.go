// Package postgres implements the storage contracts on PostgreSQL through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/next-trace/scg-device-relay/storage"
)

// DB wraps the gorm handle shared by the repositories.
type DB struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// Connect opens dsn and pings it, giving up after five seconds.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{DB: db, logger: logger}, nil
}

func (p *DB) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}

	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// MigrateDevices creates the devices service schema and seeds the device types.
func (p *DB) MigrateDevices(ctx context.Context, types ...storage.DeviceType) error {
	if len(types) == 0 {
		types = storage.DefaultDeviceTypes()
	}

	db := p.DB.WithContext(ctx)
	if err := db.AutoMigrate(&deviceTypeModel{}, &moduleModel{}, &deviceModel{}); err != nil {
		return fmt.Errorf("migrate devices schema: %w", err)
	}

	rows := make([]deviceTypeModel, 0, len(types))
	for _, t := range types {
		rows = append(rows, deviceTypeModel{Type: t.Type, DefaultParameters: t.DefaultParameters})
	}

	if err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "type"}}, DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("seed device types: %w", err)
	}

	return nil
}

// MigrateTelemetry creates the telemetry service schema.
func (p *DB) MigrateTelemetry(ctx context.Context) error {
	if err := p.DB.WithContext(ctx).AutoMigrate(&telemetryModel{}); err != nil {
		return fmt.Errorf("migrate telemetry schema: %w", err)
	}

	return nil
}
