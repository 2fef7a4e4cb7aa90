// Package memory is an in-process implementation of the storage contracts, used by tests
// and by services started without a database.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-device-relay/contract/errors"
	"github.com/next-trace/scg-device-relay/storage"
)

// Store keeps devices, modules and telemetry in maps. It satisfies both store interfaces.
type Store struct {
	mu        sync.RWMutex
	types     map[string]storage.DeviceType
	devices   map[string]storage.Device
	modules   map[string]storage.Module
	telemetry map[string][]storage.Telemetry
	now       func() time.Time
}

var (
	_ storage.DeviceStore    = (*Store)(nil)
	_ storage.TelemetryStore = (*Store)(nil)
)

// New returns a store seeded with types, or storage.DefaultDeviceTypes when none are given.
func New(types ...storage.DeviceType) *Store {
	if len(types) == 0 {
		types = storage.DefaultDeviceTypes()
	}

	s := &Store{
		types:     make(map[string]storage.DeviceType, len(types)),
		devices:   map[string]storage.Device{},
		modules:   map[string]storage.Module{},
		telemetry: map[string][]storage.Telemetry{},
		now:       time.Now,
	}
	for _, t := range types {
		s.types[t.Type] = t
	}

	return s
}

func notFound(kind, id string) error { return fmt.Errorf("%s %q: %w", kind, id, berr.ErrNotFound) }

func (s *Store) InsertDevice(ctx context.Context, d storage.NewDevice) (storage.Device, error) {
	if err := ctx.Err(); err != nil {
		return storage.Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dt, ok := s.types[d.Type]
	if !ok {
		return storage.Device{}, notFound("device type", d.Type)
	}

	dev := storage.Device{
		ID:                uuid.NewString(),
		SerialNumber:      d.SerialNumber,
		Name:              d.Name,
		Type:              dt.Type,
		CurrentParameters: dt.DefaultParameters,
		UserID:            d.UserID,
	}
	s.devices[dev.ID] = dev

	return dev, nil
}

func (s *Store) UpdateDevice(ctx context.Context, id string, p storage.DevicePatch) (storage.Device, error) {
	if err := ctx.Err(); err != nil {
		return storage.Device{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[id]
	if !ok {
		return storage.Device{}, notFound("device", id)
	}

	if p.ModuleID != nil {
		if _, ok := s.modules[*p.ModuleID]; !ok {
			return storage.Device{}, notFound("module", *p.ModuleID)
		}
	}

	dev = p.Apply(dev)
	s.devices[id] = dev

	return dev, nil
}

func (s *Store) DeleteDevice(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[id]; !ok {
		return notFound("device", id)
	}

	delete(s.devices, id)

	return nil
}

func (s *Store) GetDevice(ctx context.Context, id string) (storage.Device, error) {
	if err := ctx.Err(); err != nil {
		return storage.Device{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.devices[id]
	if !ok {
		return storage.Device{}, notFound("device", id)
	}

	return dev, nil
}

func (s *Store) ListDevices(ctx context.Context, userID string) ([]storage.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Device{}
	for _, d := range s.devices {
		if d.UserID == userID {
			out = append(out, d)
		}
	}

	slices.SortFunc(out, func(a, b storage.Device) int { return cmp.Compare(a.SerialNumber+a.ID, b.SerialNumber+b.ID) })

	return out, nil
}

func (s *Store) InsertModule(ctx context.Context, m storage.NewModule) (storage.Module, error) {
	if err := ctx.Err(); err != nil {
		return storage.Module{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mod := storage.Module{ID: uuid.NewString(), SerialNumber: m.SerialNumber, Name: m.Name, UserID: m.UserID}
	s.modules[mod.ID] = mod

	return mod, nil
}

func (s *Store) UpdateModule(ctx context.Context, id string, p storage.ModulePatch) (storage.Module, error) {
	if err := ctx.Err(); err != nil {
		return storage.Module{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mod, ok := s.modules[id]
	if !ok {
		return storage.Module{}, notFound("module", id)
	}

	mod = p.Apply(mod)
	s.modules[id] = mod

	return mod, nil
}

// DeleteModule detaches the module's devices, like ON DELETE SET NULL.
func (s *Store) DeleteModule(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.modules[id]; !ok {
		return notFound("module", id)
	}

	delete(s.modules, id)

	for devID, d := range s.devices {
		if d.ModuleID != nil && *d.ModuleID == id {
			d.ModuleID = nil
			s.devices[devID] = d
		}
	}

	return nil
}

func (s *Store) GetModule(ctx context.Context, id string) (storage.Module, error) {
	if err := ctx.Err(); err != nil {
		return storage.Module{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mod, ok := s.modules[id]
	if !ok {
		return storage.Module{}, notFound("module", id)
	}

	return mod, nil
}

func (s *Store) ListModules(ctx context.Context, userID string) ([]storage.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Module{}
	for _, m := range s.modules {
		if m.UserID == userID {
			out = append(out, m)
		}
	}

	slices.SortFunc(out, func(a, b storage.Module) int { return cmp.Compare(a.SerialNumber+a.ID, b.SerialNumber+b.ID) })

	return out, nil
}

// InsertTelemetry does not check that the device exists: telemetry lives in its own service.
func (s *Store) InsertTelemetry(ctx context.Context, t storage.NewTelemetry) (storage.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Telemetry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := storage.Telemetry{ID: uuid.NewString(), DeviceID: t.DeviceID, Indications: t.Indications, CreatedAt: s.now().UTC()}
	s.telemetry[t.DeviceID] = append(s.telemetry[t.DeviceID], rec)

	return rec, nil
}

func (s *Store) ListTelemetry(ctx context.Context, deviceID string) ([]storage.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.telemetry[deviceID]
	out := make([]storage.Telemetry, 0, len(recs))

	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i])
	}

	return out, nil
}

func (s *Store) LatestTelemetry(ctx context.Context, deviceID string) (storage.Telemetry, error) {
	if err := ctx.Err(); err != nil {
		return storage.Telemetry{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.telemetry[deviceID]
	if len(recs) == 0 {
		return storage.Telemetry{}, notFound("telemetry for device", deviceID)
	}

	return recs[len(recs)-1], nil
}
