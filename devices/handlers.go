// Package devices is the devices service: it applies device and module commands to its
// store, executes device commands for the RPC path and serves the read endpoints the
// gateway proxies to.
package devices

import (
	"context"
	"fmt"

	cbus "github.com/next-trace/scg-device-relay/contract/bus"
	"github.com/next-trace/scg-device-relay/envelope"
	"github.com/next-trace/scg-device-relay/servicebus"
	"github.com/next-trace/scg-device-relay/storage"
)

// Register binds the device and module command handlers onto b.
func Register(b *servicebus.Bus, store storage.DeviceStore) error {
	binds := []error{
		servicebus.BindCommand[envelope.AddDevice](b, cbus.CommandHandlerFunc[envelope.AddDevice](
			func(ctx context.Context, c envelope.AddDevice) error {
				_, err := store.InsertDevice(ctx, storage.NewDevice{SerialNumber: c.SerialNumber, Name: c.Name, Type: c.Type, UserID: c.UserID})
				return err
			})),
		servicebus.BindCommand[envelope.UpdateDevice](b, cbus.CommandHandlerFunc[envelope.UpdateDevice](
			func(ctx context.Context, c envelope.UpdateDevice) error {
				_, err := store.UpdateDevice(ctx, c.DeviceID, storage.DevicePatch{
					Name:              c.Name,
					CurrentParameters: c.CurrentParameters,
					Status:            c.Status,
					HouseID:           c.HouseID,
					ModuleID:          c.ModuleID,
				})

				return err
			})),
		servicebus.BindCommand[envelope.DeleteDevice](b, cbus.CommandHandlerFunc[envelope.DeleteDevice](
			func(ctx context.Context, c envelope.DeleteDevice) error {
				return store.DeleteDevice(ctx, c.DeviceID)
			})),
		servicebus.BindCommand[envelope.AddModule](b, cbus.CommandHandlerFunc[envelope.AddModule](
			func(ctx context.Context, c envelope.AddModule) error {
				_, err := store.InsertModule(ctx, storage.NewModule{SerialNumber: c.SerialNumber, Name: c.Name, UserID: c.UserID})
				return err
			})),
		servicebus.BindCommand[envelope.UpdateModule](b, cbus.CommandHandlerFunc[envelope.UpdateModule](
			func(ctx context.Context, c envelope.UpdateModule) error {
				_, err := store.UpdateModule(ctx, c.ModuleID, storage.ModulePatch{Name: c.Name, Status: c.Status, HouseID: c.HouseID})
				return err
			})),
		servicebus.BindCommand[envelope.DeleteModule](b, cbus.CommandHandlerFunc[envelope.DeleteModule](
			func(ctx context.Context, c envelope.DeleteModule) error {
				return store.DeleteModule(ctx, c.ModuleID)
			})),
	}

	for _, err := range binds {
		if err != nil {
			return fmt.Errorf("devices register: %w", err)
		}
	}

	return nil
}
