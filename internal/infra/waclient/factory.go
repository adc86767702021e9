package waclient

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"

	"wabridge/internal/ports"
	"wabridge/platform/logger"
)

// DeviceBinder maps account keys to the transport device each key is bound
// to, so a restored account reconnects with its existing credentials.
type DeviceBinder interface {
	GetDeviceJID(ctx context.Context, key string) (string, error)
	SetDeviceJID(ctx context.Context, key, jid string) error
}

// Factory mints transport handles backed by one shared credential container.
type Factory struct {
	container *sqlstore.Container
	devices   DeviceBinder
	logger    *logger.Logger
}

func NewFactory(db *sql.DB, driver string, devices DeviceBinder, log *logger.Logger) (*Factory, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	if devices == nil {
		return nil, fmt.Errorf("device binder cannot be nil")
	}

	container := sqlstore.NewWithDB(db, driver, newWALogger(log))
	if container == nil {
		return nil, fmt.Errorf("sqlstore.NewWithDB returned nil")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("failed to upgrade credential store schema: %w", err)
	}

	return &Factory{
		container: container,
		devices:   devices,
		logger:    log.WithModule("waclient"),
	}, nil
}

// NewClient implements ports.ClientFactory. Every call returns a fresh
// handle; the engine never reuses a closed one.
func (f *Factory) NewClient(key string) (ports.ProtocolClient, error) {
	deviceStore := f.deviceStoreFor(key)
	if deviceStore == nil {
		return nil, fmt.Errorf("failed to resolve device store for %s", key)
	}

	wa := whatsmeow.NewClient(deviceStore, newWALogger(f.logger))
	if wa == nil {
		return nil, fmt.Errorf("whatsmeow.NewClient returned nil")
	}
	// Reconnect scheduling belongs to the instance lifecycle, not the
	// transport.
	wa.EnableAutoReconnect = false

	return newClient(key, wa, f.devices, f.logger), nil
}

// deviceStoreFor loads the device previously bound to the key, falling back
// to a fresh unregistered device when none is bound or loading fails.
func (f *Factory) deviceStoreFor(key string) *store.Device {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jid, err := f.devices.GetDeviceJID(ctx, key)
	if err != nil || jid == "" {
		return f.container.NewDevice()
	}

	parsed, err := types.ParseJID(jid)
	if err != nil {
		f.logger.WithError(err).WarnWithFields("stored device jid is invalid", map[string]interface{}{
			"instance_key": key,
		})
		return f.container.NewDevice()
	}

	device, err := f.container.GetDevice(ctx, parsed)
	if err != nil || device == nil {
		f.logger.WarnWithFields("bound device not found in credential store", map[string]interface{}{
			"instance_key": key,
			"device_jid":   jid,
		})
		return f.container.NewDevice()
	}
	return device
}
