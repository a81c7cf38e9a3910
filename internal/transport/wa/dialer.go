// Package wa implements the transport capability on top of the whatsmeow
// multi-device client.
package wa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types/events"
)

var (
	errNoKeyStore        = errors.New("auth state has no key store")
	errAlreadyLoggedOut  = errors.New("device already logged out")
	errConnectionDropped = errors.New("connection dropped before login")
)

// Dialer builds clients whose keys live in the gateway's encrypted auth
// store. The library's own database only holds the shared LID mapping.
type Dialer struct {
	container *sqlstore.Container
	lids      store.LIDStore
	logger    logging.Logger
}

// NewDialer opens the library's database. dialect is "pgx" for PostgreSQL
// or "sqlite" for a local file.
func NewDialer(ctx context.Context, dialect, dsn string, logger logging.Logger) (*Dialer, error) {
	logger = logger.With("module", "wa")
	container, err := sqlstore.New(ctx, dialect, dsn, NewLogger(logger.With("wa_module", "store")))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	return &Dialer{container: container, lids: container.LIDMap, logger: logger}, nil
}

func (d *Dialer) Dial(ctx context.Context, deviceID string, auth transport.AuthState) (transport.Conn, error) {
	logger := d.logger.With("device_id", deviceID)

	sink := &credsSink{}
	device, err := d.device(ctx, auth, sink, logger)
	if err != nil {
		return nil, err
	}

	cli := whatsmeow.NewClient(device, NewLogger(logger.With("wa_module", "client")))
	cli.EnableAutoReconnect = false

	c := newConn(deviceID, cli, logger)
	sink.publish = func(raw json.RawMessage) {
		c.emit(transport.CredsUpdated{Creds: raw})
	}
	cli.AddEventHandler(c.handle)

	if cli.Store.ID == nil {
		qr, err := cli.GetQRChannel(c.ctx)
		if err != nil {
			c.End(err)
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qr)
	}

	c.emit(transport.ConnectionUpdate{State: transport.StateConnecting})
	if err := cli.Connect(); err != nil {
		c.End(err)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

// device rebuilds the device from its credentials, or generates a fresh
// one when there are none yet. Every per-device store is backed by the
// auth key store.
func (d *Dialer) device(ctx context.Context, auth transport.AuthState, sink *credsSink, logger logging.Logger) (*store.Device, error) {
	if auth.Keys == nil {
		return nil, errNoKeyStore
	}

	var device *store.Device
	creds, err := decodeCredentials(auth.Creds)
	switch {
	case errors.Is(err, errNoKeyMaterial):
		device = freshDevice()
	case err != nil:
		logger.Warn(ctx, "unreadable credentials, starting a new login", "error", err)
		device = freshDevice()
	default:
		if device, err = creds.device(); err != nil {
			logger.Warn(ctx, "unreadable credentials, starting a new login", "error", err)
			device = freshDevice()
		}
	}

	keys := newKeyStore(auth.Keys)
	device.SetAllStores(&store.NoopStore{})
	device.Identities = keys
	device.Sessions = keys
	device.PreKeys = keys
	device.SenderKeys = keys
	device.AppStateKeys = keys
	device.AppState = keys
	device.LIDs = d.lids
	if device.LIDs == nil {
		device.LIDs = &store.NoopStore{}
	}
	device.Container = sink
	device.Log = NewLogger(logger.With("wa_module", "device"))
	device.Initialized = true
	return device, nil
}

// Forget connects long enough to unlink a paired device. Credentials that
// never completed pairing need no server round trip.
func (d *Dialer) Forget(ctx context.Context, deviceID string, auth transport.AuthState) error {
	creds, err := decodeCredentials(auth.Creds)
	if err != nil || creds.JID == "" {
		return nil
	}
	logger := d.logger.With("device_id", deviceID)

	device, err := d.device(ctx, auth, &credsSink{}, logger)
	if err != nil {
		return err
	}
	cli := whatsmeow.NewClient(device, NewLogger(logger.With("wa_module", "client")))
	cli.EnableAutoReconnect = false

	ready := make(chan error, 1)
	signal := func(err error) {
		select {
		case ready <- err:
		default:
		}
	}
	cli.AddEventHandler(func(evt any) {
		switch e := evt.(type) {
		case *events.Connected:
			signal(nil)
		case *events.LoggedOut:
			signal(errAlreadyLoggedOut)
		case *events.ConnectFailure:
			if e.Reason.IsLoggedOut() {
				signal(errAlreadyLoggedOut)
				return
			}
			signal(fmt.Errorf("connect failure: %s", e.Reason))
		case *events.Disconnected:
			signal(errConnectionDropped)
		}
	})
	defer cli.Disconnect()

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	select {
	case err := <-ready:
		if errors.Is(err, errAlreadyLoggedOut) {
			return nil
		}
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := cli.Logout(ctx); err != nil && !errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("logout: %w", err)
	}
	logger.Info(ctx, "device unlinked")
	return nil
}

func (d *Dialer) Close() error {
	return d.container.Close()
}
