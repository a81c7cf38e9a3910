// Package transport describes the messaging-network connection the session
// supervisor drives. The concrete client lives in transport/wa; tests use
// transport/transporttest.
package transport

import (
	"context"
	"encoding/json"
)

// Conn is one live connection attempt for a device. Events are delivered on
// a single channel in arrival order; the channel is closed once the
// connection has ended for any reason.
type Conn interface {
	Events() <-chan Event

	// SendText delivers a text message and returns the network message id.
	SendText(ctx context.Context, to, text string) (string, error)

	// CheckAddress resolves a phone number to a network address. It returns
	// "" with a nil error when the number is not registered.
	CheckAddress(ctx context.Context, phone string) (string, error)

	RejectCall(ctx context.Context, callID, from string) error

	// RequestPairingCode asks the network for a numeric pairing code bound
	// to phone, used instead of a QR challenge.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// Logout revokes the linked device on the network side.
	Logout(ctx context.Context) error

	// End closes the connection without logging out.
	End(reason error)
}

// Dialer opens a connection for a device using previously stored auth state.
type Dialer interface {
	Dial(ctx context.Context, deviceID string, auth AuthState) (Conn, error)
	// Forget unlinks a device that has no open connection, so the network
	// no longer lists it. A fresh device is a no-op.
	Forget(ctx context.Context, deviceID string, auth AuthState) error
}

// AuthState is what a connection needs to resume: the primary credential
// blob (nil for a fresh device) and access to the device's key material.
type AuthState struct {
	Creds json.RawMessage
	Keys  KeyStore
}

// KeyStore reads and writes key material grouped by category. In Set, a nil
// value removes the entry.
type KeyStore interface {
	Get(ctx context.Context, category string, ids []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, data map[string]map[string]json.RawMessage) error
}
