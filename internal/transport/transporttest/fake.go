// Package transporttest provides an in-memory transport for driving the
// session supervisor in tests.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/transport"
)

var ErrEnded = errors.New("connection ended")

type SentMessage struct {
	To   string
	Text string
	ID   string
}

// Conn is a scripted connection. Tests push events with Emit and inspect
// what the code under test did through the accessor methods.
type Conn struct {
	DeviceID string
	Auth     transport.AuthState

	mu          sync.Mutex
	events      chan transport.Event
	closed      bool
	registered  map[string]string
	pairingCode string
	pairingErr  error
	sendErr     error
	sent        []SentMessage
	rejected    []string
	loggedOut   bool
	endReason   error
	nextID      int
}

func NewConn(deviceID string, auth transport.AuthState) *Conn {
	return &Conn{
		DeviceID:    deviceID,
		Auth:        auth,
		events:      make(chan transport.Event, 64),
		registered:  make(map[string]string),
		pairingCode: "ABCD-1234",
	}
}

// Emit queues an event. It reports false once the connection has ended.
func (c *Conn) Emit(ev transport.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events <- ev
	return true
}

// Register makes phone resolvable by CheckAddress.
func (c *Conn) Register(phone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered[phone] = phone + "@s.whatsapp.net"
}

func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *Conn) SetPairingCode(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairingCode = code
}

// SetPairingError makes RequestPairingCode fail with err.
func (c *Conn) SetPairingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairingErr = err
}

func (c *Conn) Events() <-chan transport.Event {
	return c.events
}

func (c *Conn) SendText(ctx context.Context, to, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrEnded
	}
	if c.sendErr != nil {
		return "", c.sendErr
	}
	c.nextID++
	id := fmt.Sprintf("MSG%d", c.nextID)
	c.sent = append(c.sent, SentMessage{To: to, Text: text, ID: id})
	return id, nil
}

func (c *Conn) CheckAddress(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrEnded
	}
	return c.registered[phone], nil
}

func (c *Conn) RejectCall(ctx context.Context, callID, from string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected = append(c.rejected, callID)
	return nil
}

func (c *Conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairingErr != nil {
		return "", c.pairingErr
	}
	return c.pairingCode, nil
}

func (c *Conn) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *Conn) End(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.endReason = reason
	close(c.events)
}

func (c *Conn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

func (c *Conn) Rejected() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.rejected...)
}

func (c *Conn) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Conn) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer hands out a fresh Conn per Dial and publishes it on a channel so a
// test can follow reconnect attempts.
type Dialer struct {
	mu        sync.Mutex
	err       error
	forgetErr error
	setup     func(*Conn)
	dialed    chan *Conn
	count     int
	forgotten []Forgotten
}

// Forgotten records one Forget call.
type Forgotten struct {
	DeviceID string
	Auth     transport.AuthState
}

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Conn, 64)}
}

// SetError makes subsequent Dial calls fail.
func (d *Dialer) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// OnDial runs fn on every new Conn before it is returned.
func (d *Dialer) OnDial(fn func(*Conn)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setup = fn
}

func (d *Dialer) Dial(ctx context.Context, deviceID string, auth transport.AuthState) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.count++
	if d.err != nil {
		return nil, d.err
	}
	c := NewConn(deviceID, auth)
	if d.setup != nil {
		d.setup(c)
	}
	d.dialed <- c
	return c, nil
}

func (d *Dialer) Forget(ctx context.Context, deviceID string, auth transport.AuthState) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgotten = append(d.forgotten, Forgotten{DeviceID: deviceID, Auth: auth})
	return d.forgetErr
}

// SetForgetError makes subsequent Forget calls fail.
func (d *Dialer) SetForgetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forgetErr = err
}

func (d *Dialer) Forgotten() []Forgotten {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Forgotten(nil), d.forgotten...)
}

// Next waits for the next dialed connection, or returns nil after timeout.
func (d *Dialer) Next(timeout time.Duration) *Conn {
	select {
	case c := <-d.dialed:
		return c
	case <-time.After(timeout):
		return nil
	}
}

// Count returns the number of Dial calls so far.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
