package wa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

const (
	pairClientName = "Chrome (Linux)"
	eventBuffer    = 64
)

type conn struct {
	deviceID string
	cli      *whatsmeow.Client
	logger   logging.Logger
	mapper   mapper

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	events chan transport.Event
	done   chan struct{}
	once   sync.Once
}

func newConn(deviceID string, cli *whatsmeow.Client, logger logging.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		deviceID: deviceID,
		cli:      cli,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan transport.Event, eventBuffer),
		done:     make(chan struct{}),
	}
}

func (c *conn) Events() <-chan transport.Event {
	return c.events
}

func (c *conn) emit(ev transport.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// handle runs on the library's event goroutine.
func (c *conn) handle(evt any) {
	for _, ev := range c.mapper.mapEvent(evt) {
		c.emit(ev)
	}
}

// pumpQR forwards login challenges. A timeout of the challenge sequence is
// reported as a lost connection.
func (c *conn) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			c.emit(transport.ConnectionUpdate{QR: item.Code})
		case "error":
			c.emit(transport.ConnectionUpdate{State: transport.StateClose, Reason: transport.ReasonBadSession, Err: item.Error})
		case "timeout":
			c.emit(transport.ConnectionUpdate{State: transport.StateClose, Reason: transport.ReasonConnectionLost})
		}
	}
}

func (c *conn) SendText(ctx context.Context, to, text string) (string, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", to, err)
	}
	resp, err := c.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *conn) CheckAddress(ctx context.Context, phone string) (string, error) {
	digits := phoneDigits(phone)
	if digits == "" {
		return "", nil
	}
	resp, err := c.cli.IsOnWhatsApp(ctx, []string{"+" + digits})
	if err != nil {
		return "", err
	}
	for _, r := range resp {
		if r.IsIn {
			return r.JID.String(), nil
		}
	}
	return "", nil
}

func (c *conn) RejectCall(ctx context.Context, callID, from string) error {
	jid, err := types.ParseJID(from)
	if err != nil {
		return fmt.Errorf("parse caller %q: %w", from, err)
	}
	return c.cli.RejectCall(ctx, jid, callID)
}

func (c *conn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return c.cli.PairPhone(ctx, phoneDigits(phone), true, whatsmeow.PairClientChrome, pairClientName)
}

func (c *conn) Logout(ctx context.Context) error {
	err := c.cli.Logout(ctx)
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return nil
	}
	return err
}

func (c *conn) End(reason error) {
	c.once.Do(func() {
		if reason != nil {
			c.logger.Info(c.ctx, "ending connection", "reason", reason)
		}
		close(c.done)
		c.cancel()
		c.cli.RemoveEventHandlers()
		c.cli.Disconnect()

		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
}

// phoneDigits keeps only the digits of a phone number.
func phoneDigits(phone string) string {
	if at := strings.IndexByte(phone, '@'); at >= 0 {
		phone = phone[:at]
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
}
