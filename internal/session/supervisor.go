package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/transport"
	"github.com/skip2/go-qrcode"
)

type control int

const (
	controlDestroy control = iota
	controlShutdown
)

// supervisor drives one connection attempt. All commands for a device run
// on its goroutine, so event handling is sequential per device.
type supervisor struct {
	mgr      *Manager
	deviceID string
	gen      uint64
	conn     transport.Conn
	handle   *Handle
	machine  *Machine
	pending  *Pending
	logger   logging.Logger

	control chan control
	done    chan struct{}
}

func newSupervisor(m *Manager, deviceID string, gen uint64, conn transport.Conn, opts CreateOptions, logger logging.Logger) *supervisor {
	cfg := MachineConfig{
		UsePairingCode: opts.UsePairingCode,
		PhoneNumber:    opts.PhoneNumber,
		ReconnectDelay: m.cfg.ReconnectDelay,
	}
	var target ChallengeTarget
	if opts.Pending != nil {
		target = opts.Pending
	}
	return &supervisor{
		mgr:      m,
		deviceID: deviceID,
		gen:      gen,
		conn:     conn,
		handle:   NewHandle(deviceID, conn),
		machine:  NewMachine(deviceID, cfg, m.backoff, target),
		pending:  opts.Pending,
		logger:   logger,
		control:  make(chan control),
		done:     make(chan struct{}),
	}
}

func (s *supervisor) run(ctx context.Context) {
	defer close(s.done)

	var expire <-chan time.Time
	if s.mgr.cfg.ChallengeTimeout > 0 {
		t := time.NewTimer(s.mgr.cfg.ChallengeTimeout)
		defer t.Stop()
		expire = t.C
	}

	events := s.conn.Events()
	for !s.machine.Done() {
		var cmds []Command
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				cmds = s.machine.Closed()
				break
			}
			cmds = s.machine.HandleEvent(ev)
		case c := <-s.control:
			switch c {
			case controlDestroy:
				cmds = s.machine.Destroy()
			case controlShutdown:
				cmds = s.machine.Shutdown()
			}
		case <-expire:
			expire = nil
			cmds = s.machine.Expire()
		}
		s.exec(ctx, cmds)
		if s.machine.State() == StateOpen {
			expire = nil
		}
	}
}

// send hands c to the running attempt and waits for it to finish. It
// returns false if the attempt had already ended.
func (s *supervisor) send(ctx context.Context, c control) (bool, error) {
	select {
	case s.control <- c:
	case <-s.done:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	select {
	case <-s.done:
		return true, nil
	case <-ctx.Done():
		return true, ctx.Err()
	}
}

func (s *supervisor) exec(ctx context.Context, cmds []Command) {
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case PersistCreds:
			if err := s.mgr.store.SaveCreds(ctx, s.deviceID, c.Creds); err != nil {
				s.logger.Error(ctx, "persisting credentials failed", "error", err)
				s.exec(ctx, s.machine.Fail(fmt.Errorf("persist credentials: %w", err)))
				return
			}
		case SetStatus:
			s.mgr.setStatus(ctx, s.deviceID, s.handle, c.Status)
		case RegisterSession:
			s.mgr.table.Put(s.handle)
			s.logger.Info(ctx, "session open")
		case UnregisterSession:
			s.mgr.table.removeHandle(s.handle)
		case ResetBackoff:
			s.mgr.backoff.Reset(s.deviceID)
		case DeliverQR:
			s.deliverQR(ctx, c.Code)
		case DeliverPairingCode:
			s.deliverPairingCode(ctx, c.Phone)
		case Respond:
			s.pending.Resolve(c.Result)
		case RejectCall:
			if err := s.conn.RejectCall(ctx, c.ID, c.From); err != nil {
				s.logger.Warn(ctx, "rejecting call failed", "call_id", c.ID, "error", err)
			}
		case UpdateDelivery:
			s.mgr.updateDelivery(ctx, s.deviceID, c.SendID, c.Status)
		case ScheduleReconnect:
			s.conn.End(nil)
			s.logger.Info(ctx, "reconnect scheduled", "delay", c.Delay,
				"attempt", s.mgr.backoff.Attempts(s.deviceID))
			s.mgr.scheduleReconnect(s.deviceID, s.gen, c.Delay)
		case Teardown:
			s.teardown(ctx, c)
		}
	}
}

func (s *supervisor) deliverQR(ctx context.Context, code string) {
	img, err := renderQR(code, s.mgr.cfg.QRSize)
	if err != nil {
		s.logger.Error(ctx, "rendering qr code failed", "error", err)
		s.pending.Resolve(Result{Code: http.StatusInternalServerError, Message: "Failed to generate QR code"})
		s.mgr.notifier.Emit(notify.EventQRCodeUpdated, s.deviceID, map[string]any{
			"error":   true,
			"message": "Failed to generate QR code",
		})
		return
	}
	s.pending.Resolve(Result{
		OK:      true,
		Code:    http.StatusOK,
		Message: "Generate QR Code Successful!",
		Data:    map[string]any{"image_qrcode": img},
	})
	s.mgr.notifier.Emit(notify.EventQRCodeUpdated, s.deviceID, map[string]any{"qrCode": img})
}

func (s *supervisor) deliverPairingCode(ctx context.Context, phone string) {
	code, err := s.conn.RequestPairingCode(ctx, phone)
	if err != nil {
		s.logger.Error(ctx, "requesting pairing code failed", "error", err)
		s.mgr.notifier.Emit(notify.EventQRCodeUpdated, s.deviceID, map[string]any{
			"error":   true,
			"message": "Failed to request pairing code",
		})
		s.pending.Resolve(Result{Code: http.StatusBadGateway, Message: "Failed to request pairing code"})
		return
	}
	s.pending.Resolve(Result{
		OK:      true,
		Code:    http.StatusOK,
		Message: "Generate pairing code successful",
		Data:    map[string]any{"code": code},
	})
	s.mgr.notifier.Emit(notify.EventNumberUpdated, s.deviceID, map[string]any{"code": code})
}

func (s *supervisor) teardown(ctx context.Context, td Teardown) {
	if td.Logout {
		if err := s.conn.Logout(ctx); err != nil {
			s.logger.Warn(ctx, "logout failed", "error", err)
		}
	}
	s.conn.End(nil)
	s.mgr.table.removeHandle(s.handle)
	if td.Wipe {
		if err := s.mgr.store.RemoveAll(ctx, s.deviceID); err != nil {
			s.logger.Error(ctx, "wiping credentials failed", "error", err)
		}
	}
	s.mgr.release(s.deviceID, s.gen)
	if !td.KeepStatus {
		s.mgr.setStatus(ctx, s.deviceID, s.handle, models.DeviceDisconnected)
	}
	s.logger.Info(ctx, "session ended", "logout", td.Logout, "wipe", td.Wipe)
}

func renderQR(code string, size int) (string, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
