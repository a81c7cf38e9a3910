// Package session supervises one messaging-network connection per device:
// it restores sessions at startup, answers the login challenge, reconnects
// after recoverable disconnects and tears sessions down on logout or
// delete.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/wagate/internal/common"
	"github.com/dmitrijs2005/wagate/internal/counter"
	"github.com/dmitrijs2005/wagate/internal/logging"
	"github.com/dmitrijs2005/wagate/internal/notify"
	"github.com/dmitrijs2005/wagate/internal/queue"
	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/wagate/internal/transport"
)

var ErrManagerClosed = errors.New("session manager is shut down")

const (
	disconnectNoticePrefix = "disconnect_notice:"
	forgetTimeout          = 30 * time.Second
)

// CredentialStore persists per-device auth state.
type CredentialStore interface {
	Load(ctx context.Context, deviceID string) transport.AuthState
	SaveCreds(ctx context.Context, deviceID string, creds json.RawMessage) error
	RemoveAll(ctx context.Context, deviceID string) error
	DeviceIDs(ctx context.Context) ([]string, error)
}

// Notifier pushes lifecycle events to listeners of a device.
type Notifier interface {
	Emit(event, deviceID string, data any)
}

// Enqueuer schedules background jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, p queue.Payload, opts ...queue.EnqueueOption) (string, error)
}

type Config struct {
	ReconnectDelay time.Duration
	// ChallengeTimeout bounds the time from dial to an open session. Zero
	// disables it.
	ChallengeTimeout time.Duration
	// DisconnectNoticeWindow is the minimum time between two disconnect
	// emails for the same device.
	DisconnectNoticeWindow time.Duration
	QRSize                 int
}

type Deps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Store    CredentialStore
	Dialer   transport.Dialer
	Table    *Table
	Backoff  *Backoff
	Notifier Notifier
	Mail     Enqueuer
	Counter  counter.Store
	Logger   logging.Logger
}

type CreateOptions struct {
	DeviceID       string
	UsePairingCode bool
	PhoneNumber    string
	// Pending receives the challenge or the failure. Nil for restored
	// sessions, which have nobody to show a challenge to.
	Pending *Pending
}

// entry is the supervision slot of a device. It exists from CreateSession
// until teardown, across reconnect attempts.
type entry struct {
	gen   uint64
	opts  CreateOptions
	sup   *supervisor
	timer *time.Timer
}

type Manager struct {
	cfg      Config
	db       *sql.DB
	repos    repomanager.RepositoryManager
	store    CredentialStore
	dialer   transport.Dialer
	table    *Table
	backoff  *Backoff
	notifier Notifier
	mail     Enqueuer
	counter  counter.Store
	logger   logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*entry
	nextGen uint64
	closed  bool
}

func NewManager(cfg Config, deps Deps) *Manager {
	if deps.Table == nil {
		deps.Table = NewTable()
	}
	if deps.Backoff == nil {
		deps.Backoff = NewBackoff(DefaultMaxReconnects)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		db:       deps.DB,
		repos:    deps.Repos,
		store:    deps.Store,
		dialer:   deps.Dialer,
		table:    deps.Table,
		backoff:  deps.Backoff,
		notifier: deps.Notifier,
		mail:     deps.Mail,
		counter:  deps.Counter,
		logger:   deps.Logger.With("module", "session"),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
}

func (m *Manager) Table() *Table { return m.table }

// CreateSession starts supervising a device. The outcome of the first
// challenge or open is delivered through opts.Pending.
func (m *Manager) CreateSession(ctx context.Context, opts CreateOptions) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, ok := m.entries[opts.DeviceID]; ok {
		m.mu.Unlock()
		return common.ErrSessionExists
	}
	m.nextGen++
	e := &entry{gen: m.nextGen, opts: opts}
	m.entries[opts.DeviceID] = e
	m.mu.Unlock()

	m.logger.Info(ctx, "creating session", "device_id", opts.DeviceID, "pairing_code", opts.UsePairingCode)
	go m.attempt(opts.DeviceID, e.gen)
	return nil
}

// SessionExists reports whether the device has an open session.
func (m *Manager) SessionExists(deviceID string) bool {
	return m.table.Exists(deviceID)
}

func (m *Manager) GetSession(deviceID string) (*Handle, bool) {
	return m.table.Get(deviceID)
}

// Supervised reports whether the device has a supervision slot, open or
// not.
func (m *Manager) Supervised(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[deviceID]
	return ok
}

// DeleteSession logs the device out, wipes its credentials and stops
// supervising it.
func (m *Manager) DeleteSession(ctx context.Context, deviceID string) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrManagerClosed
		}
		e, ok := m.entries[deviceID]
		if !ok {
			m.mu.Unlock()
			return common.ErrSessionNotFound
		}
		sup := e.sup
		if sup == nil {
			// Between attempts: no connection to log out through.
			if e.timer != nil {
				e.timer.Stop()
			}
			delete(m.entries, deviceID)
			m.mu.Unlock()
			m.destroyIdle(ctx, deviceID, e)
			return nil
		}
		m.mu.Unlock()

		handled, err := sup.send(ctx, controlDestroy)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}
	}
}

func (m *Manager) destroyIdle(ctx context.Context, deviceID string, e *entry) {
	m.table.Remove(deviceID)

	// unlink from the network before the credentials are gone
	if auth := m.store.Load(ctx, deviceID); len(auth.Creds) > 0 {
		fctx, cancel := context.WithTimeout(ctx, forgetTimeout)
		if err := m.dialer.Forget(fctx, deviceID, auth); err != nil {
			m.logger.Warn(ctx, "unlinking idle device failed", "device_id", deviceID, "error", err)
		}
		cancel()
	}

	if err := m.store.RemoveAll(ctx, deviceID); err != nil {
		m.logger.Error(ctx, "wiping credentials failed", "device_id", deviceID, "error", err)
	}
	m.backoff.Reset(deviceID)
	e.opts.Pending.Resolve(Result{Code: http.StatusGone, Message: "Session deleted"})
	m.setStatus(ctx, deviceID, nil, models.DeviceDisconnected)
	m.logger.Info(ctx, "session deleted while idle", "device_id", deviceID)
}

// CheckNumber resolves phone through the device's open session. Any failure
// yields ok=false.
func (m *Manager) CheckNumber(ctx context.Context, h *Handle, phone string) (string, bool) {
	addr, err := h.CheckAddress(ctx, phone)
	if err != nil {
		m.logger.Warn(ctx, "number lookup failed", "device_id", h.DeviceID, "error", err)
		return "", false
	}
	if addr == "" {
		return "", false
	}
	return addr, true
}

// Restore starts a session for every device with stored credentials.
func (m *Manager) Restore(ctx context.Context) error {
	ids, err := m.store.DeviceIDs(ctx)
	if err != nil {
		return fmt.Errorf("list stored sessions: %w", err)
	}
	restored := 0
	for _, id := range ids {
		err := m.CreateSession(ctx, CreateOptions{DeviceID: id})
		if errors.Is(err, common.ErrSessionExists) {
			continue
		}
		if err != nil {
			return err
		}
		restored++
	}
	m.logger.Info(ctx, "sessions restored", "count", restored)
	return nil
}

// Shutdown ends every connection without logging out, so the sessions are
// restored on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var sups []*supervisor
	for id, e := range m.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		if e.sup != nil {
			sups = append(sups, e.sup)
		} else {
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	defer m.cancel()
	for _, sup := range sups {
		if _, err := sup.send(ctx, controlShutdown); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) attempt(deviceID string, gen uint64) {
	ctx := m.ctx
	logger := m.logger.With("device_id", deviceID)

	m.mu.Lock()
	e, ok := m.entries[deviceID]
	if !ok || e.gen != gen || m.closed {
		m.mu.Unlock()
		return
	}
	e.timer = nil
	opts := e.opts
	m.mu.Unlock()

	auth := m.store.Load(ctx, deviceID)
	conn, err := m.dialer.Dial(ctx, deviceID, auth)
	if err != nil {
		logger.Error(ctx, "dial failed", "error", err)
		opts.Pending.Resolve(Result{Code: http.StatusBadGateway, Message: "Failed to connect device"})
		m.release(deviceID, gen)
		m.setStatus(ctx, deviceID, nil, models.DeviceDisconnected)
		return
	}

	sup := newSupervisor(m, deviceID, gen, conn, opts, logger)
	m.mu.Lock()
	e, ok = m.entries[deviceID]
	if !ok || e.gen != gen || m.closed {
		m.mu.Unlock()
		conn.End(nil)
		return
	}
	e.sup = sup
	m.mu.Unlock()

	sup.run(ctx)
}

// scheduleReconnect moves the slot to a new generation so any stale timer
// or attempt of the old one becomes a no-op.
func (m *Manager) scheduleReconnect(deviceID string, gen uint64, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[deviceID]
	if !ok || e.gen != gen || m.closed {
		return
	}
	m.nextGen++
	next := m.nextGen
	e.gen = next
	e.sup = nil
	e.timer = time.AfterFunc(delay, func() { m.attempt(deviceID, next) })
}

func (m *Manager) release(deviceID string, gen uint64) {
	m.mu.Lock()
	if e, ok := m.entries[deviceID]; ok && e.gen == gen {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.entries, deviceID)
	}
	m.mu.Unlock()
	m.backoff.Reset(deviceID)
}

func (m *Manager) setStatus(ctx context.Context, deviceID string, h *Handle, status models.DeviceStatus) {
	if h != nil {
		h.setStatus(status)
	}
	m.notifier.Emit(notify.EventConnectionUpdate, deviceID, map[string]any{"status": status})

	owner, err := m.repos.Devices(m.db).UpdateStatus(ctx, deviceID, status)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			m.logger.Debug(ctx, "status update for unknown device", "device_id", deviceID)
			return
		}
		m.logger.Error(ctx, "status update failed", "device_id", deviceID, "status", status, "error", err)
		return
	}
	if status == models.DeviceDisconnected {
		m.noticeDisconnect(ctx, owner)
	}
}

func (m *Manager) noticeDisconnect(ctx context.Context, owner *models.DeviceOwner) {
	if owner == nil || owner.Email == "" || m.mail == nil {
		return
	}
	if m.counter != nil && m.cfg.DisconnectNoticeWindow > 0 {
		n, err := m.counter.Incr(ctx, disconnectNoticePrefix+owner.DeviceID, m.cfg.DisconnectNoticeWindow)
		if err != nil {
			m.logger.Warn(ctx, "disconnect notice throttle failed", "error", err)
		} else if n > 1 {
			return
		}
	}
	_, err := m.mail.Enqueue(ctx, queue.EmailDisconnectNotice{
		To:          owner.Email,
		DeviceName:  owner.Name,
		PhoneNumber: owner.PhoneNumber,
	})
	if err != nil {
		m.logger.Error(ctx, "enqueue disconnect notice failed", "device_id", owner.DeviceID, "error", err)
	}
}

func (m *Manager) updateDelivery(ctx context.Context, deviceID, sendID string, status models.MessageStatus) {
	repo := m.repos.Messages(m.db)
	msg, err := repo.FindBySendID(ctx, deviceID, sendID)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			m.logger.Error(ctx, "delivery lookup failed", "device_id", deviceID, "send_id", sendID, "error", err)
		}
		return
	}
	if !msg.Status.Advances(status) {
		return
	}
	if err := repo.UpdateStatus(ctx, msg.ID, status); err != nil {
		m.logger.Error(ctx, "delivery status update failed", "message_id", msg.ID, "error", err)
	}
}
