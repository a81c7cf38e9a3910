package session

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dmitrijs2005/wagate/internal/server/models"
	"github.com/dmitrijs2005/wagate/internal/transport"
)

// State is the lifecycle position of one supervised session.
type State int

const (
	StateConnecting State = iota
	StateWaitForAuth
	StateOpen
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateWaitForAuth:
		return "wait_for_auth"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Command is a side effect the machine asks its runner to perform, in
// order.
type Command interface {
	isCommand()
}

type (
	PersistCreds struct {
		Creds json.RawMessage
	}
	SetStatus struct {
		Status models.DeviceStatus
	}
	RegisterSession   struct{}
	UnregisterSession struct{}
	ResetBackoff      struct{}
	DeliverQR         struct {
		Code string
	}
	DeliverPairingCode struct {
		Phone string
	}
	Respond struct {
		Result Result
	}
	RejectCall struct {
		ID   string
		From string
	}
	UpdateDelivery struct {
		SendID string
		Status models.MessageStatus
	}
	ScheduleReconnect struct {
		Delay time.Duration
	}
	// Teardown ends the session for good: optional network logout, end of
	// the transport, removal from the table, optional credential wipe and
	// release of the supervision slot.
	Teardown struct {
		Logout     bool
		Wipe       bool
		KeepStatus bool
	}
)

func (PersistCreds) isCommand()       {}
func (SetStatus) isCommand()          {}
func (RegisterSession) isCommand()    {}
func (UnregisterSession) isCommand()  {}
func (ResetBackoff) isCommand()       {}
func (DeliverQR) isCommand()          {}
func (DeliverPairingCode) isCommand() {}
func (Respond) isCommand()            {}
func (RejectCall) isCommand()         {}
func (UpdateDelivery) isCommand()     {}
func (ScheduleReconnect) isCommand()  {}
func (Teardown) isCommand()           {}

// RetryPolicy decides whether another reconnect is allowed for a device.
type RetryPolicy interface {
	Allow(deviceID string) bool
}

// ChallengeTarget is whoever is waiting for the login challenge.
type ChallengeTarget interface {
	Done() bool
}

type MachineConfig struct {
	UsePairingCode bool
	PhoneNumber    string
	ReconnectDelay time.Duration
}

// Machine is the per-attempt lifecycle of a session. It performs no I/O:
// every input returns the commands the runner must execute.
type Machine struct {
	deviceID string
	cfg      MachineConfig
	retry    RetryPolicy
	target   ChallengeTarget

	state           State
	challengeIssued bool
}

func NewMachine(deviceID string, cfg MachineConfig, retry RetryPolicy, target ChallengeTarget) *Machine {
	return &Machine{
		deviceID: deviceID,
		cfg:      cfg,
		retry:    retry,
		target:   target,
		state:    StateConnecting,
	}
}

func (m *Machine) State() State { return m.state }

// Done reports whether this attempt is over, either for good or pending a
// reconnect.
func (m *Machine) Done() bool {
	return m.state == StateTerminated || m.state == StateReconnecting
}

func (m *Machine) HandleEvent(ev transport.Event) []Command {
	if m.Done() {
		return nil
	}
	switch ev := ev.(type) {
	case transport.CredsUpdated:
		return []Command{PersistCreds{Creds: ev.Creds}}
	case transport.ConnectionUpdate:
		return m.onConnection(ev)
	case transport.IncomingCall:
		return []Command{RejectCall{ID: ev.ID, From: ev.From}}
	case transport.MessageStatus:
		status, ok := models.MessageStatusFromCode(ev.Code)
		if !ok {
			return nil
		}
		return []Command{UpdateDelivery{SendID: ev.SendID, Status: status}}
	}
	return nil
}

func (m *Machine) onConnection(u transport.ConnectionUpdate) []Command {
	if u.QR != "" {
		return m.onChallenge(u.QR)
	}
	switch u.State {
	case transport.StateConnecting:
		if m.state != StateConnecting {
			return nil
		}
		return []Command{SetStatus{Status: models.DeviceSynchronizing}}
	case transport.StateOpen:
		status := models.DeviceConnected
		if u.IsNewLogin {
			status = models.DeviceAuthenticated
		}
		m.state = StateOpen
		return []Command{
			ResetBackoff{},
			RegisterSession{},
			SetStatus{Status: status},
			Respond{Result: Result{
				OK:      true,
				Code:    http.StatusOK,
				Message: "Device connected",
				Data:    map[string]any{"status": status},
			}},
		}
	case transport.StateClose:
		return m.onClose(u.Reason)
	}
	return nil
}

func (m *Machine) onChallenge(qr string) []Command {
	if m.state == StateOpen {
		return nil
	}
	if !m.challengeIssued && m.target != nil && !m.target.Done() {
		m.challengeIssued = true
		m.state = StateWaitForAuth
		cmds := []Command{SetStatus{Status: models.DeviceWaitForAuth}}
		if m.cfg.UsePairingCode && m.cfg.PhoneNumber != "" {
			return append(cmds, DeliverPairingCode{Phone: m.cfg.PhoneNumber})
		}
		return append(cmds, DeliverQR{Code: qr})
	}
	// A refreshed challenge means the first one went unanswered, or nobody
	// is waiting for it.
	return m.terminate(http.StatusGatewayTimeout, "Authentication challenge expired",
		Teardown{Logout: true, Wipe: true})
}

func (m *Machine) onClose(reason transport.DisconnectReason) []Command {
	switch reason {
	case transport.ReasonLoggedOut:
		return m.terminate(http.StatusUnauthorized, "Device logged out", Teardown{Wipe: true})
	case transport.ReasonConnectionReplaced:
		return m.terminate(http.StatusConflict, "Connection replaced by another client", Teardown{})
	}

	if !m.retry.Allow(m.deviceID) {
		return m.terminate(http.StatusServiceUnavailable, "Unable to reconnect device", Teardown{})
	}

	m.state = StateReconnecting
	delay := m.cfg.ReconnectDelay
	if reason == transport.ReasonRestartRequired {
		delay = 0
	}
	return []Command{
		UnregisterSession{},
		SetStatus{Status: models.DeviceDisconnected},
		ScheduleReconnect{Delay: delay},
	}
}

// Closed handles the event stream ending without a close update.
func (m *Machine) Closed() []Command {
	if m.Done() {
		return nil
	}
	return m.onClose(transport.ReasonConnectionLost)
}

// Expire handles the challenge deadline passing before the session opened.
func (m *Machine) Expire() []Command {
	if m.Done() || m.state == StateOpen {
		return nil
	}
	return m.terminate(http.StatusGatewayTimeout, "Timed out waiting for authentication",
		Teardown{Wipe: m.state == StateWaitForAuth})
}

// Destroy handles an explicit delete request.
func (m *Machine) Destroy() []Command {
	if m.state == StateTerminated {
		return nil
	}
	return m.terminate(http.StatusGone, "Session deleted", Teardown{Logout: true, Wipe: true})
}

// Shutdown ends the attempt on process stop, keeping credentials so the
// session is restored on the next start.
func (m *Machine) Shutdown() []Command {
	if m.state == StateTerminated {
		return nil
	}
	return m.terminate(http.StatusServiceUnavailable, "Server shutting down", Teardown{KeepStatus: true})
}

// Fail handles a critical runner error such as failing to persist
// credentials.
func (m *Machine) Fail(err error) []Command {
	if m.state == StateTerminated {
		return nil
	}
	return m.terminate(http.StatusInternalServerError, err.Error(), Teardown{})
}

func (m *Machine) terminate(code int, msg string, td Teardown) []Command {
	m.state = StateTerminated
	return []Command{
		Respond{Result: Result{Code: code, Message: msg}},
		td,
	}
}
