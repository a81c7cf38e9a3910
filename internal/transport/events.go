package transport

import (
	"encoding/json"
	"strconv"
)

type ConnectionState int

const (
	StateUnknown ConnectionState = iota
	StateConnecting
	StateOpen
	StateClose
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClose:
		return "close"
	default:
		return "unknown"
	}
}

// DisconnectReason is the status code attached to a close.
type DisconnectReason int

const (
	ReasonNone                DisconnectReason = 0
	ReasonLoggedOut           DisconnectReason = 401
	ReasonForbidden           DisconnectReason = 403
	ReasonConnectionLost      DisconnectReason = 408
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonBadSession          DisconnectReason = 500
	ReasonUnavailableService  DisconnectReason = 503
	ReasonRestartRequired     DisconnectReason = 515
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonMultideviceMismatch:
		return "multidevice_mismatch"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonUnavailableService:
		return "unavailable_service"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return strconv.Itoa(int(r))
	}
}

// Event is one of CredsUpdated, ConnectionUpdate, IncomingCall or
// MessageStatus.
type Event interface {
	isEvent()
}

// CredsUpdated carries a new primary credential blob that must be persisted
// before the connection proceeds.
type CredsUpdated struct {
	Creds json.RawMessage
}

// ConnectionUpdate reports a lifecycle change. QR is set when the network
// issues a login challenge. Reason is meaningful only with StateClose.
type ConnectionUpdate struct {
	State      ConnectionState
	QR         string
	IsNewLogin bool
	Reason     DisconnectReason
	Err        error
}

type IncomingCall struct {
	ID   string
	From string
}

// MessageStatus reports a delivery status code (0..5) for a sent message.
type MessageStatus struct {
	SendID string
	Code   int
}

func (CredsUpdated) isEvent()     {}
func (ConnectionUpdate) isEvent() {}
func (IncomingCall) isEvent()     {}
func (MessageStatus) isEvent()    {}
