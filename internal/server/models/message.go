package models

import "time"

// MessageStatus is the delivery status of a sent message. Values are ordered;
// a stored status only ever moves forward.
type MessageStatus string

const (
	MessageError    MessageStatus = "error"
	MessagePending  MessageStatus = "pending"
	MessageInServer MessageStatus = "in_server"
	MessageDelivery MessageStatus = "delivery"
	MessageRead     MessageStatus = "read"
	MessagePlayed   MessageStatus = "played"
)

// indexed by the transport's numeric status code
var messageStatusOrder = []MessageStatus{
	MessageError,
	MessagePending,
	MessageInServer,
	MessageDelivery,
	MessageRead,
	MessagePlayed,
}

// MessageStatusFromCode maps a transport status code (0..5) to a status.
func MessageStatusFromCode(code int) (MessageStatus, bool) {
	if code < 0 || code >= len(messageStatusOrder) {
		return "", false
	}
	return messageStatusOrder[code], true
}

// Rank returns the position of s in the delivery order, or -1.
func (s MessageStatus) Rank() int {
	for i, v := range messageStatusOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Advances reports whether moving from s to next goes forward.
func (s MessageStatus) Advances(next MessageStatus) bool {
	r := next.Rank()
	return r >= 0 && r > s.Rank()
}

// Message is a history row for a message sent through the web flow.
type Message struct {
	ID          string
	DeviceID    string
	UserID      string
	SendID      string
	PhoneNumber string
	Name        string
	Body        string
	Status      MessageStatus
	CreatedAt   time.Time
}
