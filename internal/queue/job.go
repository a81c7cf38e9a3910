package queue

import (
	"encoding/json"
	"fmt"
)

// Kind tags the payload stored with a job.
type Kind string

const (
	KindDirectSend            Kind = "direct_send"
	KindBulkSend              Kind = "bulk_send"
	KindEmailOTP              Kind = "email_otp"
	KindEmailDisconnectNotice Kind = "email_disconnect_notice"
)

// Payload is implemented by DirectSend, BulkSend, EmailOTP and
// EmailDisconnectNotice.
type Payload interface {
	Kind() Kind
	// GroupKey labels the stored job with the device or channel it belongs
	// to. The rate limit applies to the whole queue regardless of group.
	GroupKey() string
}

// DirectSend sends one text message. With UseWeb the send is recorded in
// the message history.
type DirectSend struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	To       string `json:"to"`
	Message  string `json:"message"`
	UseWeb   bool   `json:"use_web"`
}

// BulkSend is one item of a bulk campaign.
type BulkSend struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	To       string `json:"to"`
	Message  string `json:"message"`
	UseWeb   bool   `json:"use_web"`
	Index    int    `json:"index"`
}

type OTPPurpose string

const (
	OTPRegister     OTPPurpose = "register"
	OTPLogin        OTPPurpose = "login"
	OTPRemoveDevice OTPPurpose = "remove_device"
)

type EmailOTP struct {
	To      string     `json:"to"`
	Code    string     `json:"code"`
	Purpose OTPPurpose `json:"purpose"`
}

// EmailDisconnectNotice tells a device owner the device went offline.
type EmailDisconnectNotice struct {
	To          string `json:"to"`
	DeviceName  string `json:"device_name"`
	PhoneNumber string `json:"phone_number"`
}

func (DirectSend) Kind() Kind            { return KindDirectSend }
func (BulkSend) Kind() Kind              { return KindBulkSend }
func (EmailOTP) Kind() Kind              { return KindEmailOTP }
func (EmailDisconnectNotice) Kind() Kind { return KindEmailDisconnectNotice }

func (p DirectSend) GroupKey() string          { return p.DeviceID }
func (p BulkSend) GroupKey() string            { return p.DeviceID }
func (EmailOTP) GroupKey() string              { return "email" }
func (EmailDisconnectNotice) GroupKey() string { return "email" }

// Job is a claimed queue entry handed to a Handler. Attempt starts at 1.
type Job struct {
	ID          string
	Queue       string
	Payload     Payload
	Attempt     int
	MaxAttempts int
}

func encodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindDirectSend:
		var p DirectSend
		err := json.Unmarshal(data, &p)
		return p, err
	case KindBulkSend:
		var p BulkSend
		err := json.Unmarshal(data, &p)
		return p, err
	case KindEmailOTP:
		var p EmailOTP
		err := json.Unmarshal(data, &p)
		return p, err
	case KindEmailDisconnectNotice:
		var p EmailDisconnectNotice
		err := json.Unmarshal(data, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
}
