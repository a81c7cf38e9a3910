package models

import "time"

// SessionRecord is one encrypted credential or key entry of a device.
// Data holds "hex(iv):hex(ciphertext)".
type SessionRecord struct {
	DeviceID  string
	Filename  string
	Data      string
	UpdatedAt time.Time
}
