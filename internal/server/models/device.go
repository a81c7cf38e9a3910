package models

import "time"

// DeviceStatus is the connection status persisted on the device row and
// broadcast to listeners.
type DeviceStatus string

const (
	DeviceDisconnected  DeviceStatus = "disconnected"
	DeviceSynchronizing DeviceStatus = "synchronizing"
	DeviceWaitForAuth   DeviceStatus = "wait_for_auth"
	DeviceAuthenticated DeviceStatus = "authenticated"
	DeviceConnected     DeviceStatus = "connected"
)

// Device is a user-owned messaging identity.
type Device struct {
	ID          string
	UserID      string
	Name        string
	PhoneNumber string
	APIKey      string
	Status      DeviceStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeviceOwner is what status side effects need to notify the owner.
type DeviceOwner struct {
	DeviceID    string
	Name        string
	PhoneNumber string
	Email       string
}
