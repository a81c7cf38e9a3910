package models

import "time"

// Job is a persisted dispatch queue entry.
type Job struct {
	ID          string
	Queue       string
	Kind        string
	GroupKey    string
	Payload     []byte
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string
	CreatedAt   time.Time
}
