// Package common defines sentinel errors shared by the gateway packages.
// Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Session lifecycle errors.
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")

	// Recipient address is not registered on the messaging network.
	ErrInvalidAddress = errors.New("address is not registered")

	// Stored ciphertext does not have the iv:ciphertext shape.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)
