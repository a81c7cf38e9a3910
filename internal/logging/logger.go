// Package logging is the structured logging facade of the gateway. Every
// component takes a Logger and derives a child with its module name and,
// for per-device work, the device id.
package logging

import "context"

// Logger logs a message with alternating key/value attributes:
//
//	log.Info(ctx, "session opened", "device_id", id, "status", status)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a logger that adds args to every record.
	With(args ...any) Logger
}
