package wa

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/wagate/internal/logging"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// waLogger bridges the client library's printf logger onto logging.Logger.
type waLogger struct {
	logger logging.Logger
}

func NewLogger(logger logging.Logger) waLog.Logger {
	return waLogger{logger: logger}
}

func (w waLogger) Debugf(msg string, args ...any) {
	w.logger.Debug(context.Background(), fmt.Sprintf(msg, args...))
}

func (w waLogger) Infof(msg string, args ...any) {
	w.logger.Info(context.Background(), fmt.Sprintf(msg, args...))
}

func (w waLogger) Warnf(msg string, args ...any) {
	w.logger.Warn(context.Background(), fmt.Sprintf(msg, args...))
}

func (w waLogger) Errorf(msg string, args ...any) {
	w.logger.Error(context.Background(), fmt.Sprintf(msg, args...))
}

func (w waLogger) Sub(module string) waLog.Logger {
	return waLogger{logger: w.logger.With("wa_module", module)}
}
