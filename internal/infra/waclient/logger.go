package waclient

import (
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wabridge/platform/logger"
)

type waLogger struct {
	logger *logger.Logger
	module string
}

// newWALogger bridges whatsmeow's log interface onto the structured logger.
func newWALogger(log *logger.Logger) waLog.Logger {
	return &waLogger{
		logger: log,
		module: "whatsmeow",
	}
}

func (w *waLogger) Errorf(msg string, args ...interface{}) {
	w.logger.ErrorWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": w.module,
	})
}

func (w *waLogger) Warnf(msg string, args ...interface{}) {
	w.logger.WarnWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": w.module,
	})
}

func (w *waLogger) Infof(msg string, args ...interface{}) {
	w.logger.InfoWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": w.module,
	})
}

func (w *waLogger) Debugf(msg string, args ...interface{}) {
	w.logger.DebugWithFields(fmt.Sprintf(msg, args...), map[string]interface{}{
		"module": w.module,
	})
}

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{
		logger: w.logger,
		module: fmt.Sprintf("%s.%s", w.module, module),
	}
}
