//go:build !windows

package logging

import (
	"fmt"
	"log/syslog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func newSyslogLogger(level Level) (*zap.Logger, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "skybus")
	if err != nil {
		return nil, fmt.Errorf("failed to open syslog: %w", err)
	}
	enc := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(enc, zapcore.AddSync(w), level.zapLevel())
	return zap.New(core), nil
}
