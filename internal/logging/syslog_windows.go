//go:build windows

package logging

import (
	"go.uber.org/zap"
)

// Syslog rerouting is POSIX only; on Windows the flag falls back to the
// standard stderr logger.
func newSyslogLogger(level Level) (*zap.Logger, error) {
	return New(level, false)
}
