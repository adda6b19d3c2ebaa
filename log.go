package widgets

import "go.uber.org/zap"

// logger receives all package diagnostics: hydration warnings, mount-point
// errors, and development-mode serializability complaints. Diagnostics are
// discarded until SetLogger is called.
var logger = zap.NewNop()

// SetLogger installs the logger used for package diagnostics.
// Passing nil restores the no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}
