// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package volley

import "log/slog"

// Logger is the interface for structured logging used by a Session. It is
// satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger { return slog.Default() }
