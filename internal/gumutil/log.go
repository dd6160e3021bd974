// Copyright The Gumgo Authors
// SPDX-License-Identifier: Apache-2.0

package gumutil

import (
	"context"
	"log/slog"
)

type contextKeyLogger struct{}

// ContextWithLogger returns a copy of ctx carrying logger, retrievable with
// LoggerFromContext. gumgo's slow paths (attach/detach/replace, transaction
// commit, backend selection) thread a logger this way rather than through a
// package-level global, matching how the teacher's build phases carry theirs.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKeyLogger{}, logger)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or
// slog.Default() if ctx carries none (or carries a value of the wrong type).
func LoggerFromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(contextKeyLogger{}).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return logger
}
