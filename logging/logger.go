// Copyright 2024 openterms
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging provides logging utilities.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
)

type loggerKey struct{}

// New will initialise a new structured logger, logging at the desired level.
// If the requested level doesn't exist, it panics.
// If humanReadable is set, it will use the coloured tint handler, if not, it
// will use JSON.
func New(requestedLevel string, humanReadable bool) *slog.Logger {
	var level slog.Level
	switch requestedLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		panic("unknown log level")
	}

	var handler slog.Handler
	handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})
	if humanReadable {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			AddSource: true,
			Level:     level,
		})
	}

	return slog.New(handler)
}

// Inject returns a context with the given logger injected.
func Inject(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Extract returns the logger contained in the context, or the default logger
// if the context doesn't contain one.
func Extract(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// InjectLabels adds the given key/value pairs to the context logger, and
// returns both the new context and the amended logger.
func InjectLabels(ctx context.Context, kv ...any) (context.Context, *slog.Logger) {
	logger := Extract(ctx).With(kv...)
	return Inject(ctx, logger), logger
}
