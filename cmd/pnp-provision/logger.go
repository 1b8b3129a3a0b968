// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// newLogger builds the logrus logger described by cfg
func newLogger(cfg LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %q", cfg.Level)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	default:
		return nil, fmt.Errorf("invalid log format: %q (must be text or json)", cfg.Format)
	}
	return logger, nil
}

// logrusAdapter implements pnp.Logger on top of logrus
type logrusAdapter struct {
	entry *logrus.Entry
}

func newLogrusAdapter(logger *logrus.Logger) *logrusAdapter {
	return &logrusAdapter{entry: logrus.NewEntry(logger).WithField("component", "pnp")}
}

func (a *logrusAdapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
	a.with(ctx, keysAndValues).Debug(msg)
}

func (a *logrusAdapter) Info(ctx context.Context, msg string, keysAndValues ...any) {
	a.with(ctx, keysAndValues).Info(msg)
}

func (a *logrusAdapter) Warn(ctx context.Context, msg string, keysAndValues ...any) {
	a.with(ctx, keysAndValues).Warn(msg)
}

func (a *logrusAdapter) Error(ctx context.Context, msg string, keysAndValues ...any) {
	a.with(ctx, keysAndValues).Error(msg)
}

func (a *logrusAdapter) with(ctx context.Context, keysAndValues []any) *logrus.Entry {
	return a.entry.WithContext(ctx).WithFields(toFields(keysAndValues))
}

// toFields pairs up keys and values; a trailing key gets "<MISSING>"
func toFields(keysAndValues []any) logrus.Fields {
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 < len(keysAndValues) {
			fields[key] = keysAndValues[i+1]
		} else {
			fields[key] = "<MISSING>"
		}
	}
	return fields
}
