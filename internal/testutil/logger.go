// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package testutil provides test helpers shared across packages.
package testutil

import (
	"log/slog"
	"strings"

	. "gopkg.in/check.v1"
)

// NewLogger returns a debug level logger that writes to the gocheck log of
// c. The log is shown only when the test fails or with -check.v.
func NewLogger(c *C) *slog.Logger {
	return slog.New(slog.NewTextHandler(logWriter{c}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type logWriter struct {
	c *C
}

func (w logWriter) Write(p []byte) (int, error) {
	w.c.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
