//go:build windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"

	"github.com/buke/cogbridge"
	gojaengine "github.com/buke/cogbridge/engines/goja"
	quickjsengine "github.com/buke/cogbridge/engines/quickjs-go"
)

func engineNames() string {
	return "goja, quickjs"
}

// newBackend returns the backend of the named script engine.
func newBackend(engine string, logger *slog.Logger) (cogbridge.Backend, error) {
	switch engine {
	case "goja":
		return gojaengine.NewBackend(gojaengine.WithLogger(logger)), nil
	case "quickjs":
		return quickjsengine.NewBackend(quickjsengine.WithLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
}
