//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"log/slog"

	"github.com/buke/cogbridge"
)

// ChannelOption holds specific configurations for the V8 channel.
type ChannelOption struct {
	Transport cogbridge.Transport
}

// Option configures a Channel before its isolate is created.
type Option func(c *Channel) error

// WithTransport selects the envelope shape the runtime posts. The default is
// cogbridge.TransportTuple.
func WithTransport(t cogbridge.Transport) Option {
	return func(c *Channel) error {
		switch t {
		case cogbridge.TransportObject, cogbridge.TransportTuple:
			c.Option.Transport = t
			return nil
		default:
			return fmt.Errorf("unsupported transport %d", t)
		}
	}
}

// WithLogger sets the logger for channel diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}
