// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"
	"log/slog"

	"github.com/buke/cogbridge"
	"github.com/dop251/goja"
)

// ChannelOption holds configuration for a Goja channel. It is applied to the
// runtime of every document the channel loads.
type ChannelOption struct {
	Transport        cogbridge.Transport
	MaxCallStackSize int
	FieldNameMapper  goja.FieldNameMapper
	Globals          []Global
}

// Global is a value defined in every runtime of a channel.
type Global struct {
	Name  string
	Value interface{}
}

// Option configures a Channel. Options run before the first runtime is created.
type Option func(c *Channel) error

// WithTransport selects the envelope shape the runtime posts. The default is
// cogbridge.TransportObject.
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

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(c *Channel) error {
		c.Option.MaxCallStackSize = size
		return nil
	}
}

// WithFieldNameMapper sets the field name mapper for Go-to-JS struct conversions.
// This controls how Go struct field names are exposed in JavaScript.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(c *Channel) error {
		if mapper != nil {
			c.Option.FieldNameMapper = mapper
		}
		return nil
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

// WithGlobal defines a global value in the runtime, e.g. a Go function pages
// may call directly. The value is set again in the runtime of each new document.
func WithGlobal(name string, value interface{}) Option {
	return func(c *Channel) error {
		if name == "" {
			return fmt.Errorf("global name cannot be empty")
		}
		c.Option.Globals = append(c.Option.Globals, Global{Name: name, Value: value})
		return nil
	}
}
