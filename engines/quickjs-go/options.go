// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"
	"log/slog"

	"github.com/buke/cogbridge"
)

// ChannelOption holds configuration options for a QuickJS channel.
type ChannelOption struct {
	Transport          cogbridge.Transport `json:"transport"`          // Envelope shape the runtime posts
	Timeout            uint64              `json:"timeout"`            // Script execution timeout in seconds (0 = no timeout)
	MemoryLimit        uint64              `json:"memoryLimit"`        // Memory limit in bytes (0 = no limit)
	GCThreshold        int64               `json:"gcThreshold"`        // GC threshold in bytes (-1 = disable, 0 = default)
	MaxStackSize       uint64              `json:"maxStackSize"`       // Stack size in bytes (0 = default)
	CanBlock           bool                `json:"canBlock"`           // Whether the runtime can block (for async operations)
	EnableModuleImport bool                `json:"enableModuleImport"` // Enable ES6 module import support
	Strip              int                 `json:"strip"`              // Strip level for bytecode compilation
}

// Option configures a Channel. Options run on the loop once the runtime exists.
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

// runtimeOption applies set to the runtime. Options only run on the loop, after
// the runtime is created.
func runtimeOption(name string, set func(c *Channel) error) Option {
	return func(c *Channel) error {
		if c.Runtime == nil {
			return fmt.Errorf("%s: runtime not created", name)
		}
		return set(c)
	}
}

// WithGCThreshold sets the garbage collection threshold for the runtime.
// Use -1 to disable automatic GC, 0 for default, or a positive value for a custom threshold.
func WithGCThreshold(threshold int64) Option {
	return runtimeOption("WithGCThreshold", func(c *Channel) error {
		if threshold < -1 {
			return fmt.Errorf("invalid GC threshold: %d", threshold)
		}
		c.Option.GCThreshold = threshold
		c.Runtime.SetGCThreshold(threshold)
		return nil
	})
}

// WithMemoryLimit sets the memory limit for the JavaScript runtime in bytes.
// If limit is 0, there is no memory limit.
func WithMemoryLimit(limit uint64) Option {
	return runtimeOption("WithMemoryLimit", func(c *Channel) error {
		c.Option.MemoryLimit = limit
		c.Runtime.SetMemoryLimit(limit)
		return nil
	})
}

// WithTimeout sets the script execution timeout in seconds.
// If timeout is 0, there is no timeout.
func WithTimeout(timeout uint64) Option {
	return runtimeOption("WithTimeout", func(c *Channel) error {
		c.Option.Timeout = timeout
		c.Runtime.SetExecuteTimeout(timeout)
		return nil
	})
}

// WithMaxStackSize sets the stack size for the JavaScript runtime in bytes.
// If size is 0, the default stack size is used.
func WithMaxStackSize(size uint64) Option {
	return runtimeOption("WithMaxStackSize", func(c *Channel) error {
		c.Option.MaxStackSize = size
		c.Runtime.SetMaxStackSize(size)
		return nil
	})
}

// WithCanBlock enables or disables blocking operations in the runtime.
func WithCanBlock(canBlock bool) Option {
	return runtimeOption("WithCanBlock", func(c *Channel) error {
		c.Option.CanBlock = canBlock
		c.Runtime.SetCanBlock(canBlock)
		return nil
	})
}

// WithEnableModuleImport enables or disables ES6 module import support.
// Enabling this may have security implications.
func WithEnableModuleImport(enable bool) Option {
	return runtimeOption("WithEnableModuleImport", func(c *Channel) error {
		c.Option.EnableModuleImport = enable
		c.Runtime.SetModuleImport(enable)
		return nil
	})
}

// WithStrip sets the strip level for bytecode compilation.
// 0 = no stripping, higher values strip more debug information. Level 2 drops
// line numbers from console messages.
func WithStrip(strip int) Option {
	return runtimeOption("WithStrip", func(c *Channel) error {
		if strip < 0 || strip > 2 {
			return fmt.Errorf("invalid strip level: %d", strip)
		}
		c.Option.Strip = strip
		c.Runtime.SetStripInfo(strip)
		return nil
	})
}
