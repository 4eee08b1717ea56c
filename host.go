// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Host is the process-scoped engine context shared by a set of bridges: the
// configuration, the platform backend and the shell, and the run/quit state of
// the main loop. It is constructed explicitly and passed to whoever needs it.
type Host struct {
	logger   *slog.Logger
	backends map[string]Backend // Platform name to backend

	mu       sync.Mutex
	config   *Config
	platform string
	shell    Shell
	bridges  map[*Bridge]struct{}
	quit     chan struct{}
}

// HostOption configures a Host.
type HostOption func(*Host)

// NewHost creates an uninitialized host.
func NewHost(opts ...HostOption) *Host {
	h := &Host{
		logger:   slog.Default(),
		backends: make(map[string]Backend),
		bridges:  make(map[*Bridge]struct{}),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithHostLogger configures the logger of the host and its bridges.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithBackend registers the backend serving the named platform.
func WithBackend(platform string, backend Backend) HostOption {
	return func(h *Host) {
		if platform != "" && backend != nil {
			h.backends[platform] = backend
		}
	}
}

// WithBackendForAll registers backend for every concrete platform.
func WithBackendForAll(backend Backend) HostOption {
	return func(h *Host) {
		if backend == nil {
			return
		}
		for _, p := range Platforms() {
			h.backends[p.String()] = backend
		}
	}
}

// Init sets the host up for cfg (DefaultConfig when nil): it resolves the
// platform, creates the shell and sets the platform up. Failures are returned as
// *InitError.
func (h *Host) Init(cfg *Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shell != nil {
		return &InitError{Reason: ReasonAlreadyInitialized, Platform: h.platform}
	}

	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		c := *cfg
		cfg = &c
	}
	platform := cfg.ResolvePlatformName()

	backend, ok := h.backends[platform]
	if !ok {
		return &InitError{Reason: ReasonPlatformUnavailable, Platform: platform}
	}

	shell, err := backend.NewShell(cfg)
	if err != nil {
		return &InitError{Reason: ReasonShellCreationFailed, Platform: platform, Err: err}
	}
	if shell == nil {
		return &InitError{Reason: ReasonShellCreationFailed, Platform: platform}
	}

	if err := shell.Setup(platform); err != nil {
		if cerr := shell.Close(); cerr != nil {
			h.logger.Warn("Failed to close shell", "error", cerr)
		}
		return &InitError{Reason: ReasonPlatformSetupFailed, Platform: platform, Err: err}
	}

	h.config = cfg
	h.platform = platform
	h.shell = shell

	h.logger.Info("Host initialized",
		"platform", platform,
		"width", cfg.Width,
		"height", cfg.Height,
		"console", cfg.EnableConsole,
		"developerExtras", cfg.EnableDeveloperExtras,
		"moduleDir", cfg.ModuleDir)
	return nil
}

// Initialized reports whether Init succeeded and Cleanup has not run since.
func (h *Host) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shell != nil
}

// Config returns a copy of the active configuration, or nil before Init.
func (h *Host) Config() *Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.config == nil {
		return nil
	}
	c := *h.config
	return &c
}

// Platform returns the resolved platform name, or "" before Init.
func (h *Host) Platform() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.platform
}

// NewBridge creates a bridge over a new content channel of the shell. Bridge
// options are applied after the host's own (logger, console flag).
func (h *Host) NewBridge(name string, opts ...Option) (*Bridge, error) {
	h.mu.Lock()
	shell := h.shell
	cfg := h.config
	h.mu.Unlock()

	if shell == nil {
		return nil, ErrNotInitialized
	}
	if name == "" {
		name = DefaultBridgeName
	}

	channel, err := shell.NewChannel(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create content channel for %s: %w", name, err)
	}

	all := make([]Option, 0, len(opts)+2)
	all = append(all, WithLogger(h.logger), WithConsoleEnabled(cfg.EnableConsole))
	all = append(all, opts...)

	b, err := NewBridge(name, channel, all...)
	if err != nil {
		_ = channel.Close()
		return nil, err
	}

	h.mu.Lock()
	h.bridges[b] = struct{}{}
	h.mu.Unlock()
	b.mu.Lock()
	b.onClose = h.forget
	b.mu.Unlock()
	return b, nil
}

func (h *Host) forget(b *Bridge) {
	h.mu.Lock()
	delete(h.bridges, b)
	h.mu.Unlock()
}

// Bridges returns the number of open bridges created by the host.
func (h *Host) Bridges() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bridges)
}

// Run blocks until Quit is called or ctx is done. Bridge work proceeds on the
// channels' own loops whether or not Run is active.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.shell == nil {
		h.mu.Unlock()
		return ErrNotInitialized
	}
	quit := h.quit
	h.mu.Unlock()

	h.logger.Info("Starting main loop")
	select {
	case <-quit:
		h.logger.Info("Main loop quit")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Quit makes the active Run return. A later Run blocks again.
func (h *Host) Quit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger.Info("Quitting main loop")
	close(h.quit)
	h.quit = make(chan struct{})
}

// Cleanup closes every open bridge and the shell. The host may be initialized
// again afterwards.
func (h *Host) Cleanup() error {
	h.mu.Lock()
	bridges := make([]*Bridge, 0, len(h.bridges))
	for b := range h.bridges {
		bridges = append(bridges, b)
	}
	h.mu.Unlock()

	for _, b := range bridges {
		if err := b.Close(); err != nil {
			h.logger.Warn("Failed to close bridge",
				"bridge", b.Name(),
				"error", err)
		}
	}

	h.mu.Lock()
	shell := h.shell
	h.shell = nil
	h.config = nil
	h.platform = ""
	h.mu.Unlock()

	if shell == nil {
		return nil
	}
	if err := shell.Close(); err != nil {
		return fmt.Errorf("failed to close shell: %w", err)
	}
	h.logger.Info("Host cleaned up")
	return nil
}
