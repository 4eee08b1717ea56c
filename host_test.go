// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// mockShell is a simple Shell handing out fake channels.
type mockShell struct {
	mu          sync.Mutex
	platform    string   // Platform passed to Setup
	setupCalled bool     // Whether Setup was called
	closeCalled int      // Number of Close calls
	names       []string // Names passed to NewChannel

	setupErr   error // Error to return from Setup
	channelErr error // Error to return from NewChannel
	closeErr   error // Error to return from Close
}

// Setup records the platform.
func (s *mockShell) Setup(platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCalled = true
	s.platform = platform
	return s.setupErr
}

// NewChannel returns a new fake channel.
func (s *mockShell) NewChannel(name string) (ContentChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channelErr != nil {
		return nil, s.channelErr
	}
	s.names = append(s.names, name)
	return newFakeChannel(), nil
}

// Close counts calls.
func (s *mockShell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalled++
	return s.closeErr
}

// mockBackend returns a Backend serving shell and recording the config it saw.
func mockBackend(shell *mockShell, seen **Config) Backend {
	return BackendFunc(func(cfg *Config) (Shell, error) {
		if seen != nil {
			*seen = cfg
		}
		return shell, nil
	})
}

func newTestHost(opts ...HostOption) *Host {
	logger, _ := newTestLogger()
	return NewHost(append([]HostOption{WithHostLogger(logger)}, opts...)...)
}

// TestHost_Init tests successful initialization and platform resolution.
func TestHost_Init(t *testing.T) {
	shell := &mockShell{}
	var seen *Config
	h := newTestHost(WithBackend("drm", mockBackend(shell, &seen)))

	if h.Initialized() {
		t.Fatal("host initialized before Init")
	}
	if h.Config() != nil || h.Platform() != "" {
		t.Error("config or platform set before Init")
	}

	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !h.Initialized() {
		t.Error("host not initialized after Init")
	}
	if h.Platform() != "drm" || shell.platform != "drm" {
		t.Errorf("platform = %q, shell platform = %q, want drm", h.Platform(), shell.platform)
	}
	if seen == nil || seen.Width != 1920 {
		t.Errorf("backend saw config %+v, want defaults", seen)
	}

	// Config returns a copy.
	cfg := h.Config()
	cfg.Width = 1
	if h.Config().Width != 1920 {
		t.Error("Config leaked internal state")
	}
}

// TestHost_InitCopiesConfig tests that later changes to the caller's config are not observed.
func TestHost_InitCopiesConfig(t *testing.T) {
	shell := &mockShell{}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))

	cfg := DefaultConfig()
	cfg.Platform = PlatformHeadless
	if err := h.Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cfg.Width = 10
	if h.Config().Width != 1920 {
		t.Error("host observed caller mutation")
	}
	if h.Platform() != "headless" {
		t.Errorf("platform = %q, want headless", h.Platform())
	}
}

// TestHost_InitErrors tests every initialization failure reason.
func TestHost_InitErrors(t *testing.T) {
	setupErr := errors.New("no display")
	shellErr := errors.New("out of memory")

	tests := []struct {
		name       string
		backend    Backend
		cfg        *Config
		reason     InitReason
		sentinel   error
		cause      error
		shellClose int
	}{
		{
			name:     "platform unavailable",
			backend:  nil,
			cfg:      &Config{Platform: PlatformWayland},
			reason:   ReasonPlatformUnavailable,
			sentinel: ErrPlatformUnavailable,
		},
		{
			name: "shell creation failed",
			backend: BackendFunc(func(*Config) (Shell, error) {
				return nil, shellErr
			}),
			reason:   ReasonShellCreationFailed,
			sentinel: ErrShellCreationFailed,
			cause:    shellErr,
		},
		{
			name: "nil shell",
			backend: BackendFunc(func(*Config) (Shell, error) {
				return nil, nil
			}),
			reason:   ReasonShellCreationFailed,
			sentinel: ErrShellCreationFailed,
		},
		{
			name:       "setup failed",
			backend:    mockBackend(&mockShell{setupErr: setupErr}, nil),
			reason:     ReasonPlatformSetupFailed,
			sentinel:   ErrPlatformSetupFailed,
			cause:      setupErr,
			shellClose: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []HostOption
			if tt.backend != nil {
				opts = append(opts, WithBackend("drm", tt.backend))
			}
			h := newTestHost(opts...)

			err := h.Init(tt.cfg)
			var initErr *InitError
			if !errors.As(err, &initErr) {
				t.Fatalf("expected *InitError, got %v", err)
			}
			if initErr.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", initErr.Reason, tt.reason)
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("error %v is not %v", err, tt.sentinel)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error %v does not wrap %v", err, tt.cause)
			}
			if h.Initialized() {
				t.Error("host initialized after failure")
			}
			if mb, ok := tt.backend.(BackendFunc); ok && tt.shellClose > 0 {
				shell, _ := mb(nil)
				if got := shell.(*mockShell).closeCalled; got != tt.shellClose {
					t.Errorf("shell closed %d times, want %d", got, tt.shellClose)
				}
			}
		})
	}
}

// TestHost_InitTwice tests that a second Init fails until Cleanup.
func TestHost_InitTwice(t *testing.T) {
	shell := &mockShell{}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))

	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	err := h.Init(nil)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}

	if err := h.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if h.Initialized() || h.Config() != nil {
		t.Error("host still initialized after Cleanup")
	}
	if err := h.Init(nil); err != nil {
		t.Fatalf("re-Init failed: %v", err)
	}
}

// TestHost_NewBridge tests bridge creation and the options the host applies.
func TestHost_NewBridge(t *testing.T) {
	shell := &mockShell{}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))

	if _, err := h.NewBridge("early"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.EnableConsole = false
	if err := h.Init(cfg); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	b, err := h.NewBridge("", WithResolveMode(ResolveByName))
	if err != nil {
		t.Fatalf("NewBridge failed: %v", err)
	}
	if b.Name() != DefaultBridgeName {
		t.Errorf("name = %q, want %q", b.Name(), DefaultBridgeName)
	}
	if b.ResolveMode() != ResolveByName {
		t.Errorf("resolve mode = %s", b.ResolveMode())
	}
	if b.enableConsole {
		t.Error("console enabled despite host config")
	}
	if len(shell.names) != 1 || shell.names[0] != DefaultBridgeName {
		t.Errorf("channel names = %v", shell.names)
	}
	if h.Bridges() != 1 {
		t.Errorf("Bridges = %d, want 1", h.Bridges())
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if h.Bridges() != 0 {
		t.Errorf("Bridges = %d after Close, want 0", h.Bridges())
	}
}

// TestHost_NewBridgeChannelError tests that channel creation failures are returned.
func TestHost_NewBridgeChannelError(t *testing.T) {
	shell := &mockShell{channelErr: errors.New("no view")}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))
	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := h.NewBridge("x"); !errors.Is(err, shell.channelErr) {
		t.Fatalf("expected channel error, got %v", err)
	}
	if h.Bridges() != 0 {
		t.Errorf("Bridges = %d, want 0", h.Bridges())
	}
}

// TestHost_RunQuit tests that Quit ends Run and a later Run blocks again.
func TestHost_RunQuit(t *testing.T) {
	h := newTestHost(WithBackendForAll(mockBackend(&mockShell{}, nil)))
	if err := h.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		done := make(chan error, 1)
		go func() { done <- h.Run(context.Background()) }()

		select {
		case err := <-done:
			t.Fatalf("Run returned before Quit: %v", err)
		case <-time.After(20 * time.Millisecond):
		}

		h.Quit()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Run did not return after Quit")
		}
	}
}

// TestHost_RunContext tests that Run returns when its context is done.
func TestHost_RunContext(t *testing.T) {
	h := newTestHost(WithBackendForAll(mockBackend(&mockShell{}, nil)))
	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

// TestHost_Cleanup tests that Cleanup closes bridges and the shell.
func TestHost_Cleanup(t *testing.T) {
	shell := &mockShell{}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))

	// Cleanup before Init is a no-op.
	if err := h.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	released := 0
	var bridges []*Bridge
	for _, name := range []string{"a", "b"} {
		b, err := h.NewBridge(name)
		if err != nil {
			t.Fatalf("NewBridge failed: %v", err)
		}
		if err := b.BindFunc("f", greetHandler, func() { released++ }); err != nil {
			t.Fatalf("BindFunc failed: %v", err)
		}
		bridges = append(bridges, b)
	}

	if err := h.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if released != 2 {
		t.Errorf("released %d functions, want 2", released)
	}
	for _, b := range bridges {
		if !b.isClosed() {
			t.Errorf("bridge %s not closed", b.Name())
		}
		if b.Channel().(*fakeChannel).closed != 1 {
			t.Errorf("channel of %s not closed", b.Name())
		}
	}
	if shell.closeCalled != 1 {
		t.Errorf("shell closed %d times, want 1", shell.closeCalled)
	}
	if h.Bridges() != 0 {
		t.Errorf("Bridges = %d, want 0", h.Bridges())
	}
}

// TestHost_CleanupShellError tests that a shell close failure is returned.
func TestHost_CleanupShellError(t *testing.T) {
	shell := &mockShell{closeErr: errors.New("busy")}
	h := newTestHost(WithBackendForAll(mockBackend(shell, nil)))
	if err := h.Init(nil); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := h.Cleanup(); !errors.Is(err, shell.closeErr) {
		t.Errorf("expected close error, got %v", err)
	}
	if h.Initialized() {
		t.Error("host still initialized")
	}
}
