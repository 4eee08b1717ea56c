// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"
	"sync"

	"github.com/buke/cogbridge"
)

// Backend implements cogbridge.Backend for QuickJS. A QuickJS view renders
// nothing, so one backend can serve every platform.
type Backend struct {
	options []Option
}

// NewBackend creates a QuickJS backend whose channels are built with options.
func NewBackend(options ...Option) *Backend {
	return &Backend{options: options}
}

// NewShell creates a shell for the host configuration.
func (b *Backend) NewShell(cfg *cogbridge.Config) (cogbridge.Shell, error) {
	return &Shell{config: cfg, options: b.options, channels: make(map[*Channel]struct{})}, nil
}

// Shell tracks the channels of a host.
type Shell struct {
	config  *cogbridge.Config
	options []Option

	mu       sync.Mutex
	closed   bool
	channels map[*Channel]struct{}
}

// Setup accepts any platform.
func (s *Shell) Setup(string) error {
	return nil
}

// NewChannel builds a channel with the backend options.
func (s *Shell) NewChannel(name string) (cogbridge.ContentChannel, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, cogbridge.ErrChannelClosed
	}

	c, err := NewChannel(name, s.config, s.options...)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.onClose = s.forget
	c.mu.Unlock()

	s.mu.Lock()
	s.channels[c] = struct{}{}
	s.mu.Unlock()
	return c, nil
}

func (s *Shell) forget(c *Channel) {
	s.mu.Lock()
	delete(s.channels, c)
	s.mu.Unlock()
}

// Close closes every channel still open.
func (s *Shell) Close() error {
	s.mu.Lock()
	s.closed = true
	channels := make([]*Channel, 0, len(s.channels))
	for c := range s.channels {
		channels = append(channels, c)
	}
	s.mu.Unlock()

	for _, c := range channels {
		if err := c.Close(); err != nil {
			return fmt.Errorf("failed to close channel %s: %w", c.name, err)
		}
	}
	return nil
}
