//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/buke/cogbridge"
	"github.com/buke/cogbridge/engines/internal/shim"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
)

// ScriptSource is the source name of scripts submitted through RunScript.
const ScriptSource = "cogbridge://script"

// DefaultUserAgent is exposed as navigator.userAgent unless the host configures one.
const DefaultUserAgent = "Mozilla/5.0 (Linux) cogbridge/v8"

// postFunction is the native the shim reports entries to, as JSON text.
const postFunction = "__cogbridgePost"

// Channel implements cogbridge.ContentChannel on a V8 isolate. The isolate is
// bound to the loop goroutine; every load replaces the context, so each
// document starts from a fresh realm.
type Channel struct {
	// Iso is the V8 Isolate, representing a single-threaded VM instance.
	// It must only be used from jobs posted to Loop.
	Iso *v8go.Isolate

	// Ctx is the V8 Context of the current document.
	Ctx *v8go.Context

	// Loop runs every job touching Iso and Ctx.
	Loop *cogbridge.Loop

	// Option holds the channel configuration.
	Option *ChannelOption

	name   string
	config *cogbridge.Config
	logger *slog.Logger
	global *v8go.ObjectTemplate

	mu      sync.RWMutex
	closed  bool
	sink    cogbridge.ChannelSink
	onClose func(*Channel)
}

// NewChannel creates a V8 content channel for a view configured by cfg
// (cogbridge.DefaultConfig when nil) and starts its loop.
func NewChannel(name string, cfg *cogbridge.Config, opts ...Option) (*Channel, error) {
	if cfg == nil {
		cfg = cogbridge.DefaultConfig()
	}
	c := &Channel{
		Option: &ChannelOption{Transport: cogbridge.TransportTuple},
		name:   name,
		config: cfg,
		logger: slog.Default(),
	}

	// Apply user-provided options
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	c.Loop = cogbridge.NewLoop("v8:"+name, c.logger)
	if err := c.Loop.Start(c.init, c.teardown); err != nil {
		return nil, err
	}
	return c, nil
}

// init creates the isolate and the first context on the loop goroutine.
func (c *Channel) init() error {
	iso := v8NewIsolate()
	if iso == nil {
		return fmt.Errorf("failed to create v8 isolate")
	}
	c.Iso = iso

	c.global = v8go.NewObjectTemplate(iso)
	post := v8go.NewFunctionTemplate(iso, c.onPost)
	if err := c.global.Set(postFunction, post); err != nil {
		iso.Dispose()
		c.Iso = nil
		return fmt.Errorf("failed to define %s: %w", postFunction, err)
	}

	if err := c.newContext(); err != nil {
		iso.Dispose()
		c.Iso = nil
		return err
	}
	return nil
}

// newContext replaces the current context with a fresh one carrying the shim.
func (c *Channel) newContext() error {
	if c.Ctx != nil {
		c.Ctx.Close()
		c.Ctx = nil
	}
	ctx := v8NewContext(c.Iso, c.global)
	if ctx == nil {
		return fmt.Errorf("failed to create v8 context")
	}
	script := shim.Script("function (e) { "+postFunction+"(JSON.stringify(e)); }", c.config, DefaultUserAgent)
	if _, err := ctx.RunScript(script, shim.Source); err != nil {
		ctx.Close()
		return fmt.Errorf("failed to install view globals: %w", err)
	}
	c.Ctx = ctx
	return nil
}

func (c *Channel) teardown() {
	if c.Ctx != nil {
		c.Ctx.Close()
		c.Ctx = nil
	}
	if c.Iso != nil {
		c.Iso.Dispose()
		c.Iso = nil
	}
}

// onPost receives shim entries while a script runs.
func (c *Channel) onPost(info *v8go.FunctionCallbackInfo) *v8go.Value {
	args := info.Args()
	if len(args) == 0 {
		return nil
	}
	env, msg, err := shim.DecodeJSON(args[0].String())
	if err != nil {
		c.logger.Warn("Dropped malformed message",
			"channel", c.name,
			"error", err)
		return nil
	}
	shim.Deliver(c.currentSink(), env, msg, func(job func()) {
		c.post(job)
	})
	return nil
}

// post queues job unless the channel is closed.
func (c *Channel) post(job func()) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	return c.Loop.Post(job)
}

func (c *Channel) currentSink() cogbridge.ChannelSink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sink
}

// evaluate runs code and then the microtasks it queued.
func (c *Channel) evaluate(source, code string) (*v8go.Value, error) {
	if c.Ctx == nil {
		return nil, cogbridge.ErrChannelClosed
	}
	value, err := c.Ctx.RunScript(code, source)
	c.Ctx.PerformMicrotaskCheckpoint()
	return value, err
}

// Name returns the view name the channel was created for.
func (c *Channel) Name() string {
	return c.name
}

// Transport reports the envelope shape the runtime posts.
func (c *Channel) Transport() cogbridge.Transport {
	return c.Option.Transport
}

// Attach registers the sink receiving calls, console messages and load signals.
func (c *Channel) Attach(sink cogbridge.ChannelSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Load replaces the context, then runs the prelude and the document scripts.
func (c *Channel) Load(req *cogbridge.LoadRequest) {
	if req == nil {
		return
	}
	queued := c.post(func() {
		sink := c.currentSink()
		fail := func(err error) {
			if sink != nil {
				sink.OnLoadFailed(req.Seq, err)
			}
		}

		doc, err := cogbridge.ReadDocument(req)
		if err != nil {
			fail(err)
			return
		}
		if err := c.newContext(); err != nil {
			fail(err)
			return
		}

		cogbridge.RunDocument(doc, req.Prelude, func(source, code string) error {
			_, err := c.evaluate(source, code)
			return err
		}, sink)
		if sink != nil {
			sink.OnLoadFinished(req.Seq)
		}
	})
	if !queued {
		if sink := c.currentSink(); sink != nil {
			sink.OnLoadFailed(req.Seq, cogbridge.ErrChannelClosed)
		}
	}
}

// RunScript evaluates script in the current context.
func (c *Channel) RunScript(script string, done cogbridge.ScriptResultFunc) {
	if done == nil {
		done = func(string, error) {}
	}
	queued := c.post(func() {
		if c.config.EnableDeveloperExtras {
			c.logger.Debug("Evaluating script",
				"channel", c.name,
				"bytes", len(script))
		}
		value, err := c.evaluate(ScriptSource, script)
		if err != nil {
			done("", err)
			return
		}
		if value == nil {
			done("", nil)
			return
		}
		done(value.String(), nil)
	})
	if !queued {
		done("", cogbridge.ErrChannelClosed)
	}
}

// Close runs the jobs already queued, then releases the context and isolate.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()

	c.Loop.Stop()
	if onClose != nil {
		onClose(c)
	}
	c.logger.Debug("V8 channel closed", "channel", c.name)
	return nil
}

// Backend creates V8 shells. A V8 view renders nothing, so one backend can serve
// every platform.
type Backend struct {
	opts []Option
}

// NewBackend returns a backend whose channels are created with opts.
func NewBackend(opts ...Option) *Backend {
	return &Backend{opts: opts}
}

// NewShell implements cogbridge.Backend.
func (b *Backend) NewShell(cfg *cogbridge.Config) (cogbridge.Shell, error) {
	return &Shell{config: cfg, opts: b.opts, channels: make(map[*Channel]struct{})}, nil
}

// Shell tracks the channels of a host.
type Shell struct {
	config *cogbridge.Config
	opts   []Option

	mu       sync.Mutex
	closed   bool
	channels map[*Channel]struct{}
}

// Setup accepts any platform.
func (s *Shell) Setup(string) error {
	return nil
}

// NewChannel implements cogbridge.Shell.
func (s *Shell) NewChannel(name string) (cogbridge.ContentChannel, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, cogbridge.ErrChannelClosed
	}

	c, err := NewChannel(name, s.config, s.opts...)
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
