// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/buke/cogbridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// ScriptSource is the source name of scripts submitted through RunScript.
const ScriptSource = "cogbridge://script"

// DefaultUserAgent is exposed as navigator.userAgent unless the host configures one.
const DefaultUserAgent = "Mozilla/5.0 (Linux) cogbridge/goja"

// Channel implements cogbridge.ContentChannel on Goja runtimes.
// Every load gets a fresh runtime owned by its own event loop; scripts and
// inbound deliveries run as jobs of the current document's loop.
type Channel struct {
	Option *ChannelOption // Channel configuration options.

	name   string
	config *cogbridge.Config
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	doc     *document
	sink    cogbridge.ChannelSink
	onClose func(*Channel)
}

// document is one runtime and the event loop that owns it.
type document struct {
	loop    *eventloop.EventLoop
	vm      *goja.Runtime // Only touched on the loop goroutine
	printer *consolePrinter
	retired atomic.Bool
}

// NewChannel creates a Goja content channel for a view configured by cfg
// (cogbridge.DefaultConfig when nil) and starts the event loop of its blank
// document.
func NewChannel(name string, cfg *cogbridge.Config, opts ...Option) (*Channel, error) {
	if cfg == nil {
		cfg = cogbridge.DefaultConfig()
	}

	c := &Channel{
		Option: &ChannelOption{
			Transport: cogbridge.TransportObject,
			// Default mapper, can be overridden by user-provided options.
			FieldNameMapper: goja.TagFieldNameMapper("json", true),
		},
		name:   name,
		config: cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	doc, err := c.newDocument()
	if err != nil {
		return nil, err
	}
	c.doc = doc

	c.logger.Debug("Goja channel created",
		"channel", c.name,
		"transport", c.Option.Transport.String())
	return c, nil
}

// newDocument starts an event loop with a fresh runtime carrying the view
// globals and the recorded options.
func (c *Channel) newDocument() (*document, error) {
	registryOpts := []require.Option{}
	if c.config.ModuleDir != "" {
		registryOpts = append(registryOpts, require.WithGlobalFolders(c.config.ModuleDir))
	}
	registry := require.NewRegistry(registryOpts...)

	doc := &document{}
	doc.printer = &consolePrinter{channel: c, doc: doc}
	registry.RegisterNativeModule(consoleModule, newConsoleModule(doc.printer))

	doc.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
		eventloop.EnableConsole(false),
	)
	doc.loop.Start()

	var setupErr error
	done := make(chan struct{})
	doc.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer close(done)
		setupErr = c.setup(doc, vm)
	})
	<-done
	if setupErr != nil {
		doc.loop.Terminate()
		return nil, fmt.Errorf("failed to set up view globals: %w", setupErr)
	}
	return doc, nil
}

// setup installs the view globals: window, the message handler the runtime
// posts to, navigator, the viewport and console. Globals added by options come last.
func (c *Channel) setup(doc *document, vm *goja.Runtime) error {
	doc.vm = vm
	vm.SetFieldNameMapper(c.Option.FieldNameMapper)
	if c.Option.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(c.Option.MaxCallStackSize)
	}
	global := vm.GlobalObject()

	userAgent := c.config.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	handler := vm.NewObject()
	postMessage := func(call goja.FunctionCall) goja.Value {
		return c.postMessage(doc, call)
	}
	if err := handler.Set("postMessage", postMessage); err != nil {
		return err
	}
	handlers := vm.NewObject()
	if err := handlers.Set("cogbridge", handler); err != nil {
		return err
	}
	webkit := vm.NewObject()
	if err := webkit.Set("messageHandlers", handlers); err != nil {
		return err
	}
	navigator := vm.NewObject()
	if err := navigator.Set("userAgent", userAgent); err != nil {
		return err
	}

	for key, value := range map[string]interface{}{
		"window":      global,
		"self":        global,
		"webkit":      webkit,
		"navigator":   navigator,
		"innerWidth":  c.config.Width,
		"innerHeight": c.config.Height,
	} {
		if err := global.Set(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}

	if err := installConsole(vm, doc.printer); err != nil {
		return err
	}
	for _, g := range c.Option.Globals {
		if err := vm.Set(g.Name, g.Value); err != nil {
			return fmt.Errorf("failed to set global %s: %w", g.Name, err)
		}
	}
	return nil
}

// retire stops a replaced document once the jobs already queued on it have run.
// Its timers are cleared and its console and messages are dropped from now on.
func (doc *document) retire() {
	doc.retired.Store(true)
	go doc.loop.Terminate()
}

// runSync runs fn on the current document's loop and waits for it. It must not
// be called from that loop.
func (c *Channel) runSync(fn func(vm *goja.Runtime)) {
	c.mu.RLock()
	loop := c.doc.loop
	c.mu.RUnlock()

	done := make(chan struct{})
	if !loop.RunOnLoop(func(vm *goja.Runtime) {
		defer close(done)
		fn(vm)
	}) {
		return
	}
	<-done
}

// post queues job on the current document unless the channel is closed.
func (c *Channel) post(job func(vm *goja.Runtime)) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	return c.doc.loop.RunOnLoop(job)
}

func (c *Channel) currentSink() cogbridge.ChannelSink {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sink
}

// Loop returns the event loop of the current document.
func (c *Channel) Loop() *eventloop.EventLoop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc.loop
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

// postMessage is window.webkit.messageHandlers.cogbridge.postMessage. The
// envelope is delivered as a separate loop job, after the posting script returns.
// Messages of a replaced document are dropped.
func (c *Channel) postMessage(doc *document, call goja.FunctionCall) goja.Value {
	if doc.retired.Load() {
		return goja.Undefined()
	}
	var (
		env *cogbridge.CallEnvelope
		err error
	)
	switch c.Option.Transport {
	case cogbridge.TransportTuple:
		env, err = cogbridge.NewTupleEnvelope(
			call.Argument(0).String(),
			call.Argument(1).String(),
			call.Argument(2).String())
	default:
		obj, ok := call.Argument(0).Export().(map[string]interface{})
		if !ok {
			err = fmt.Errorf("%w: message is not an object", cogbridge.ErrMalformedEnvelope)
			break
		}
		env, err = cogbridge.EnvelopeFromObject(obj)
	}
	if err != nil {
		c.logger.Warn("Dropped malformed message",
			"channel", c.name,
			"error", err)
		return goja.Undefined()
	}

	doc.loop.RunOnLoop(func(*goja.Runtime) {
		if doc.retired.Load() {
			return
		}
		if sink := c.currentSink(); sink != nil {
			sink.OnCall(env)
		}
	})
	return goja.Undefined()
}

// Load reads the requested document, replaces the runtime with a fresh one and
// runs the prelude and the document scripts in a single loop job, then signals
// the sink. A document that cannot be read leaves the current runtime in place.
func (c *Channel) Load(req *cogbridge.LoadRequest) {
	if req == nil {
		return
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	fail := func(err error) {
		if !c.post(func(*goja.Runtime) {
			if sink := c.currentSink(); sink != nil {
				sink.OnLoadFailed(req.Seq, err)
			}
		}) {
			if sink := c.currentSink(); sink != nil {
				sink.OnLoadFailed(req.Seq, cogbridge.ErrChannelClosed)
			}
		}
	}

	if closed {
		fail(cogbridge.ErrChannelClosed)
		return
	}

	doc, err := cogbridge.ReadDocument(req)
	if err != nil {
		fail(err)
		return
	}
	next, err := c.newDocument()
	if err != nil {
		fail(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		next.loop.Terminate()
		fail(cogbridge.ErrChannelClosed)
		return
	}
	prev := c.doc
	c.doc = next
	next.loop.RunOnLoop(func(vm *goja.Runtime) {
		sink := c.currentSink()
		c.logger.Debug("Running document",
			"channel", c.name,
			"uri", doc.URI,
			"title", doc.Title,
			"scripts", len(doc.Scripts))
		cogbridge.RunDocument(doc, req.Prelude, func(source, code string) error {
			_, err := vm.RunScript(source, code)
			return err
		}, sink)

		if sink != nil {
			sink.OnLoadFinished(req.Seq)
		}
	})
	c.mu.Unlock()

	prev.retire()
}

// RunScript evaluates script on the current document's loop. done receives the
// string rendering of the completion value.
func (c *Channel) RunScript(script string, done cogbridge.ScriptResultFunc) {
	if done == nil {
		done = func(string, error) {}
	}
	queued := c.post(func(vm *goja.Runtime) {
		if c.config.EnableDeveloperExtras {
			c.logger.Debug("Evaluating script",
				"channel", c.name,
				"bytes", len(script))
		}
		value, err := vm.RunScript(ScriptSource, script)
		if err != nil {
			done("", err)
			return
		}
		done(renderValue(value), nil)
	})
	if !queued {
		done("", cogbridge.ErrChannelClosed)
	}
}

func renderValue(v goja.Value) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// Close runs the jobs already queued, then stops the event loop and clears its timers.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.onClose
	doc := c.doc
	c.mu.Unlock()

	// Every job posted before closed was set runs before this barrier.
	c.runSync(func(*goja.Runtime) {})
	doc.retired.Store(true)
	doc.loop.Terminate()

	if onClose != nil {
		onClose(c)
	}
	c.logger.Debug("Goja channel closed", "channel", c.name)
	return nil
}

// Backend creates Goja shells. A Goja view renders nothing, so one backend can
// serve every platform.
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
	platform string
	closed   bool
	channels map[*Channel]struct{}
}

// Setup accepts any platform.
func (s *Shell) Setup(platform string) error {
	s.mu.Lock()
	s.platform = platform
	s.mu.Unlock()
	return nil
}

// Platform returns the platform passed to Setup.
func (s *Shell) Platform() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.platform
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
