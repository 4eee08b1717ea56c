// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

//go:embed runtime.js
var runtimeScript string

// DefaultBridgeName is used when a bridge is created without a name.
const DefaultBridgeName = "cogbridge"

// reservedNames are members of the scripted runtime that a proxy would overwrite.
var reservedNames = map[string]bool{
	"call": true, "on": true, "off": true,
	"_emit": true, "_resolveCall": true, "_resolveCallById": true, "_pending": true,
	"_callbacks": true, "_eventListeners": true,
}

// Bridge binds one content channel to a function registry and the dispatch,
// script execution, event and console machinery around it.
type Bridge struct {
	name    string
	channel ContentChannel
	logger  *slog.Logger

	resolveMode   ResolveMode
	enableConsole bool

	registry  *registry
	pending   *pendingTable
	readiness *readiness

	mu             sync.Mutex
	closed         bool
	consoleHandler ConsoleHandler
	onClose        func(*Bridge)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger of the bridge. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithResolveMode selects how call results are matched to pending scripted calls.
func WithResolveMode(mode ResolveMode) Option {
	return func(b *Bridge) {
		b.resolveMode = mode
	}
}

// WithConsoleHandler installs a console handler at construction.
func WithConsoleHandler(h ConsoleHandler) Option {
	return func(b *Bridge) {
		b.consoleHandler = h
	}
}

// WithConsoleEnabled enables or disables console routing. It is enabled by default.
func WithConsoleEnabled(enabled bool) Option {
	return func(b *Bridge) {
		b.enableConsole = enabled
	}
}

// NewBridge creates a bridge over channel and attaches to it. The bridge owns the
// channel from then on and closes it in Close.
func NewBridge(name string, channel ContentChannel, opts ...Option) (*Bridge, error) {
	if channel == nil {
		return nil, fmt.Errorf("content channel cannot be nil")
	}
	if name == "" {
		name = DefaultBridgeName
	}

	b := &Bridge{
		name:          name,
		channel:       channel,
		logger:        slog.Default(),
		resolveMode:   ResolveByID,
		enableConsole: true,
		registry:      newRegistry(),
		readiness:     newReadiness(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pending = newPendingTable(b.logger)

	channel.Attach(&bridgeSink{bridge: b})

	b.logger.Info("Bridge created",
		"bridge", b.name,
		"transport", channel.Transport().String(),
		"resolveMode", b.resolveMode.String())
	return b, nil
}

// Name returns the diagnostic name of the bridge.
func (b *Bridge) Name() string {
	return b.name
}

// ResolveMode returns the resolution mode of the bridge.
func (b *Bridge) ResolveMode() ResolveMode {
	return b.resolveMode
}

// Channel returns the content channel the bridge was built over.
func (b *Bridge) Channel() ContentChannel {
	return b.channel
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Bind registers handler under name, replacing any previous handler (whose
// release runs once it is no longer dispatching), and defines the scripted proxy
// window.cogbridge[name] in the current document. Later documents receive the
// proxy at document start. release may be nil; when it is and handler implements
// Releaser, handler.Release is used.
//
// Names of runtime members (call, on, off and the underscored internals) are
// rejected with ErrReservedName, since the proxy would replace the member that
// dispatch and events rely on.
func (b *Bridge) Bind(name string, handler Handler, release func()) error {
	if name == "" {
		return ErrEmptyFunctionName
	}
	if handler == nil {
		return ErrNilHandler
	}
	if reservedNames[name] {
		return fmt.Errorf("%w: %s", ErrReservedName, name)
	}

	if !b.registry.bind(newBoundFunction(name, handler, release)) {
		return ErrBridgeClosed
	}
	b.channel.RunScript(proxyScript(name), b.logScriptError("bind", name))

	b.logger.Info("Bound function",
		"bridge", b.name,
		"name", name)
	return nil
}

// BindFunc is Bind for a plain function.
func (b *Bridge) BindFunc(name string, fn func(b *Bridge, env *CallEnvelope) string, release func()) error {
	if fn == nil {
		return ErrNilHandler
	}
	return b.Bind(name, HandlerFunc(fn), release)
}

// Unbind removes the named function and its scripted proxy. Unbinding a name that
// is not bound does nothing.
func (b *Bridge) Unbind(name string) {
	if name == "" || b.isClosed() {
		return
	}
	if !b.registry.unbind(name) {
		return
	}
	b.channel.RunScript(fmt.Sprintf("delete window.cogbridge[%s];", jsString(name)), b.logScriptError("unbind", name))

	b.logger.Info("Unbound function",
		"bridge", b.name,
		"name", name)
}

// Functions returns the bound function names in lexical order.
func (b *Bridge) Functions() []string {
	return b.registry.names()
}

// LoadURI starts loading uri. The bridge is not ready until the load finishes.
func (b *Bridge) LoadURI(uri string) error {
	if uri == "" {
		return ErrEmptyURI
	}
	if err := b.load(&LoadRequest{URI: uri}); err != nil {
		return err
	}
	b.logger.Info("Loading URI",
		"bridge", b.name,
		"uri", uri)
	return nil
}

// LoadHTML starts loading literal document content. baseURI resolves relative
// script sources and may be empty.
func (b *Bridge) LoadHTML(html, baseURI string) error {
	if err := b.load(&LoadRequest{HTML: html, BaseURI: baseURI}); err != nil {
		return err
	}
	b.logger.Info("Loading HTML content",
		"bridge", b.name,
		"bytes", len(html))
	return nil
}

func (b *Bridge) load(req *LoadRequest) error {
	if b.isClosed() {
		return ErrBridgeClosed
	}
	req.Seq = b.readiness.beginLoad()
	req.Prelude = b.prelude()
	b.channel.Load(req)
	return nil
}

// prelude is the document-start script: the scripted runtime followed by a proxy
// for every bound function.
func (b *Bridge) prelude() string {
	var sb strings.Builder
	sb.WriteString(runtimeScript)
	fmt.Fprintf(&sb, "(globalThis, %s);\n", jsString(b.channel.Transport().String()))
	for _, name := range b.registry.names() {
		sb.WriteString(proxyScript(name))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func proxyScript(name string) string {
	quoted := jsString(name)
	return fmt.Sprintf("window.cogbridge[%s] = function(...args) { return window.cogbridge.call(%s, ...args); };", quoted, quoted)
}

// logScriptError returns a result callback that logs failures of internal scripts.
func (b *Bridge) logScriptError(op, name string) ScriptResultFunc {
	return func(_ string, err error) {
		if err != nil {
			b.logger.Debug("Bridge script failed",
				"bridge", b.name,
				"op", op,
				"name", name,
				"error", err)
		}
	}
}

// Close tears the bridge down: later calls are dropped, every bound function is
// released (a function still dispatching is released when it returns), pending
// script executions complete as failed, and the channel is closed. Close must not
// be called from a handler. It is safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	console := b.consoleHandler
	b.consoleHandler = nil
	onClose := b.onClose
	b.mu.Unlock()

	b.logger.Info("Freeing bridge", "bridge", b.name)

	b.registry.close()
	if n := b.pending.failAll(); n > 0 {
		b.logger.Debug("Failed pending scripts on close",
			"bridge", b.name,
			"count", n)
	}
	releaseConsoleHandler(console)

	err := b.channel.Close()
	if onClose != nil {
		onClose(b)
	}
	if err != nil {
		return fmt.Errorf("failed to close content channel: %w", err)
	}
	return nil
}

// bridgeSink receives channel events on behalf of a bridge.
type bridgeSink struct {
	bridge *Bridge
}

func (s *bridgeSink) OnCall(env *CallEnvelope) {
	s.bridge.dispatch(env)
}

func (s *bridgeSink) OnConsoleMessage(msg *ConsoleMessage) {
	s.bridge.routeConsole(msg)
}

func (s *bridgeSink) OnLoadFinished(seq uint64) {
	b := s.bridge
	if !b.readiness.finish(seq) {
		b.logger.Debug("Ignored stale load signal",
			"bridge", b.name,
			"seq", seq)
		return
	}
	b.logger.Info("Page loaded and ready", "bridge", b.name)
}

func (s *bridgeSink) OnLoadFailed(seq uint64, err error) {
	s.bridge.logger.Warn("Page load failed",
		"bridge", s.bridge.name,
		"seq", seq,
		"error", err)
}
