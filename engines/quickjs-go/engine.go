// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/buke/cogbridge"
	"github.com/buke/cogbridge/engines/internal/shim"
	"github.com/buke/quickjs-go"
)

// ScriptSource is the source name of scripts submitted through RunScript.
const ScriptSource = "cogbridge://script"

// DefaultUserAgent is exposed as navigator.userAgent unless the host configures one.
const DefaultUserAgent = "Mozilla/5.0 (Linux) cogbridge/quickjs"

const (
	outboxInit  = "globalThis.__cogbridgeOutbox = [];"
	outboxPost  = "function (e) { globalThis.__cogbridgeOutbox.push(e); }"
	outboxDrain = "JSON.stringify(globalThis.__cogbridgeOutbox.splice(0))"
)

// Channel implements cogbridge.ContentChannel on a QuickJS runtime.
// The shim reports calls and console output into an outbox array that is
// drained after every evaluation. Every load replaces the context.
type Channel struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance, used on the loop only
	Ctx     *quickjs.Context // QuickJS context of the current document
	Loop    *cogbridge.Loop  // Runs every job touching Runtime and Ctx
	Option  *ChannelOption   // Channel configuration options

	name   string
	config *cogbridge.Config
	logger *slog.Logger
	opts   []Option

	mu      sync.RWMutex
	closed  bool
	sink    cogbridge.ChannelSink
	onClose func(*Channel)
}

// NewChannel creates a QuickJS content channel for a view configured by cfg
// (cogbridge.DefaultConfig when nil). The runtime is created on the loop and
// the options are applied to it there.
func NewChannel(name string, cfg *cogbridge.Config, options ...Option) (*Channel, error) {
	if cfg == nil {
		cfg = cogbridge.DefaultConfig()
	}
	c := &Channel{
		Option: &ChannelOption{
			Transport:    cogbridge.TransportTuple,
			MemoryLimit:  0,  // Default memory limit (no limit)
			GCThreshold:  -1, // Default GC threshold. -1 means no threshold
			Timeout:      0,  // Default timeout (no timeout)
			MaxStackSize: 0,  // Default max stack size
			CanBlock:     false,
			Strip:        1, // Default strip behavior
		},
		name:   name,
		config: cfg,
		logger: slog.Default(),
		opts:   options,
	}

	c.Loop = cogbridge.NewLoop("quickjs:"+name, c.logger)
	if err := c.Loop.Start(c.init, c.teardown); err != nil {
		return nil, err
	}
	return c, nil
}

// init creates the runtime, applies the options and creates the first context.
func (c *Channel) init() error {
	c.Runtime = quickjs.NewRuntime()

	// Apply additional channel options
	for _, option := range c.opts {
		if err := option(c); err != nil {
			c.teardown()
			return fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := c.newContext(); err != nil {
		c.teardown()
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
	ctx := c.Runtime.NewContext()
	script := outboxInit + "\n" + shim.Script(outboxPost, c.config, DefaultUserAgent)
	result := ctx.Eval(script, quickjs.EvalFileName(shim.Source))
	defer result.Free()
	if result.IsException() {
		err := ctx.Exception()
		ctx.Close()
		return fmt.Errorf("failed to install view globals: %w", err)
	}
	c.Ctx = ctx
	return nil
}

// teardown releases the context and the runtime, in that order.
func (c *Channel) teardown() {
	if c.Ctx != nil {
		c.Ctx.Close()
		c.Ctx = nil
	}
	if c.Runtime != nil {
		c.Runtime.Close()
		c.Runtime = nil
	}
}

// evaluate runs code, runs the job queue until it is empty and drains the
// outbox. The completion value is rendered as text.
func (c *Channel) evaluate(source, code string) (string, error) {
	if c.Ctx == nil {
		return "", cogbridge.ErrChannelClosed
	}

	var (
		text string
		err  error
	)
	value := c.Ctx.Eval(code, quickjs.EvalFileName(source))
	if value.IsException() {
		err = c.Ctx.Exception()
	} else {
		text = value.String()
	}
	value.Free()

	c.Ctx.Loop()

	c.drain()
	return text, err
}

// drain delivers every entry the shim queued since the last drain.
func (c *Channel) drain() {
	value := c.Ctx.Eval(outboxDrain, quickjs.EvalFileName(shim.Source))
	defer value.Free()
	if value.IsException() {
		c.logger.Warn("Failed to drain outbox",
			"channel", c.name,
			"error", c.Ctx.Exception())
		return
	}

	var entries [][]string
	if err := json.Unmarshal([]byte(value.String()), &entries); err != nil {
		c.logger.Warn("Failed to decode outbox",
			"channel", c.name,
			"error", err)
		return
	}

	sink := c.currentSink()
	for _, entry := range entries {
		env, msg, err := shim.Decode(entry)
		if err != nil {
			c.logger.Warn("Dropped malformed message",
				"channel", c.name,
				"error", err)
			continue
		}
		shim.Deliver(sink, env, msg, func(job func()) {
			c.post(job)
		})
	}
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
		done(c.evaluate(ScriptSource, script))
	})
	if !queued {
		done("", cogbridge.ErrChannelClosed)
	}
}

// Close runs the jobs already queued, then releases the context and runtime.
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
	c.logger.Debug("QuickJS channel closed", "channel", c.name)
	return nil
}
