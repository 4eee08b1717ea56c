// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"bytes"
	"log/slog"
	"sync"
)

// fakeChannel is a ContentChannel recording every script and load. Script
// callbacks run synchronously unless deferred is set, in which case they wait
// for flush.
type fakeChannel struct {
	mu        sync.Mutex
	transport Transport
	sink      ChannelSink
	scripts   []string
	loads     []*LoadRequest
	closed    int
	closeErr  error
	deferred  bool
	queued    []func()

	// result computes the outcome of a script; nil means ("", nil).
	result func(script string) (string, error)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{}
}

func (c *fakeChannel) Transport() Transport {
	return c.transport
}

func (c *fakeChannel) Attach(sink ChannelSink) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *fakeChannel) Load(req *LoadRequest) {
	c.mu.Lock()
	c.loads = append(c.loads, req)
	c.mu.Unlock()
}

func (c *fakeChannel) RunScript(script string, done ScriptResultFunc) {
	c.mu.Lock()
	if c.closed > 0 {
		c.mu.Unlock()
		if done != nil {
			done("", ErrChannelClosed)
		}
		return
	}
	c.scripts = append(c.scripts, script)
	result := c.result
	deferred := c.deferred
	c.mu.Unlock()

	run := func() {
		out, err := "", error(nil)
		if result != nil {
			out, err = result(script)
		}
		if done != nil {
			done(out, err)
		}
	}
	if deferred {
		c.mu.Lock()
		c.queued = append(c.queued, run)
		c.mu.Unlock()
		return
	}
	run()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return c.closeErr
}

// flushReversed runs the deferred script callbacks in reverse submission order.
func (c *fakeChannel) flushReversed() {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()
	for i := len(queued) - 1; i >= 0; i-- {
		queued[i]()
	}
}

func (c *fakeChannel) allScripts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.scripts...)
}

func (c *fakeChannel) lastScript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.scripts) == 0 {
		return ""
	}
	return c.scripts[len(c.scripts)-1]
}

func (c *fakeChannel) lastLoad() *LoadRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.loads) == 0 {
		return nil
	}
	return c.loads[len(c.loads)-1]
}

func (c *fakeChannel) resetScripts() {
	c.mu.Lock()
	c.scripts = nil
	c.mu.Unlock()
}

func (c *fakeChannel) currentSink() ChannelSink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sink
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// newTestBridge returns a bridge over a fake channel logging into a buffer.
func newTestBridge(opts ...Option) (*Bridge, *fakeChannel, *syncBuffer) {
	ch := newFakeChannel()
	logger, buf := newTestLogger()
	all := append([]Option{WithLogger(logger)}, opts...)
	b, err := NewBridge("test", ch, all...)
	if err != nil {
		panic(err)
	}
	return b, ch, buf
}
