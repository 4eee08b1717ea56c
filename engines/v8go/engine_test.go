//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"errors"
	"testing"
	"time"

	"github.com/buke/cogbridge"
	"github.com/stretchr/testify/require"
	"github.com/tommie/v8go"
)

const waitTimeout = 5 * time.Second

type loadSignal struct {
	seq uint64
	err error
}

// recordingSink captures channel events.
type recordingSink struct {
	calls   chan *cogbridge.CallEnvelope
	console chan *cogbridge.ConsoleMessage
	loads   chan loadSignal
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		calls:   make(chan *cogbridge.CallEnvelope, 16),
		console: make(chan *cogbridge.ConsoleMessage, 16),
		loads:   make(chan loadSignal, 16),
	}
}

func (s *recordingSink) OnCall(env *cogbridge.CallEnvelope)            { s.calls <- env }
func (s *recordingSink) OnConsoleMessage(msg *cogbridge.ConsoleMessage) { s.console <- msg }
func (s *recordingSink) OnLoadFinished(seq uint64)                     { s.loads <- loadSignal{seq: seq} }
func (s *recordingSink) OnLoadFailed(seq uint64, err error)            { s.loads <- loadSignal{seq: seq, err: err} }

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for channel event")
		var zero T
		return zero
	}
}

func newTestChannel(t *testing.T, opts ...Option) (*Channel, *recordingSink) {
	t.Helper()
	c, err := NewChannel("test", nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	sink := newRecordingSink()
	c.Attach(sink)
	return c, sink
}

type outcome struct {
	result string
	err    error
}

func runScript(t *testing.T, c *Channel, script string) (string, error) {
	t.Helper()
	done := make(chan outcome, 1)
	c.RunScript(script, func(result string, err error) {
		done <- outcome{result, err}
	})
	o := receive(t, done)
	return o.result, o.err
}

// TestNewChannel tests the creation of a new V8 channel.
func TestNewChannel(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		c, _ := newTestChannel(t)
		require.NotNil(t, c.Loop)
		require.Equal(t, "test", c.Name())
		require.Equal(t, cogbridge.TransportTuple, c.Transport())
	})

	t.Run("With Failing Option", func(t *testing.T) {
		expectedErr := errors.New("option failed")
		failingOption := func(c *Channel) error {
			return expectedErr
		}
		c, err := NewChannel("test", nil, failingOption)
		require.Error(t, err)
		require.ErrorIs(t, err, expectedErr)
		require.Nil(t, c)
	})
}

// TestNewChannel_Fails tests the failure paths of channel initialization.
func TestNewChannel_Fails(t *testing.T) {
	t.Run("Isolate Creation Fails", func(t *testing.T) {
		// Monkey-patch the function to simulate failure
		originalNewIsolate := v8NewIsolate
		v8NewIsolate = func() *v8go.Isolate {
			return nil
		}
		// Restore the original function after the test
		defer func() {
			v8NewIsolate = originalNewIsolate
		}()

		c, err := NewChannel("test", nil)
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "failed to create v8 isolate")
	})

	t.Run("Context Creation Fails", func(t *testing.T) {
		originalNewContext := v8NewContext
		v8NewContext = func(opt ...v8go.ContextOption) *v8go.Context {
			return nil
		}
		defer func() {
			v8NewContext = originalNewContext
		}()

		c, err := NewChannel("test", nil)
		require.Error(t, err)
		require.Nil(t, c)
		require.Contains(t, err.Error(), "failed to create v8 context")
	})
}

func TestChannel_RunScript(t *testing.T) {
	c, _ := newTestChannel(t)

	result, err := runScript(t, c, "1 + 2")
	require.NoError(t, err)
	require.Equal(t, "3", result)

	_, err = runScript(t, c, "var a =;")
	require.Error(t, err)

	result, err = runScript(t, c, "window === globalThis && typeof navigator.userAgent")
	require.NoError(t, err)
	require.Equal(t, "string", result)

	result, err = runScript(t, c, "innerWidth + 'x' + innerHeight")
	require.NoError(t, err)
	require.Equal(t, "1920x1080", result)
}

func TestChannel_RunScript_AfterClose(t *testing.T) {
	c, err := NewChannel("closed", nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = runScript(t, c, "1")
	require.ErrorIs(t, err, cogbridge.ErrChannelClosed)
}

func TestChannel_PostMessage(t *testing.T) {
	c, sink := newTestChannel(t)

	_, err := runScript(t, c, `webkit.messageHandlers.cogbridge.postMessage("add", "[2,3]", "c1")`)
	require.NoError(t, err)
	require.Equal(t, &cogbridge.CallEnvelope{Function: "add", Args: "[2,3]", ID: "c1"}, receive(t, sink.calls))

	_, err = runScript(t, c, `webkit.messageHandlers.cogbridge.postMessage({function: "sub", args: "[]", id: "c2"})`)
	require.NoError(t, err)
	require.Equal(t, &cogbridge.CallEnvelope{Function: "sub", Args: "[]", ID: "c2"}, receive(t, sink.calls))
}

func TestChannel_Console(t *testing.T) {
	c, sink := newTestChannel(t)

	_, err := runScript(t, c, `console.warn("careful", 1, {a: 2})`)
	require.NoError(t, err)

	msg := receive(t, sink.console)
	require.Equal(t, cogbridge.ConsoleLevelWarn, msg.Level)
	require.Equal(t, `careful 1 {"a":2}`, msg.Message)
	require.Equal(t, ScriptSource, msg.Source)
	require.Equal(t, 1, msg.Line)
}

func TestChannel_Load(t *testing.T) {
	c, sink := newTestChannel(t)

	_, err := runScript(t, c, "var leftover = 1;")
	require.NoError(t, err)

	c.Load(&cogbridge.LoadRequest{
		Seq:     4,
		HTML:    `<script>var page = prelude * 2;</script><script>throw new Error("boom")</script>`,
		Prelude: "var prelude = 21;",
	})
	msg := receive(t, sink.console)
	require.Equal(t, cogbridge.ConsoleLevelError, msg.Level)
	require.Contains(t, msg.Message, "boom")

	sig := receive(t, sink.loads)
	require.Equal(t, uint64(4), sig.seq)
	require.NoError(t, sig.err)

	result, err := runScript(t, c, "page")
	require.NoError(t, err)
	require.Equal(t, "42", result)

	// Each document gets a fresh context.
	result, err = runScript(t, c, "typeof leftover")
	require.NoError(t, err)
	require.Equal(t, "undefined", result)
}

func TestChannel_Load_Twice(t *testing.T) {
	c, sink := newTestChannel(t)
	page := `<script>let counter = 1; class Page {} console.log("counter " + counter);</script>`

	for seq := uint64(1); seq <= 2; seq++ {
		c.Load(&cogbridge.LoadRequest{Seq: seq, HTML: page})
		msg := receive(t, sink.console)
		require.Equal(t, cogbridge.ConsoleLevelLog, msg.Level)
		require.Equal(t, "counter 1", msg.Message)

		sig := receive(t, sink.loads)
		require.Equal(t, seq, sig.seq)
		require.NoError(t, sig.err)
	}
}

func TestChannel_Load_Failure(t *testing.T) {
	c, sink := newTestChannel(t)

	c.Load(&cogbridge.LoadRequest{Seq: 2, URI: "ftp://example.com/index.html"})
	sig := receive(t, sink.loads)
	require.Equal(t, uint64(2), sig.seq)
	require.ErrorIs(t, sig.err, cogbridge.ErrUnsupportedURI)
}

func TestBackend_Shell(t *testing.T) {
	shell, err := NewBackend().NewShell(cogbridge.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, shell.Setup("drm"))

	ch, err := shell.NewChannel("view")
	require.NoError(t, err)
	require.NoError(t, shell.Close())

	_, err = runScript(t, ch.(*Channel), "1")
	require.ErrorIs(t, err, cogbridge.ErrChannelClosed)

	_, err = shell.NewChannel("late")
	require.ErrorIs(t, err, cogbridge.ErrChannelClosed)
}
