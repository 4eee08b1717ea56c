// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"context"
	"log/slog"
	"strings"
)

// ConsoleLevel is the severity of a console message.
type ConsoleLevel int

const (
	ConsoleLevelLog ConsoleLevel = iota
	ConsoleLevelError
	ConsoleLevelWarn
	ConsoleLevelInfo
	ConsoleLevelDebug
)

func (l ConsoleLevel) String() string {
	switch l {
	case ConsoleLevelError:
		return "ERROR"
	case ConsoleLevelWarn:
		return "WARN"
	case ConsoleLevelInfo:
		return "INFO"
	case ConsoleLevelDebug:
		return "DEBUG"
	default:
		return "LOG"
	}
}

// MarshalText encodes the level by name.
func (l ConsoleLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText decodes a level name; unknown names decode as LOG.
func (l *ConsoleLevel) UnmarshalText(text []byte) error {
	*l = ParseConsoleLevel(string(text))
	return nil
}

// ParseConsoleLevel maps a level name to a ConsoleLevel. Unrecognized names,
// including "log", map to ConsoleLevelLog.
func ParseConsoleLevel(name string) ConsoleLevel {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "ERROR":
		return ConsoleLevelError
	case "WARN", "WARNING":
		return ConsoleLevelWarn
	case "INFO":
		return ConsoleLevelInfo
	case "DEBUG":
		return ConsoleLevelDebug
	default:
		return ConsoleLevelLog
	}
}

func (l ConsoleLevel) slogLevel() slog.Level {
	switch l {
	case ConsoleLevelError:
		return slog.LevelError
	case ConsoleLevelWarn:
		return slog.LevelWarn
	case ConsoleLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ConsoleMessage is a console record produced by page script.
type ConsoleMessage struct {
	Level   ConsoleLevel `json:"level"`
	Message string       `json:"message"`
	Source  string       `json:"source"`
	Line    int          `json:"line"`
}

// ConsoleHandler receives console messages in place of the default log sink.
type ConsoleHandler interface {
	HandleConsoleMessage(b *Bridge, msg *ConsoleMessage)
}

// ConsoleHandlerFunc adapts a function to the ConsoleHandler interface.
type ConsoleHandlerFunc func(b *Bridge, msg *ConsoleMessage)

// HandleConsoleMessage calls f(b, msg).
func (f ConsoleHandlerFunc) HandleConsoleMessage(b *Bridge, msg *ConsoleMessage) {
	f(b, msg)
}

// SetConsoleHandler replaces the console handler. nil restores the default sink,
// which writes each message to the bridge logger. The replaced handler, if it
// implements Releaser, is released even when h is the same value.
func (b *Bridge) SetConsoleHandler(h ConsoleHandler) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		releaseConsoleHandler(h)
		return
	}
	prev := b.consoleHandler
	b.consoleHandler = h
	b.mu.Unlock()

	releaseConsoleHandler(prev)
}

func releaseConsoleHandler(h ConsoleHandler) {
	if r, ok := h.(Releaser); ok {
		r.Release()
	}
}

// routeConsole hands msg to the console handler or the default sink.
func (b *Bridge) routeConsole(msg *ConsoleMessage) {
	if msg == nil || !b.enableConsole {
		return
	}
	b.mu.Lock()
	h := b.consoleHandler
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return
	}

	if h == nil {
		b.logger.Log(context.Background(), msg.Level.slogLevel(), "Console message",
			"bridge", b.name,
			"level", msg.Level.String(),
			"source", msg.Source,
			"line", msg.Line,
			"message", msg.Message)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Console handler panic",
				"bridge", b.name,
				"error", r)
		}
	}()
	h.HandleConsoleMessage(b, msg)
}
