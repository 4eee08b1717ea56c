// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package shim provides the view globals for script engines that have no
// browser-like environment of their own. The shim reports everything the page
// posts or prints as entries: string arrays whose first element is the kind.
package shim

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/buke/cogbridge"
)

//go:embed shim.js
var shimScript string

// Source is the source name the shim must be evaluated under.
const Source = "cogbridge://shim"

// Script returns the shim invocation. post is a script expression evaluating to
// a function that receives each entry array.
func Script(post string, cfg *cogbridge.Config, userAgent string) string {
	if cfg == nil {
		cfg = cogbridge.DefaultConfig()
	}
	if cfg.UserAgent != "" {
		userAgent = cfg.UserAgent
	}
	ua, _ := json.Marshal(userAgent)
	return fmt.Sprintf("%s(globalThis, %s, %d, %d, %s);", shimScript, post, cfg.Width, cfg.Height, ua)
}

// Decode turns an entry into a call envelope or a console message. Exactly one
// of the two is non-nil when err is nil.
func Decode(entry []string) (*cogbridge.CallEnvelope, *cogbridge.ConsoleMessage, error) {
	if len(entry) == 0 {
		return nil, nil, fmt.Errorf("%w: empty entry", cogbridge.ErrMalformedEnvelope)
	}
	switch entry[0] {
	case "call":
		if len(entry) != 4 {
			return nil, nil, fmt.Errorf("%w: call entry has %d fields", cogbridge.ErrMalformedEnvelope, len(entry))
		}
		env, err := cogbridge.NewTupleEnvelope(entry[1], entry[2], entry[3])
		return env, nil, err
	case "object":
		if len(entry) != 2 {
			return nil, nil, fmt.Errorf("%w: object entry has %d fields", cogbridge.ErrMalformedEnvelope, len(entry))
		}
		env, err := cogbridge.DecodeObjectEnvelope(entry[1])
		return env, nil, err
	case "console":
		if len(entry) != 5 {
			return nil, nil, fmt.Errorf("console entry has %d fields", len(entry))
		}
		line, _ := strconv.Atoi(entry[4])
		return nil, &cogbridge.ConsoleMessage{
			Level:   cogbridge.ParseConsoleLevel(entry[1]),
			Message: entry[2],
			Source:  entry[3],
			Line:    line,
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown entry kind %q", entry[0])
	}
}

// DecodeJSON decodes an entry delivered as JSON text.
func DecodeJSON(raw string) (*cogbridge.CallEnvelope, *cogbridge.ConsoleMessage, error) {
	var entry []string
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return Decode(entry)
}

// Deliver routes a decoded entry: console messages go to the sink at once,
// calls are handed to schedule so they run after the posting script.
func Deliver(sink cogbridge.ChannelSink, env *cogbridge.CallEnvelope, msg *cogbridge.ConsoleMessage, schedule func(func())) {
	if sink == nil {
		return
	}
	if msg != nil {
		sink.OnConsoleMessage(msg)
		return
	}
	if env != nil {
		schedule(func() { sink.OnCall(env) })
	}
}
