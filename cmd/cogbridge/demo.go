// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"

	"github.com/buke/cogbridge"
)

//go:embed demo.html
var demoPage string

// demo holds the host functions exposed to the page.
type demo struct {
	out  io.Writer
	done func() // Called when the page reports it is finished; may be nil
}

func (d *demo) bind(b *cogbridge.Bridge) error {
	for name, fn := range map[string]func(*cogbridge.Bridge, *cogbridge.CallEnvelope) string{
		"add":           d.add,
		"greet":         d.greet,
		"request_event": d.requestEvent,
		"done":          d.finish,
	} {
		if err := b.BindFunc(name, fn, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", name, err)
		}
	}
	return nil
}

func (d *demo) add(_ *cogbridge.Bridge, env *cogbridge.CallEnvelope) string {
	var args []int
	if err := json.Unmarshal([]byte(env.Args), &args); err != nil || len(args) != 2 {
		return "null"
	}
	result := args[0] + args[1]
	fmt.Fprintf(d.out, "[go] add(%d, %d) = %d\n", args[0], args[1], result)
	return fmt.Sprint(result)
}

func (d *demo) greet(_ *cogbridge.Bridge, env *cogbridge.CallEnvelope) string {
	var args []string
	if err := json.Unmarshal([]byte(env.Args), &args); err != nil || len(args) == 0 {
		return `"Error"`
	}
	fmt.Fprintf(d.out, "[go] greet(%q)\n", args[0])
	out, _ := json.Marshal("Hello, " + args[0] + "!")
	return string(out)
}

func (d *demo) requestEvent(b *cogbridge.Bridge, _ *cogbridge.CallEnvelope) string {
	fmt.Fprintln(d.out, "[go] Emitting event to the page")
	if err := b.EmitValue("notification", map[string]string{"message": "Event from Go!"}); err != nil {
		return `"Event failed"`
	}
	return `"Event emitted"`
}

func (d *demo) finish(_ *cogbridge.Bridge, _ *cogbridge.CallEnvelope) string {
	fmt.Fprintln(d.out, "[go] Page finished")
	if d.done != nil {
		d.done()
	}
	return "true"
}
