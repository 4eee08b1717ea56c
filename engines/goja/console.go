// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	"github.com/buke/cogbridge"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

const (
	consoleModule = "console"
	consoleSource = "cogbridge://console"
)

// consoleLevels routes console.info and console.debug through console.log with
// the level noted, since the console module prints both as log.
const consoleLevels = `(function (console, setLevel) {
  ["info", "debug"].forEach(function (level) {
    var log = console.log;
    console[level] = function () {
      setLevel(level);
      try {
        return log.apply(console, arguments);
      } finally {
        setLevel("");
      }
    };
  });
})`

// consolePrinter receives lines formatted by the console module and forwards
// them to the channel sink. It runs on the loop goroutine of its document.
type consolePrinter struct {
	channel *Channel
	doc     *document
	level   string // Set while console.info or console.debug runs
}

func (p *consolePrinter) Log(s string) {
	level := cogbridge.ConsoleLevelLog
	if p.level != "" {
		level = cogbridge.ParseConsoleLevel(p.level)
	}
	p.emit(level, s)
}

func (p *consolePrinter) Warn(s string) {
	p.emit(cogbridge.ConsoleLevelWarn, s)
}

func (p *consolePrinter) Error(s string) {
	p.emit(cogbridge.ConsoleLevelError, s)
}

func (p *consolePrinter) emit(level cogbridge.ConsoleLevel, s string) {
	sink := p.channel.currentSink()
	if sink == nil || p.doc.retired.Load() {
		return
	}
	msg := &cogbridge.ConsoleMessage{Level: level, Message: s}
	msg.Source, msg.Line = p.caller()
	sink.OnConsoleMessage(msg)
}

// caller returns the position of the innermost script frame outside the console shim.
func (p *consolePrinter) caller() (string, int) {
	vm := p.doc.vm
	if vm == nil {
		return "", 0
	}
	for _, frame := range vm.CaptureCallStack(0, nil) {
		pos := frame.Position()
		if pos.Line <= 0 || frame.SrcName() == consoleSource {
			continue
		}
		return frame.SrcName(), pos.Line
	}
	return "", 0
}

func newConsoleModule(printer console.Printer) require.ModuleLoader {
	return console.RequireWithPrinter(printer)
}

// installConsole exposes the console module as the console global.
func installConsole(vm *goja.Runtime, printer *consolePrinter) error {
	obj, ok := require.Require(vm, consoleModule).(*goja.Object)
	if !ok {
		return fmt.Errorf("console module did not export an object")
	}
	if err := vm.Set("console", obj); err != nil {
		return fmt.Errorf("failed to set console: %w", err)
	}

	wrapper, err := vm.RunScript(consoleSource, consoleLevels)
	if err != nil {
		return fmt.Errorf("failed to load console levels: %w", err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return fmt.Errorf("console levels script did not return a function")
	}
	setLevel := func(level string) {
		printer.level = level
	}
	if _, err := fn(goja.Undefined(), obj, vm.ToValue(setLevel)); err != nil {
		return fmt.Errorf("failed to install console levels: %w", err)
	}
	return nil
}
