// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"encoding/json"
	"fmt"
)

// Emit notifies scripted listeners registered with cogbridge.on(event, ...).
// dataJSON is inserted verbatim; an empty string sends null. Delivery is fire and
// forget: nothing reports whether listeners exist or whether the script ran.
func (b *Bridge) Emit(event, dataJSON string) error {
	if event == "" {
		return ErrEmptyEventName
	}
	if b.isClosed() {
		return ErrBridgeClosed
	}
	if dataJSON == "" {
		dataJSON = "null"
	}
	b.channel.RunScript(eventScript(event, dataJSON), b.logScriptError("emit", event))
	return nil
}

// EmitValue marshals v to JSON and emits it.
func (b *Bridge) EmitValue(event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event, err)
	}
	return b.Emit(event, string(data))
}

func eventScript(event, dataJSON string) string {
	return fmt.Sprintf("window.cogbridge._emit(%s, %s);", jsString(event), dataJSON)
}
