// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"encoding/json"
	"fmt"
)

// CallEnvelope is an inbound call posted by the scripted runtime.
type CallEnvelope struct {
	Function string `json:"function"` // Name of the bound function
	Args     string `json:"args"`     // Arguments as a JSON array, verbatim
	ID       string `json:"id"`       // Correlation id generated by the scripted side
}

// NewTupleEnvelope normalizes a positional (function, args, id) message.
func NewTupleEnvelope(function, args, id string) (*CallEnvelope, error) {
	if function == "" {
		return nil, fmt.Errorf("%w: missing function name", ErrMalformedEnvelope)
	}
	return &CallEnvelope{Function: function, Args: args, ID: id}, nil
}

// EnvelopeFromObject normalizes an object message already exported from the
// script engine. "function" and "args" must be strings; "id" is optional.
func EnvelopeFromObject(obj map[string]interface{}) (*CallEnvelope, error) {
	function, ok := obj["function"].(string)
	if !ok || function == "" {
		return nil, fmt.Errorf("%w: function must be a non-empty string", ErrMalformedEnvelope)
	}
	args, ok := obj["args"].(string)
	if !ok {
		return nil, fmt.Errorf("%w: args must be a string", ErrMalformedEnvelope)
	}
	id, _ := obj["id"].(string)
	return &CallEnvelope{Function: function, Args: args, ID: id}, nil
}

// DecodeObjectEnvelope normalizes an object message delivered as JSON text.
func DecodeObjectEnvelope(raw string) (*CallEnvelope, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return EnvelopeFromObject(obj)
}

// ResolveMode selects how a resolution directive finds the pending scripted call.
type ResolveMode int

const (
	// ResolveByID settles exactly the call that carried the envelope's id.
	ResolveByID ResolveMode = iota
	// ResolveByName settles the first pending call with the same function name,
	// whichever call produced the result.
	ResolveByName
)

func (m ResolveMode) String() string {
	switch m {
	case ResolveByID:
		return "by-id"
	case ResolveByName:
		return "by-name"
	default:
		return "unknown"
	}
}

// ResolutionDirective settles a pending scripted call with a handler result.
type ResolutionDirective struct {
	Mode     ResolveMode
	Function string
	ID       string
	Result   string // JSON produced by the handler, inserted verbatim
}

// Script renders the directive as executable script. An envelope without an id
// is resolved by name regardless of Mode.
func (d *ResolutionDirective) Script() string {
	if d.Mode == ResolveByID && d.ID != "" {
		return fmt.Sprintf("window.cogbridge._resolveCallById(%s, %s);", jsString(d.ID), d.Result)
	}
	return fmt.Sprintf("window.cogbridge._resolveCall(%s, %s);", jsString(d.Function), d.Result)
}

// jsString quotes s as a script string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(b)
}
