// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ScriptCompletion receives the result of one ExecuteScript call. ok is false when
// the script failed; the failure detail is not passed on, so a script that threw
// and a script that produced nothing usable look the same.
type ScriptCompletion interface {
	Complete(result string, ok bool)
}

// ScriptCompletionFunc adapts a function to the ScriptCompletion interface.
type ScriptCompletionFunc func(result string, ok bool)

// Complete calls f(result, ok).
func (f ScriptCompletionFunc) Complete(result string, ok bool) {
	f(result, ok)
}

// pendingStatus represents the state of a pending script call.
type pendingStatus int

const (
	pendingStatusWaiting   pendingStatus = iota // Submitted, no result yet
	pendingStatusCompleted                      // Completion delivered
)

// pendingScriptCall tracks one in-flight script execution.
type pendingScriptCall struct {
	id         string           // Correlation id
	completion ScriptCompletion // May be nil
	status     pendingStatus
}

// pendingTable correlates script executions with their completions.
type pendingTable struct {
	mu     sync.Mutex
	calls  map[string]*pendingScriptCall
	logger *slog.Logger
}

func newPendingTable(logger *slog.Logger) *pendingTable {
	return &pendingTable{
		calls:  make(map[string]*pendingScriptCall),
		logger: logger,
	}
}

// add registers a new pending call.
func (t *pendingTable) add(completion ScriptCompletion) *pendingScriptCall {
	call := &pendingScriptCall{
		id:         uuid.NewString(),
		completion: completion,
		status:     pendingStatusWaiting,
	}
	t.mu.Lock()
	t.calls[call.id] = call
	t.mu.Unlock()
	return call
}

// complete delivers the result of the call with the given id and forgets it.
// It reports false when the call is unknown or already completed.
func (t *pendingTable) complete(id string, result string, ok bool) bool {
	t.mu.Lock()
	call, found := t.calls[id]
	if found {
		delete(t.calls, id)
		call.status = pendingStatusCompleted
	}
	t.mu.Unlock()

	if !found {
		return false
	}
	t.deliver(call, result, ok)
	return true
}

// failAll completes every pending call as failed.
func (t *pendingTable) failAll() int {
	t.mu.Lock()
	calls := make([]*pendingScriptCall, 0, len(t.calls))
	for id, call := range t.calls {
		delete(t.calls, id)
		call.status = pendingStatusCompleted
		calls = append(calls, call)
	}
	t.mu.Unlock()

	for _, call := range calls {
		t.deliver(call, "", false)
	}
	return len(calls)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *pendingTable) deliver(call *pendingScriptCall, result string, ok bool) {
	if call.completion == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && t.logger != nil {
			t.logger.Error("Script completion panic",
				"id", call.id,
				"error", r)
		}
	}()
	call.completion.Complete(result, ok)
}
