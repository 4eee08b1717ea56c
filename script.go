// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

// ExecuteScript submits script for evaluation in the current document and returns
// the id correlating it with completion. completion is called exactly once: with
// the textual rendering of the result and ok=true, or with ok=false if the script
// failed. Outstanding executions are correlated individually and may complete in
// any order. completion may be nil.
func (b *Bridge) ExecuteScript(script string, completion ScriptCompletion) string {
	if b.isClosed() {
		if completion != nil {
			b.pending.deliver(&pendingScriptCall{completion: completion}, "", false)
		}
		return ""
	}

	call := b.pending.add(completion)
	b.channel.RunScript(script, func(result string, err error) {
		if err != nil {
			b.logger.Warn("Script execution error",
				"bridge", b.name,
				"id", call.id,
				"error", err)
			b.pending.complete(call.id, "", false)
			return
		}
		b.pending.complete(call.id, result, true)
	})
	return call.id
}

// ExecuteScriptFunc is ExecuteScript for a plain function.
func (b *Bridge) ExecuteScriptFunc(script string, fn func(result string, ok bool)) string {
	if fn == nil {
		return b.ExecuteScript(script, nil)
	}
	return b.ExecuteScript(script, ScriptCompletionFunc(fn))
}

// ExecuteScriptSync does NOT block. Content channels offer no synchronous
// evaluation, so the script is submitted asynchronously, its result is
// discarded, and ErrSyncUnsupported is always returned. Use ExecuteScript to
// observe results.
func (b *Bridge) ExecuteScriptSync(script string) (string, error) {
	if b.isClosed() {
		return "", ErrBridgeClosed
	}
	b.logger.Warn("Synchronous script execution not supported, executing asynchronously",
		"bridge", b.name)
	b.ExecuteScript(script, nil)
	return "", ErrSyncUnsupported
}

// PendingScripts returns the number of script executions awaiting completion.
func (b *Bridge) PendingScripts() int {
	return b.pending.len()
}
