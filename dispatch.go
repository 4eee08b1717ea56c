// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

// dispatch serves one inbound call envelope. It runs on the channel's loop
// goroutine, so envelopes are handled one at a time in delivery order.
//
// A call to an unbound function, or a handler returning no result, sends no
// resolution directive: the scripted promise for that call never settles.
func (b *Bridge) dispatch(env *CallEnvelope) {
	if env == nil {
		return
	}
	if b.isClosed() {
		b.logger.Debug("Dropped call on closed bridge",
			"bridge", b.name,
			"function", env.Function)
		return
	}

	fn, ok := b.registry.acquire(env.Function)
	if !ok {
		b.logger.Warn("Called unbound function",
			"bridge", b.name,
			"function", env.Function,
			"id", env.ID)
		return
	}
	result := b.invoke(fn, env)
	b.registry.done(fn)

	if result == "" {
		b.logger.Debug("Bound function returned no result",
			"bridge", b.name,
			"function", env.Function,
			"id", env.ID)
		return
	}

	directive := &ResolutionDirective{
		Mode:     b.resolveMode,
		Function: env.Function,
		ID:       env.ID,
		Result:   result,
	}
	b.channel.RunScript(directive.Script(), func(_ string, err error) {
		if err != nil {
			b.logger.Warn("Failed to deliver call result",
				"bridge", b.name,
				"function", env.Function,
				"id", env.ID,
				"error", err)
		}
	})
}

// invoke runs the handler, recovering panics as "no result".
func (b *Bridge) invoke(fn *boundFunction, env *CallEnvelope) (result string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Bound function panic",
				"bridge", b.name,
				"function", fn.name,
				"id", env.ID,
				"error", r)
			result = ""
		}
	}()
	return fn.handler.Invoke(b, env)
}
