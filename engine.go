// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

// Transport identifies how a content channel carries call envelopes posted by the
// scripted runtime. It is a capability of the channel, never a dispatcher concern.
type Transport int

const (
	TransportObject Transport = iota // postMessage({function, args, id})
	TransportTuple                   // postMessage(function, args, id)
)

// String returns the name used by the scripted runtime for the transport.
func (t Transport) String() string {
	switch t {
	case TransportObject:
		return "object"
	case TransportTuple:
		return "tuple"
	default:
		return "unknown"
	}
}

// LoadRequest describes one document load submitted to a content channel.
type LoadRequest struct {
	Seq     uint64 // Load sequence assigned by the bridge, echoed back in load signals
	URI     string // Document URI (file: or data:); empty for literal content
	HTML    string // Literal document content
	BaseURI string // Base URI used to resolve script sources of literal content
	Prelude string // Script run at document start, before any page script
}

// ChannelSink receives the events produced by a content channel.
// Every method is called on the channel's loop goroutine, one event at a time.
type ChannelSink interface {
	// OnCall delivers a normalized call envelope posted by the scripted runtime.
	OnCall(env *CallEnvelope)

	// OnConsoleMessage delivers a console message produced by page script.
	OnConsoleMessage(msg *ConsoleMessage)

	// OnLoadFinished signals that the load with the given sequence completed.
	OnLoadFinished(seq uint64)

	// OnLoadFailed signals that the load with the given sequence could not complete.
	OnLoadFailed(seq uint64, err error)
}

// ScriptResultFunc receives the outcome of one script submission: the textual
// rendering of the evaluated value, or the error raised while evaluating it.
type ScriptResultFunc func(result string, err error)

// ContentChannel is the scripted view a bridge is built over.
//
// Implementations serialize all script work and inbound deliveries on a single
// loop goroutine. RunScript must eventually call done exactly once when done is
// not nil, including after Close (with ErrChannelClosed).
type ContentChannel interface {
	// Transport reports how the channel expects envelopes to be posted.
	Transport() Transport

	// Attach registers the sink that receives inbound events.
	Attach(sink ChannelSink)

	// Load starts loading a document. Completion is reported through the sink.
	Load(req *LoadRequest)

	// RunScript evaluates script in the current document.
	RunScript(script string, done ScriptResultFunc)

	// Close stops the channel and releases its engine.
	Close() error
}

// Shell is the engine-wide state shared by every view of a host.
type Shell interface {
	// Setup prepares the platform backend the shell renders to.
	Setup(platform string) error

	// NewChannel creates the content channel of a new view.
	NewChannel(name string) (ContentChannel, error)

	// Close releases the shell.
	Close() error
}

// Backend creates shells for a host configuration.
type Backend interface {
	NewShell(cfg *Config) (Shell, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(cfg *Config) (Shell, error)

// NewShell calls f(cfg).
func (f BackendFunc) NewShell(cfg *Config) (Shell, error) {
	return f(cfg)
}
