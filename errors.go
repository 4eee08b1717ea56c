// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package cogbridge

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized  = errors.New("cogbridge: host already initialized")
	ErrShellCreationFailed = errors.New("cogbridge: failed to create shell")
	ErrPlatformUnavailable = errors.New("cogbridge: platform unavailable")
	ErrPlatformSetupFailed = errors.New("cogbridge: platform setup failed")
	ErrNotInitialized      = errors.New("cogbridge: host not initialized")

	ErrBridgeClosed      = errors.New("cogbridge: bridge closed")
	ErrChannelClosed     = errors.New("cogbridge: content channel closed")
	ErrEmptyFunctionName = errors.New("cogbridge: function name cannot be empty")
	ErrNilHandler        = errors.New("cogbridge: handler cannot be nil")
	ErrReservedName      = errors.New("cogbridge: function name is reserved by the runtime")
	ErrEmptyEventName    = errors.New("cogbridge: event name cannot be empty")
	ErrEmptyURI          = errors.New("cogbridge: uri cannot be empty")
	ErrMalformedEnvelope = errors.New("cogbridge: malformed call envelope")
	ErrUnsupportedURI    = errors.New("cogbridge: unsupported uri")

	// ErrSyncUnsupported is returned by ExecuteScriptSync: the script was submitted
	// asynchronously and its result is not available to the caller.
	ErrSyncUnsupported = errors.New("cogbridge: synchronous script execution is not supported")
)

// InitReason classifies a host initialization failure.
type InitReason int

const (
	ReasonAlreadyInitialized  InitReason = iota + 1 // Init called on an initialized host
	ReasonShellCreationFailed                       // The backend could not create a shell
	ReasonPlatformUnavailable                       // No backend serves the resolved platform
	ReasonPlatformSetupFailed                       // The shell rejected the platform
)

// String returns a short name for the reason.
func (r InitReason) String() string {
	switch r {
	case ReasonAlreadyInitialized:
		return "already-initialized"
	case ReasonShellCreationFailed:
		return "shell-creation-failed"
	case ReasonPlatformUnavailable:
		return "platform-unavailable"
	case ReasonPlatformSetupFailed:
		return "platform-setup-failed"
	default:
		return "unknown"
	}
}

func (r InitReason) sentinel() error {
	switch r {
	case ReasonAlreadyInitialized:
		return ErrAlreadyInitialized
	case ReasonShellCreationFailed:
		return ErrShellCreationFailed
	case ReasonPlatformUnavailable:
		return ErrPlatformUnavailable
	case ReasonPlatformSetupFailed:
		return ErrPlatformSetupFailed
	default:
		return nil
	}
}

// InitError reports why Host.Init failed.
type InitError struct {
	Reason   InitReason
	Platform string // Resolved platform name, when known
	Err      error  // Underlying cause, may be nil
}

func (e *InitError) Error() string {
	msg := fmt.Sprintf("cogbridge init failed (%s)", e.Reason)
	if e.Platform != "" {
		msg += " on platform " + e.Platform
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the reason sentinel and the underlying cause to errors.Is.
func (e *InitError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Reason.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
