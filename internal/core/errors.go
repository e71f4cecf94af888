// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, checked with errors.Is.
var (
	// Buffer and executor protocol violations. These indicate a broken
	// coordinator invariant and are raised as panics.
	ErrNotCurrent   = errors.New("tsswitch: output area requested on non-current input")
	ErrOverRelease  = errors.New("tsswitch: release exceeds claimed output region")
	ErrOverCommit   = errors.New("tsswitch: commit exceeds free buffer space")
	ErrClaimPending = errors.New("tsswitch: output region already claimed")

	// Engine errors
	ErrInvalidInput     = errors.New("tsswitch: invalid input index")
	ErrNoInputs         = errors.New("tsswitch: no input configured")
	ErrAllInputsEnded   = errors.New("tsswitch: all inputs ended")
	ErrInputEnded       = errors.New("tsswitch: input ended")
	ErrEngineStopped    = errors.New("tsswitch: engine stopped")
	ErrEngineRunning    = errors.New("tsswitch: engine already running")
	ErrSinkFailed       = errors.New("tsswitch: output sink failed")
	ErrReceiveTimeout   = errors.New("tsswitch: receive timeout")
	ErrPluginNotStarted = errors.New("tsswitch: plugin not started")

	// Plugin errors
	ErrPluginNotFound   = errors.New("tsswitch: plugin not found")
	ErrPluginInitFailed = errors.New("tsswitch: plugin init failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("tsswitch: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("tsswitch: daemon not running")
)
