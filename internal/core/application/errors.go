package application

import "errors"

var (
	// ErrSupervisorRunning is returned when starting an already running
	// supervisor.
	ErrSupervisorRunning = errors.New("supervisor is already running")
	// ErrSupervisorStopped is returned by operator methods invoked while the
	// supervisor is not running.
	ErrSupervisorStopped = errors.New("supervisor is not running")
	// ErrChainMismatch is returned at startup if the chain node does not serve
	// the configured chain.
	ErrChainMismatch = errors.New("chain node genesis does not match configured chain")
)
