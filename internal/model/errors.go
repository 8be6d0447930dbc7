package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoModules means nothing has been seeded. It is not retryable.
	ErrNoModules = errors.New("no training modules configured")
	// ErrNotLoaded is returned when an operation runs before bootstrap finished.
	ErrNotLoaded = errors.New("session not loaded")
	// ErrNoActiveModule is returned when no module has been selected yet.
	ErrNoActiveModule = errors.New("no module selected")
	// ErrInvalidTransition is returned when an action does not fit the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrModuleNotFound is returned for unknown module IDs.
	ErrModuleNotFound = errors.New("module not found")
	// ErrRecordNotFound is returned by the store when an update matches no row.
	ErrRecordNotFound = errors.New("progress record not found")
	// ErrOutcomeNotReady is returned when an outcome push is requested early.
	ErrOutcomeNotReady = errors.New("training not complete")
)

// ModuleLockedError indicates the module's predecessor is not completed.
type ModuleLockedError struct {
	ModuleID         int64
	RequiredModuleID int64
}

func (e *ModuleLockedError) Error() string {
	return fmt.Sprintf("module %d is locked until module %d is completed", e.ModuleID, e.RequiredModuleID)
}

// LoadFailedError indicates a read from the external store failed after all
// retries. The caller may try again.
type LoadFailedError struct {
	What     string
	Attempts int
	Err      error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("load %s failed after %d attempt(s): %v", e.What, e.Attempts, e.Err)
}

func (e *LoadFailedError) Unwrap() error { return e.Err }

// WriteFailedError indicates a progress write failed. Nothing was advanced.
type WriteFailedError struct {
	Op       string
	ModuleID int64
	Err      error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%s progress for module %d: %v", e.Op, e.ModuleID, e.Err)
}

func (e *WriteFailedError) Unwrap() error { return e.Err }
