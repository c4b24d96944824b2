// Package domain contains entities without logic, just meta-data
package domain

import "errors"

var (
	// ErrSourceUnavailable: session not connected or a query failed. Skip the tick.
	ErrSourceUnavailable = errors.New("voice source unavailable")
	// ErrDisplayMissing: the display message or its channel no longer exists.
	ErrDisplayMissing = errors.New("display missing")
	// ErrDisplayRejected: the platform permanently refused the render.
	ErrDisplayRejected = errors.New("display rejected")
	// ErrTransportFatal: the voice session connection is dead.
	ErrTransportFatal = errors.New("voice transport fatal")
	// ErrRateLimited: a self-imposed guard tripped; no external call was made.
	ErrRateLimited = errors.New("rate limited")
	// ErrPersistence: the display reference could not be written.
	ErrPersistence = errors.New("persistence failure")
)
