package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")

	ErrMalformedSignal   = errors.New("malformed signal")
	ErrSymbolAlreadyOpen = errors.New("symbol already has an open position")
	ErrStoreFinalized    = errors.New("position store finalized")
)

// RejectReason names why the position store refused a signal.
type RejectReason string

const (
	RejectMalformedSignal   RejectReason = "MalformedSignal"
	RejectSymbolAlreadyOpen RejectReason = "SymbolAlreadyOpen"
	RejectStoreFinalized    RejectReason = "StoreFinalized"
)

// RejectError is returned by the position store when a signal is not opened.
// It unwraps to the sentinel matching its Reason.
type RejectError struct {
	Reason RejectReason
	Symbol string
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("reject %s: %s", e.Symbol, e.Reason)
	}
	return fmt.Sprintf("reject %s: %s: %s", e.Symbol, e.Reason, e.Detail)
}

func (e *RejectError) Unwrap() error {
	switch e.Reason {
	case RejectMalformedSignal:
		return ErrMalformedSignal
	case RejectSymbolAlreadyOpen:
		return ErrSymbolAlreadyOpen
	case RejectStoreFinalized:
		return ErrStoreFinalized
	}
	return nil
}
