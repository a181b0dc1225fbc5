// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package errs holds the transport and protocol error values shared by the
// session, pool and client layers. The root package re-exports them.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication is returned when the server rejects the handshake or
	// its acknowledgement cannot be verified.
	ErrAuthentication = errors.New("authentication failed")
	// ErrPoolExhausted is returned when no session becomes available before
	// the acquisition timeout.
	ErrPoolExhausted = errors.New("connection pool exhausted")
	// ErrPoolClosed is returned by a pool that has been shut down.
	ErrPoolClosed = errors.New("connection pool closed")
	// ErrTransport wraps socket level failures.
	ErrTransport = errors.New("transport error")
	// ErrOutOfOrderFrame is returned when a response frame does not carry the
	// next sequence number.
	ErrOutOfOrderFrame = errors.New("out of order frame")
	// ErrTruncatedStream is returned when the transport closes before a
	// terminal frame arrives.
	ErrTruncatedStream = errors.New("truncated stream")
	// ErrServer matches any *ServerError.
	ErrServer = errors.New("server error")
)

// ServerError is an explicit error frame sent by the remote engine. Code and
// Message are passed through verbatim.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %#x: %s", e.Code, e.Message)
}

// Is reports whether target is ErrServer.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// Transport wraps err so that it matches ErrTransport while keeping the
// original error in the chain.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	return &transportError{op: op, err: err}
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransport, e.op, e.err)
}

func (e *transportError) Unwrap() []error {
	return []error{ErrTransport, e.err}
}
