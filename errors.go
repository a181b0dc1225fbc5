// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package zteradb

import (
	"github.com/zteradb/zteradb-go/internal/errs"
)

var (
	ErrAuthentication  = errs.ErrAuthentication
	ErrPoolExhausted   = errs.ErrPoolExhausted
	ErrPoolClosed      = errs.ErrPoolClosed
	ErrTransport       = errs.ErrTransport
	ErrOutOfOrderFrame = errs.ErrOutOfOrderFrame
	ErrTruncatedStream = errs.ErrTruncatedStream
	ErrServer          = errs.ErrServer
)

// ServerError is an error frame sent by the server. It matches ErrServer.
type ServerError = errs.ServerError

// Server error codes.
const (
	CodeQueryError      = 0x009
	CodeNoAccess        = 0x011
	CodeParseQueryError = 0x100
	CodeTokenExpired    = 0x400
	CodeInvalidSchema   = 0x401
	CodeFieldError      = 0x402
)
