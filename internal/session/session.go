// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package session manages one authenticated connection to a ZTeraDB server.
//
// A Session moves through
//
//	Unauthenticated -> Authenticating -> Ready <-> Serving -> Closing -> Closed
//
// and enters Faulted from any state when the transport fails. A faulted or
// closed Session is never reused.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zteradb/zteradb-go/config"
	"github.com/zteradb/zteradb-go/internal/auth"
	"github.com/zteradb/zteradb-go/internal/errs"
	"github.com/zteradb/zteradb-go/internal/wire"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Unauthenticated State = iota
	Authenticating
	Ready
	Serving
	Closing
	Closed
	Faulted
)

var stateNames = [...]string{
	Unauthenticated: "unauthenticated",
	Authenticating:  "authenticating",
	Ready:           "ready",
	Serving:         "serving",
	Closing:         "closing",
	Closed:          "closed",
	Faulted:         "faulted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

// ErrState is returned when an operation is not allowed in the current
// state.
var ErrState = errors.New("invalid session state")

// disconnectTimeout bounds the best effort DISCONNECT sent by Close.
const disconnectTimeout = time.Second

// Dialer opens transport connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options tunes a Session.
type Options struct {
	// Logger receives session events. Nil uses slog.Default.
	Logger *slog.Logger
	// Dialer is used by Dial. Nil uses a zero net.Dialer.
	Dialer Dialer
}

// Session is one authenticated connection. It serves one request at a time;
// its owner must call Begin before sending and Finish once the response has
// been read in full.
type Session struct {
	id     string
	conn   net.Conn
	r      *bufio.Reader
	cfg    *config.Config
	logger *slog.Logger
	state  atomic.Int32

	token       string
	tokenExpire time.Time

	closeOnce sync.Once
	closeErr  error
}

// New wraps conn in an unauthenticated Session. cfg must be valid.
func New(conn net.Conn, cfg *config.Config, opts Options) *Session {
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:     id,
		conn:   conn,
		r:      bufio.NewReader(conn),
		cfg:    cfg,
		logger: logger.With("session", id),
	}
}

// Dial connects to addr and performs the handshake. Dialing and the
// handshake together are bounded by cfg.ConnectTimeout.
func Dial(ctx context.Context, addr string, cfg *config.Config, opts Options) (*Session, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.Transport("dial", err)
	}
	s := New(conn, cfg, opts)
	if err := s.Handshake(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// ID returns the unique id of the session, used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Usable reports whether the session may be handed out again.
func (s *Session) Usable() bool { return s.State() == Ready }

// TokenExpiry returns the expiry of the access token granted at handshake,
// or the zero time when the server did not announce one.
func (s *Session) TokenExpiry() time.Time { return s.tokenExpire }

func (s *Session) transition(from, to State) error {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: cannot move from %s to %s, session is %s", ErrState, from, to, s.State())
	}
	return nil
}

// Handshake authenticates the connection. On failure the session is closed
// and the error matches ErrAuthentication, or ErrTransport when the
// connection broke.
func (s *Session) Handshake(ctx context.Context) (err error) {
	if err := s.transition(Unauthenticated, Authenticating); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.logger.Debug("handshake failed", "err", err)
			s.Fault(err)
			err = fmt.Errorf("cannot authenticate: %w", err)
		}
	}()

	nonce, err := auth.NewNonce()
	if err != nil {
		return err
	}
	hello := &wire.Handshake{
		RequestType:      wire.Connect,
		ClientKey:        s.cfg.ClientKey,
		AccessKey:        s.cfg.AccessKey,
		Nonce:            nonce,
		RequestToken:     auth.Token(s.cfg.SecretKey, nonce),
		DatabaseID:       s.cfg.DatabaseID,
		Env:              string(s.cfg.Env),
		ResponseDataType: string(s.cfg.ResponseDataType),
	}
	var ack wire.Ack
	err = s.withDeadline(ctx, 0, "handshake", func() error {
		if err := wire.WriteFrame(s.conn, hello); err != nil {
			return err
		}
		return wire.ReadFrame(s.r, &ack)
	})
	if err != nil {
		return err
	}

	switch {
	case ack.ResponseCode != wire.Connected || ack.Error != "":
		msg := ack.Error
		if msg == "" {
			msg = "connection refused"
		}
		return fmt.Errorf("%w: %s (%s)", errs.ErrAuthentication, msg, ack.ResponseCode)
	case ack.ClientAuth.Nonce == "" || ack.ClientAuth.Nonce == nonce:
		return fmt.Errorf("%w: acknowledgement is not signed with a fresh nonce", errs.ErrAuthentication)
	case !auth.Verify(s.cfg.SecretKey, ack.ClientAuth.Nonce, ack.ClientAuth.RequestToken):
		return fmt.Errorf("%w: acknowledgement signature mismatch", errs.ErrAuthentication)
	case ack.Data.AccessToken == "":
		return fmt.Errorf("%w: no access token granted", errs.ErrAuthentication)
	}

	s.token = ack.Data.AccessToken
	if ack.Data.AccessTokenExpire > 0 {
		s.tokenExpire = time.Unix(ack.Data.AccessTokenExpire, 0)
	}
	if err := s.transition(Authenticating, Ready); err != nil {
		return err
	}
	s.logger.Debug("session ready", "remote", s.conn.RemoteAddr().String())
	return nil
}

// Begin marks the session as serving a request.
func (s *Session) Begin() error {
	return s.transition(Ready, Serving)
}

// Finish returns a serving session to Ready.
func (s *Session) Finish() error {
	return s.transition(Serving, Ready)
}

// Send writes a request on a serving session. The session fills in its
// credentials. A failed write faults the session.
func (s *Session) Send(ctx context.Context, req *wire.Request) error {
	if st := s.State(); st != Serving {
		return fmt.Errorf("%w: cannot send on a %s session", ErrState, st)
	}
	req.ClientKey = s.cfg.ClientKey
	req.AccessToken = s.token
	err := s.withDeadline(ctx, 0, "write request", func() error {
		return wire.WriteFrame(s.conn, req)
	})
	if err != nil {
		s.Fault(err)
	}
	return err
}

// Read reads the next response frame of a serving session. The read is
// bounded by ctx and, when positive, by timeout. A failed read faults the
// session; a transport closed between frames yields an error matching
// io.EOF.
func (s *Session) Read(ctx context.Context, timeout time.Duration) (*wire.Response, error) {
	if st := s.State(); st != Serving {
		return nil, fmt.Errorf("%w: cannot read on a %s session", ErrState, st)
	}
	var resp wire.Response
	err := s.withDeadline(ctx, timeout, "read response", func() error {
		return wire.ReadFrame(s.r, &resp)
	})
	if err != nil {
		s.Fault(err)
		return nil, err
	}
	return &resp, nil
}

// Ping checks that an idle session still answers.
func (s *Session) Ping(ctx context.Context) (err error) {
	if err := s.Begin(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			s.Fault(err)
			err = fmt.Errorf("cannot ping: %w", err)
			return
		}
		err = s.Finish()
	}()
	if err := s.Send(ctx, &wire.Request{RequestType: wire.Ping}); err != nil {
		return err
	}
	resp, err := s.Read(ctx, 0)
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusOK || resp.ResponseCode != wire.Pong {
		return fmt.Errorf("unexpected %s frame with code %s", resp.Status, resp.ResponseCode)
	}
	return nil
}

// Fault marks the session as unusable and closes its connection. It may be
// called from any goroutine.
func (s *Session) Fault(cause error) {
	for {
		st := s.State()
		if st == Closed || st == Faulted {
			return
		}
		if s.state.CompareAndSwap(int32(st), int32(Faulted)) {
			s.logger.Warn("session faulted", "state", st.String(), "err", cause)
			s.closeConn()
			return
		}
	}
}

// Close says goodbye to the server when the session is idle and closes the
// connection. A faulted session stays Faulted.
func (s *Session) Close() error {
	if s.state.CompareAndSwap(int32(Ready), int32(Closing)) {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		_ = s.withDeadline(ctx, 0, "disconnect", func() error {
			return wire.WriteFrame(s.conn, &wire.Request{
				RequestType: wire.Disconnect,
				ClientKey:   s.cfg.ClientKey,
				AccessToken: s.token,
			})
		})
	}
	for {
		st := s.State()
		if st == Faulted || st == Closed {
			break
		}
		if s.state.CompareAndSwap(int32(st), int32(Closed)) {
			s.logger.Debug("session closed")
			break
		}
	}
	return s.closeConn()
}

func (s *Session) closeConn() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// longAgo is a deadline in the past, used to interrupt blocked I/O.
var longAgo = time.Unix(1, 0)

// withDeadline runs f with the connection deadline set from ctx and timeout.
// When ctx ends while f is blocked the deadline is moved to the past so that
// f returns.
func (s *Session) withDeadline(ctx context.Context, timeout time.Duration, op string, f func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cannot %s: %w", op, err)
	}
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if timeout > 0 {
		if t := time.Now().Add(timeout); deadline.IsZero() || t.Before(deadline) {
			deadline = t
		}
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return errs.Transport(op, err)
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(longAgo)
		close(fired)
	})
	err := f()
	if !stop() {
		<-fired
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("cannot %s: %w", op, ctx.Err())
	}
	return errs.Transport(op, err)
}
