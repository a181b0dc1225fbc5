// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package testserver runs an in-process ZTeraDB server for tests. It speaks
// the real handshake and framing; what it answers to queries is decided by a
// Handler, either scripted by the test or backed by SQLite.
package testserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zteradb/zteradb-go/internal/auth"
	"github.com/zteradb/zteradb-go/internal/codec"
	"github.com/zteradb/zteradb-go/internal/wire"
	"github.com/zteradb/zteradb-go/query"
)

// Credentials are the keys the server accepts.
type Credentials struct {
	ClientKey string
	AccessKey string
	SecretKey string
}

// Request is a query received by the server.
type Request struct {
	Session string
	Frame   wire.Request
	// Query is the decoded query.
	Query *query.Query
}

// Handler answers queries.
type Handler interface {
	Serve(req *Request, w *ResponseWriter) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request, w *ResponseWriter) error

func (f HandlerFunc) Serve(req *Request, w *ResponseWriter) error { return f(req, w) }

// tokenLifetime is the validity announced for granted access tokens.
const tokenLifetime = time.Hour

// errHangup closes the connection without an answer.
var errHangup = errors.New("hangup")

// ResponseWriter writes the response frames of one request. Sequence numbers
// start at 0 and are assigned in order unless given explicitly.
type ResponseWriter struct {
	conn net.Conn
	seq  int
}

func (w *ResponseWriter) write(r *wire.Response) error {
	return wire.WriteFrame(w.conn, r)
}

func marshalData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Record sends one record with the next sequence number.
func (w *ResponseWriter) Record(v any) error {
	return w.RecordSeq(w.seq, v)
}

// RecordSeq sends one record with an explicit sequence number. Later frames
// continue from seq+1.
func (w *ResponseWriter) RecordSeq(seq int, v any) error {
	data, err := marshalData(v)
	if err != nil {
		return err
	}
	w.seq = seq + 1
	return w.write(&wire.Response{Seq: seq, Status: wire.StatusData, ResponseCode: wire.QueryData, Data: data})
}

// Done ends a stream of records.
func (w *ResponseWriter) Done() error {
	seq := w.seq
	w.seq++
	return w.write(&wire.Response{Seq: seq, Status: wire.StatusDone, ResponseCode: wire.QueryComplete})
}

// OK sends the single terminal result of a non streaming request.
func (w *ResponseWriter) OK(result any) error {
	data, err := marshalData(result)
	if err != nil {
		return err
	}
	seq := w.seq
	w.seq++
	return w.write(&wire.Response{Seq: seq, Status: wire.StatusOK, ResponseCode: wire.QueryComplete, Data: data})
}

// Error sends a terminal error frame.
func (w *ResponseWriter) Error(code wire.ResponseCode, message string) error {
	seq := w.seq
	w.seq++
	return w.write(&wire.Response{
		Seq:          seq,
		Status:       wire.StatusError,
		ResponseCode: code,
		Code:         int(code),
		Message:      message,
	})
}

// Raw sends v as a frame body as is, without a sequence number of its own.
func (w *ResponseWriter) Raw(v any) error {
	return wire.WriteFrame(w.conn, v)
}

// Hangup closes the connection once the handler returns. Frames already
// written are delivered.
func (w *ResponseWriter) Hangup() error {
	return errHangup
}

// Server is a ZTeraDB server listening on a loopback port.
type Server struct {
	creds   Credentials
	handler Handler
	logger  *slog.Logger
	ln      net.Listener
	wg      sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	reqs  []wire.Request

	handshakes atomic.Int64
	rejectAuth atomic.Bool
	badSigning atomic.Bool
}

// New starts a server that accepts creds and answers queries with h.
func New(creds Credentials, h Handler, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		creds:   creds,
		handler: h,
		logger:  logger.With("component", "testserver"),
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Handshakes returns the number of handshakes attempted so far.
func (s *Server) Handshakes() int { return int(s.handshakes.Load()) }

// RejectAuth makes later handshakes fail with CLIENT_AUTH_ERROR.
func (s *Server) RejectAuth(reject bool) { s.rejectAuth.Store(reject) }

// SignBadly makes later acknowledgements carry an invalid signature.
func (s *Server) SignBadly(bad bool) { s.badSigning.Store(bad) }

// Requests returns the request frames received so far, pings included.
func (s *Server) Requests() []wire.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Request(nil), s.reqs...)
}

// OpenConns returns the number of connections currently open.
func (s *Server) OpenConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConns closes every open connection from the server side.
func (s *Server) DropConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
}

// Close stops accepting, drops every connection and waits for the
// connection goroutines to end.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.DropConns()
	s.wg.Wait()
	return err
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				conn.Close()
			}()
			if err := s.serve(conn); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection ended", "err", err)
			}
		}()
	}
}

func (s *Server) serve(conn net.Conn) error {
	id, ok, err := s.handshake(conn)
	if err != nil || !ok {
		return err
	}
	for {
		var req wire.Request
		if err := wire.ReadFrame(conn, &req); err != nil {
			return err
		}
		s.mu.Lock()
		s.reqs = append(s.reqs, req)
		s.mu.Unlock()

		w := &ResponseWriter{conn: conn}
		if req.AccessToken != id {
			if err := w.Error(wire.NoAccess, "invalid access token"); err != nil {
				return err
			}
			continue
		}
		switch req.RequestType {
		case wire.Disconnect:
			return nil
		case wire.Ping:
			err := w.write(&wire.Response{Status: wire.StatusOK, ResponseCode: wire.Pong})
			if err != nil {
				return err
			}
			continue
		case wire.Query:
		default:
			if err := w.Error(wire.ParseQueryError, fmt.Sprintf("unknown request type %s", req.RequestType)); err != nil {
				return err
			}
			continue
		}

		q, err := codec.Decode(req.Query)
		if err != nil {
			if err := w.Error(wire.ParseQueryError, err.Error()); err != nil {
				return err
			}
			continue
		}
		err = s.handler.Serve(&Request{Session: id, Frame: req, Query: q}, w)
		if errors.Is(err, errHangup) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// handshake answers the first frame of a connection. It returns the access
// token granted, which doubles as the session id.
func (s *Server) handshake(conn net.Conn) (string, bool, error) {
	var hello wire.Handshake
	if err := wire.ReadFrame(conn, &hello); err != nil {
		return "", false, err
	}
	s.handshakes.Add(1)

	valid := hello.RequestType == wire.Connect &&
		hello.ClientKey == s.creds.ClientKey &&
		hello.AccessKey == s.creds.AccessKey &&
		auth.Verify(s.creds.SecretKey, hello.Nonce, hello.RequestToken)
	if !valid || s.rejectAuth.Load() {
		err := wire.WriteFrame(conn, &wire.Ack{Error: "invalid credentials", ResponseCode: wire.ClientAuthError})
		return "", false, err
	}

	nonce, err := auth.NewNonce()
	if err != nil {
		return "", false, err
	}
	secret := s.creds.SecretKey
	if s.badSigning.Load() {
		secret = "not the secret"
	}
	token := uuid.NewString()
	ack := &wire.Ack{
		ResponseCode: wire.Connected,
		ClientAuth:   wire.ClientAuth{Nonce: nonce, RequestToken: auth.Token(secret, nonce)},
		Data: wire.AckData{
			ClientKey:         hello.ClientKey,
			AccessKey:         hello.AccessKey,
			AccessToken:       token,
			AccessTokenExpire: time.Now().Add(tokenLifetime).Unix(),
		},
	}
	if err := wire.WriteFrame(conn, ack); err != nil {
		return "", false, err
	}
	return token, true, nil
}
