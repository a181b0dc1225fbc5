package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/zteradb/zteradb-go/config"
	"github.com/zteradb/zteradb-go/internal/codec"
	"github.com/zteradb/zteradb-go/internal/errs"
	"github.com/zteradb/zteradb-go/internal/session"
	"github.com/zteradb/zteradb-go/internal/testserver"
	"github.com/zteradb/zteradb-go/internal/testutil"
	"github.com/zteradb/zteradb-go/internal/wire"
	"github.com/zteradb/zteradb-go/query"
)

// Hook up gocheck into the "go test" runner.
func TestSession(t *testing.T) { TestingT(t) }

type SessionSuite struct {
	srv *testserver.Server
	cfg *config.Config
}

var _ = Suite(&SessionSuite{})

var creds = testserver.Credentials{
	ClientKey: "client",
	AccessKey: "access",
	SecretKey: "secret",
}

// answer replies to queries with a count, except for the "silent" schema
// which gets no answer at all.
func answer(req *testserver.Request, w *testserver.ResponseWriter) error {
	if req.Query.Schema() == "silent" {
		return nil
	}
	return w.OK(map[string]any{"count": 3})
}

func (s *SessionSuite) SetUpTest(c *C) {
	srv, err := testserver.New(creds, testserver.HandlerFunc(answer), testutil.NewLogger(c))
	c.Assert(err, IsNil)
	s.srv = srv
	s.cfg = &config.Config{
		ClientKey:  creds.ClientKey,
		AccessKey:  creds.AccessKey,
		SecretKey:  creds.SecretKey,
		DatabaseID: "db",
		Env:        config.Dev,
	}
	s.cfg.ApplyDefaults()
}

func (s *SessionSuite) TearDownTest(c *C) {
	s.srv.Close()
}

func (s *SessionSuite) dial(c *C) *session.Session {
	sess, err := session.Dial(context.Background(), s.srv.Addr(), s.cfg, session.Options{Logger: testutil.NewLogger(c)})
	c.Assert(err, IsNil)
	return sess
}

func countRequest(c *C, schema string) *wire.Request {
	q, err := query.New(schema).Count().Finalize()
	c.Assert(err, IsNil)
	env, err := codec.Encode(q)
	c.Assert(err, IsNil)
	return &wire.Request{RequestType: wire.Query, DatabaseID: "db", Query: env}
}

// waitRequests waits until srv has received n requests so that closing the
// connection does not race with the server reading them.
func waitRequests(c *C, srv *testserver.Server, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for len(srv.Requests()) < n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Assert(srv.Requests(), HasLen, n)
}

func (s *SessionSuite) TestHandshake(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Check(sess.State(), Equals, session.Ready)
	c.Check(sess.Usable(), Equals, true)
	c.Check(sess.ID(), Not(Equals), "")
	c.Check(sess.TokenExpiry().After(time.Now()), Equals, true)
	c.Check(s.srv.Handshakes(), Equals, 1)
}

var handshakeErrorTests = []struct {
	summary string
	setup   func(*testserver.Server, *config.Config)
	err     string
}{{
	summary: "server rejects the credentials",
	setup: func(srv *testserver.Server, cfg *config.Config) {
		srv.RejectAuth(true)
	},
	err: `cannot authenticate: authentication failed: invalid credentials \(CLIENT_AUTH_ERROR\)`,
}, {
	summary: "client knows the wrong secret",
	setup: func(srv *testserver.Server, cfg *config.Config) {
		cfg.SecretKey = "guess"
	},
	err: `cannot authenticate: authentication failed: invalid credentials \(CLIENT_AUTH_ERROR\)`,
}, {
	summary: "acknowledgement signed with another secret",
	setup: func(srv *testserver.Server, cfg *config.Config) {
		srv.SignBadly(true)
	},
	err: `cannot authenticate: authentication failed: acknowledgement signature mismatch`,
}}

func (s *SessionSuite) TestHandshakeErrors(c *C) {
	for i, t := range handshakeErrorTests {
		comment := Commentf("test %d failed (%s)", i, t.summary)
		cfg := *s.cfg
		s.srv.RejectAuth(false)
		s.srv.SignBadly(false)
		t.setup(s.srv, &cfg)

		sess, err := session.Dial(context.Background(), s.srv.Addr(), &cfg, session.Options{Logger: testutil.NewLogger(c)})
		c.Check(sess, IsNil, comment)
		c.Check(err, ErrorMatches, t.err, comment)
		c.Check(errors.Is(err, errs.ErrAuthentication), Equals, true, comment)
	}
}

func (s *SessionSuite) TestHandshakeOnlyOnce(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	err := sess.Handshake(context.Background())
	c.Check(errors.Is(err, session.ErrState), Equals, true)
	c.Check(sess.State(), Equals, session.Ready)
}

func (s *SessionSuite) TestDialRefused(c *C) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, IsNil)
	addr := ln.Addr().String()
	ln.Close()

	_, err = session.Dial(context.Background(), addr, s.cfg, session.Options{})
	c.Check(errors.Is(err, errs.ErrTransport), Equals, true)
	c.Check(err, ErrorMatches, "transport error: dial: .*")
}

func (s *SessionSuite) TestPing(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Assert(sess.Ping(context.Background()), IsNil)
	c.Check(sess.State(), Equals, session.Ready)

	reqs := s.srv.Requests()
	c.Assert(reqs, HasLen, 1)
	c.Check(reqs[0].RequestType, Equals, wire.Ping)
	c.Check(reqs[0].ClientKey, Equals, "client")
	c.Check(reqs[0].AccessToken, Not(Equals), "")
}

func (s *SessionSuite) TestPingDeadConnection(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	s.srv.DropConns()
	err := sess.Ping(context.Background())
	c.Check(err, ErrorMatches, "cannot ping: .*")
	c.Check(errors.Is(err, errs.ErrTransport), Equals, true)
	c.Check(sess.State(), Equals, session.Faulted)
	c.Check(sess.Usable(), Equals, false)
}

func (s *SessionSuite) TestStateTransitions(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	err := sess.Send(context.Background(), countRequest(c, "product"))
	c.Check(errors.Is(err, session.ErrState), Equals, true)
	_, err = sess.Read(context.Background(), 0)
	c.Check(errors.Is(err, session.ErrState), Equals, true)
	c.Check(sess.Finish(), ErrorMatches, "invalid session state: cannot move from serving to ready, session is ready")

	c.Assert(sess.Begin(), IsNil)
	c.Check(sess.State(), Equals, session.Serving)
	c.Check(sess.Usable(), Equals, false)
	c.Check(errors.Is(sess.Begin(), session.ErrState), Equals, true)
	c.Assert(sess.Finish(), IsNil)
	c.Check(sess.State(), Equals, session.Ready)
}

func (s *SessionSuite) TestRequestResponse(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Assert(sess.Begin(), IsNil)
	c.Assert(sess.Send(context.Background(), countRequest(c, "product")), IsNil)
	resp, err := sess.Read(context.Background(), time.Second)
	c.Assert(err, IsNil)
	c.Check(resp.Status, Equals, wire.StatusOK)
	c.Check(resp.Seq, Equals, 0)
	c.Check(resp.Terminal(), Equals, true)
	var result struct{ Count int }
	c.Assert(json.Unmarshal(resp.Data, &result), IsNil)
	c.Check(result.Count, Equals, 3)
	c.Assert(sess.Finish(), IsNil)

	reqs := s.srv.Requests()
	c.Assert(reqs, HasLen, 1)
	c.Check(reqs[0].RequestType, Equals, wire.Query)
	c.Check(reqs[0].Query.Schema, Equals, "product")
}

func (s *SessionSuite) TestReadCancelFaults(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Assert(sess.Begin(), IsNil)
	c.Assert(sess.Send(context.Background(), countRequest(c, "silent")), IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := sess.Read(ctx, 0)
	c.Check(err, ErrorMatches, "cannot read response: context canceled")
	c.Check(errors.Is(err, context.Canceled), Equals, true)
	c.Check(sess.State(), Equals, session.Faulted)
}

func (s *SessionSuite) TestReadTimeoutFaults(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Assert(sess.Begin(), IsNil)
	c.Assert(sess.Send(context.Background(), countRequest(c, "silent")), IsNil)

	_, err := sess.Read(context.Background(), 50*time.Millisecond)
	c.Check(errors.Is(err, errs.ErrTransport), Equals, true)
	c.Check(errors.Is(err, os.ErrDeadlineExceeded), Equals, true)
	c.Check(sess.State(), Equals, session.Faulted)
}

func (s *SessionSuite) TestReadAfterServerHangup(c *C) {
	sess := s.dial(c)
	defer sess.Close()

	c.Assert(sess.Begin(), IsNil)
	c.Assert(sess.Send(context.Background(), countRequest(c, "silent")), IsNil)
	waitRequests(c, s.srv, 1)
	s.srv.DropConns()

	_, err := sess.Read(context.Background(), time.Second)
	c.Check(errors.Is(err, io.EOF), Equals, true)
	c.Check(errors.Is(err, errs.ErrTransport), Equals, true)
	c.Check(sess.State(), Equals, session.Faulted)
}

func (s *SessionSuite) TestCloseSendsDisconnect(c *C) {
	sess := s.dial(c)
	c.Assert(sess.Close(), IsNil)
	c.Check(sess.State(), Equals, session.Closed)

	deadline := time.Now().Add(5 * time.Second)
	for s.srv.OpenConns() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Check(s.srv.OpenConns(), Equals, 0)
	reqs := s.srv.Requests()
	c.Assert(reqs, HasLen, 1)
	c.Check(reqs[0].RequestType, Equals, wire.Disconnect)

	// Closing twice is harmless.
	sess.Close()
	c.Check(sess.State(), Equals, session.Closed)
}

func (s *SessionSuite) TestFaultIsFinal(c *C) {
	sess := s.dial(c)
	sess.Fault(errors.New("boom"))
	c.Check(sess.State(), Equals, session.Faulted)
	sess.Close()
	c.Check(sess.State(), Equals, session.Faulted)
	c.Check(errors.Is(sess.Begin(), session.ErrState), Equals, true)
}

func (s *SessionSuite) TestStateString(c *C) {
	c.Check(session.Ready.String(), Equals, "ready")
	c.Check(session.Faulted.String(), Equals, "faulted")
	c.Check(session.State(42).String(), Equals, "State(42)")
}
