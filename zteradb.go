// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package zteradb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zteradb/zteradb-go/config"
	"github.com/zteradb/zteradb-go/internal/codec"
	"github.com/zteradb/zteradb-go/internal/errs"
	"github.com/zteradb/zteradb-go/internal/pool"
	"github.com/zteradb/zteradb-go/internal/session"
	"github.com/zteradb/zteradb-go/internal/wire"
	"github.com/zteradb/zteradb-go/query"
)

// Client runs queries on a ZTeraDB server over a pool of authenticated
// sessions. It is safe for concurrent use.
type Client struct {
	cfg          *config.Config
	logger       *slog.Logger
	frameTimeout time.Duration
	pool         *pool.Pool[*session.Session]
}

type options struct {
	logger       *slog.Logger
	frameTimeout time.Duration
	dialer       Dialer
	registerer   prometheus.Registerer
	namespace    string
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger of the client and its sessions.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFrameTimeout bounds the wait for each response frame. Zero, the
// default, leaves it to the caller's context.
func WithFrameTimeout(d time.Duration) Option {
	return func(o *options) { o.frameTimeout = d }
}

// Dialer opens network connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// WithDialer sets the dialer used to open connections.
func WithDialer(d Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithMetrics registers the connection pool collectors with reg under the
// given namespace.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(o *options) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// Open returns a client for the server at addr. A nil cfg uses the default
// set with config.SetDefault. The pool.min sessions are opened before Open
// returns.
func Open(ctx context.Context, addr string, cfg *config.Config, opts ...Option) (_ *Client, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot open client: %w", err)
		}
	}()

	if cfg == nil {
		def, ok := config.Default()
		if !ok {
			return nil, fmt.Errorf("%w: no config given and no default set", config.ErrInvalidConfig)
		}
		cfg = def
	} else {
		cp := *cfg
		cfg = &cp
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	var metrics *pool.Metrics
	if o.registerer != nil {
		metrics = pool.NewMetrics(o.registerer, o.namespace)
	}

	c := &Client{
		cfg:          cfg,
		logger:       o.logger,
		frameTimeout: o.frameTimeout,
	}
	sessOpts := session.Options{Logger: o.logger}
	if o.dialer != nil {
		sessOpts.Dialer = o.dialer
	}
	dial := func(ctx context.Context) (*session.Session, error) {
		return session.Dial(ctx, addr, cfg, sessOpts)
	}
	c.pool, err = pool.New(dial, pool.Options{
		Min:            cfg.Pool.Min,
		Max:            cfg.Pool.Max,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		HealthInterval: cfg.Pool.HealthInterval,
		DialRate:       cfg.Pool.DialRate,
		DialBurst:      cfg.Pool.DialBurst,
		Logger:         o.logger,
		Metrics:        metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := c.pool.Warm(ctx); err != nil {
		c.pool.Close()
		return nil, err
	}
	c.logger.Debug("client ready", "addr", addr, "config", cfg)
	return c, nil
}

// Close closes the idle sessions and refuses new queries. Sessions held by
// open streams are closed when those streams end.
func (c *Client) Close() error {
	return c.pool.Close()
}

// PoolStats is a snapshot of the session pool occupancy.
type PoolStats = pool.Stats

// Stats returns the occupancy of the session pool.
func (c *Client) Stats() PoolStats {
	return c.pool.Stats()
}

// Execution is the outcome of Execute. Stream is set for Select queries and
// Result for every other operation.
type Execution struct {
	Result *Result
	Stream *Stream
}

// Execute sends q and returns its outcome. The query is encoded before a
// session is acquired, so an invalid query never reaches the server. A
// Select returns as soon as the request is written; the caller must Close
// the stream. Server errors are returned as *ServerError. Nothing is
// retried.
func (c *Client) Execute(ctx context.Context, q *query.Query) (*Execution, error) {
	if q == nil {
		return nil, fmt.Errorf("cannot execute query: nil query")
	}
	env, err := codec.Encode(q)
	if err != nil {
		return nil, err
	}
	db := q.Database()
	if db == "" {
		db = c.cfg.DatabaseID
	}
	req := &wire.Request{
		RequestType: wire.Query,
		DatabaseID:  db,
		Env:         string(c.cfg.Env),
		Query:       env,
	}

	sess, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot execute query: %w", err)
	}
	if err := sess.Begin(); err != nil {
		c.release(sess)
		return nil, fmt.Errorf("cannot execute query: %w", err)
	}
	if err := sess.Send(ctx, req); err != nil {
		c.release(sess)
		return nil, fmt.Errorf("cannot execute query: %w", err)
	}

	if q.Operation() == query.Select {
		return &Execution{Stream: newStream(ctx, c, sess)}, nil
	}
	res, err := c.readResult(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &Execution{Result: &res}, nil
}

// Run executes an Insert, Update, Delete or Count and returns its result.
func (c *Client) Run(ctx context.Context, q *query.Query) (Result, error) {
	if q != nil && q.Operation() == query.Select {
		return Result{}, fmt.Errorf("cannot run query: select queries return records, use Iter")
	}
	exec, err := c.Execute(ctx, q)
	if err != nil {
		return Result{}, err
	}
	return *exec.Result, nil
}

// Iter executes a Select and returns a stream over its records.
func (c *Client) Iter(ctx context.Context, q *query.Query) (*Stream, error) {
	if q != nil && q.Operation() != query.Select {
		return nil, fmt.Errorf("cannot iterate: %s queries return no records", q.Operation())
	}
	exec, err := c.Execute(ctx, q)
	if err != nil {
		return nil, err
	}
	return exec.Stream, nil
}

// GetAll executes a Select and returns all of its records.
func (c *Client) GetAll(ctx context.Context, q *query.Query) ([]Record, error) {
	st, err := c.Iter(ctx, q)
	if err != nil {
		return nil, err
	}
	var records []Record
	for st.Next() {
		r := st.Record()
		if r == nil {
			break
		}
		records = append(records, r)
	}
	if err := st.Close(); err != nil {
		return nil, err
	}
	return records, nil
}

// readResult reads the single terminal frame of a non Select query and
// gives the session back to the pool.
func (c *Client) readResult(ctx context.Context, sess *session.Session) (res Result, err error) {
	defer c.release(sess)
	defer func() {
		if err != nil && !errors.Is(err, errs.ErrServer) {
			err = fmt.Errorf("cannot read result: %w", err)
		}
	}()

	resp, err := sess.Read(ctx, c.frameTimeout)
	if err != nil {
		return Result{}, readError(err)
	}
	if resp.Status == wire.StatusError {
		return Result{}, c.serverError(sess, resp)
	}
	if resp.Seq != 0 {
		err := fmt.Errorf("%w: got frame %d, want 0", errs.ErrOutOfOrderFrame, resp.Seq)
		sess.Fault(err)
		return Result{}, err
	}
	if resp.Status == wire.StatusOK {
		return decodeResult(resp.Data)
	}
	err = fmt.Errorf("unexpected %q frame", resp.Status)
	sess.Fault(err)
	return Result{}, err
}

// serverError converts an error frame. The session stays usable unless its
// token has expired.
func (c *Client) serverError(sess *session.Session, resp *wire.Response) error {
	serr := &errs.ServerError{Code: resp.Code, Message: resp.Message}
	if serr.Code == 0 {
		serr.Code = int(resp.ResponseCode)
	}
	if serr.Code == int(wire.TokenExpired) {
		sess.Fault(serr)
	}
	return serr
}

// drainTimeout bounds the reads of a stream closed before its last frame.
func (c *Client) drainTimeout() time.Duration {
	if c.frameTimeout > 0 {
		return c.frameTimeout
	}
	return defaultDrainTimeout
}

// release finishes the request on sess and hands it back to the pool.
func (c *Client) release(sess *session.Session) {
	if sess.State() == session.Serving {
		if err := sess.Finish(); err != nil {
			c.logger.Debug("cannot finish request", "session", sess.ID(), "err", err)
		}
	}
	c.pool.Release(sess)
}
