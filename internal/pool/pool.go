// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package pool keeps a bounded set of reusable connections.
//
// At most Max connections serve requests at once; callers beyond that block
// until a connection is released, their context ends or the acquisition
// timeout passes. Connections are opened lazily, Min of them are kept open
// once Warm has created them, and a connection that is no longer usable on
// release is closed rather than handed out again.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/zteradb/zteradb-go/internal/errs"
)

// Resource is a pooled connection.
type Resource interface {
	// Usable reports whether the resource may be handed out again.
	Usable() bool
	// Ping checks an idle resource.
	Ping(ctx context.Context) error
	Close() error
}

// Factory opens a new resource.
type Factory[R Resource] func(ctx context.Context) (R, error)

// Options sizes a Pool.
type Options struct {
	Min int
	Max int
	// AcquireTimeout bounds the wait for a free slot. Zero leaves it to the
	// caller's context.
	AcquireTimeout time.Duration
	// IdleTimeout closes idle resources above Min after that long unused.
	IdleTimeout time.Duration
	// HealthInterval is the period of the health loop. Zero disables it.
	HealthInterval time.Duration
	// DialRate limits resources opened per second. Zero is unlimited.
	DialRate  float64
	DialBurst int

	Logger  *slog.Logger
	Metrics *Metrics
}

// Stats is a snapshot of the pool occupancy.
type Stats struct {
	Min   int
	Max   int
	Live  int
	Idle  int
	InUse int
}

type idleEntry[R Resource] struct {
	res      R
	lastUsed time.Time
}

// Pool is a bounded pool of resources of type R.
type Pool[R Resource] struct {
	factory Factory[R]
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	loop   sync.WaitGroup

	mu sync.Mutex
	// idle is ordered from least to most recently used.
	idle   []*idleEntry[R]
	live   int
	inUse  int
	closed bool
}

// New returns a pool that opens resources with factory. It starts the
// health loop when opts.HealthInterval is positive.
func New[R Resource](factory Factory[R], opts Options) (*Pool[R], error) {
	if opts.Max < 1 {
		return nil, fmt.Errorf("cannot create pool: max size %d is less than 1", opts.Max)
	}
	if opts.Min < 0 || opts.Min > opts.Max {
		return nil, fmt.Errorf("cannot create pool: min size %d is not between 0 and %d", opts.Min, opts.Max)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.DialRate > 0 {
		limit = rate.Limit(opts.DialRate)
	}
	burst := opts.DialBurst
	if burst < 1 {
		burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[R]{
		factory: factory,
		opts:    opts,
		logger:  logger.With("component", "pool"),
		metrics: opts.Metrics,
		sem:     semaphore.NewWeighted(int64(opts.Max)),
		limiter: rate.NewLimiter(limit, burst),
		ctx:     ctx,
		cancel:  cancel,
	}
	p.metrics.observe(p.Stats())
	if opts.HealthInterval > 0 {
		p.loop.Add(1)
		go p.healthLoop()
	}
	return p, nil
}

// Warm opens resources until Min of them are live.
func (p *Pool[R]) Warm(ctx context.Context) error {
	var held []R
	defer func() {
		for _, res := range held {
			p.Release(res)
		}
	}()
	// Idle resources are handed out first, so hold each one until enough
	// are live.
	for p.Stats().Live < p.opts.Min {
		res, err := p.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("cannot warm pool: %w", err)
		}
		held = append(held, res)
	}
	return nil
}

// Acquire hands out an idle resource, or opens a new one when none is idle
// and fewer than Max are live. It blocks while Max resources are in use.
// Every successful Acquire must be paired with exactly one Release.
func (p *Pool[R]) Acquire(ctx context.Context) (R, error) {
	var zero R
	start := time.Now()

	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	if p.opts.AcquireTimeout > 0 {
		actx, cancel = context.WithTimeout(actx, p.opts.AcquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(actx, 1); err != nil {
		switch {
		case p.ctx.Err() != nil:
			return zero, errs.ErrPoolClosed
		case ctx.Err() != nil:
			return zero, fmt.Errorf("cannot acquire connection: %w", ctx.Err())
		}
		p.metrics.timedOut()
		return zero, fmt.Errorf("%w: no connection released within %s", errs.ErrPoolExhausted, p.opts.AcquireTimeout)
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			p.sem.Release(1)
			return zero, errs.ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			e := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.inUse++
			p.mu.Unlock()
			if !e.res.Usable() {
				p.destroy(e.res, "faulted", true)
				continue
			}
			p.observe()
			p.metrics.acquired(time.Since(start))
			return e.res, nil
		}
		p.live++
		p.inUse++
		p.mu.Unlock()

		res, err := p.dial(actx)
		if err != nil {
			p.mu.Lock()
			p.live--
			p.inUse--
			p.mu.Unlock()
			p.sem.Release(1)
			p.observe()
			if p.ctx.Err() != nil {
				return zero, errs.ErrPoolClosed
			}
			return zero, err
		}
		p.observe()
		p.metrics.acquired(time.Since(start))
		return res, nil
	}
}

func (p *Pool[R]) dial(ctx context.Context) (R, error) {
	var zero R
	if err := p.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("cannot open connection: %w", err)
	}
	res, err := p.factory(ctx)
	p.metrics.dialed(err)
	if err != nil {
		p.logger.Debug("cannot open connection", "err", err)
		return zero, err
	}
	return res, nil
}

// Release returns a resource obtained from Acquire. A resource that is no
// longer usable, or released after Close, is closed instead.
func (p *Pool[R]) Release(res R) {
	defer p.sem.Release(1)

	p.mu.Lock()
	p.inUse--
	switch {
	case p.closed:
		p.live--
		p.mu.Unlock()
		p.close(res, "closed")
	case !res.Usable():
		p.live--
		p.mu.Unlock()
		p.close(res, "faulted")
	default:
		p.idle = append(p.idle, &idleEntry[R]{res: res, lastUsed: time.Now()})
		p.mu.Unlock()
	}
	p.observe()
}

// destroy closes a resource taken from the idle list by a holder of a
// semaphore slot. inUse tells whether it was counted as in use.
func (p *Pool[R]) destroy(res R, reason string, inUse bool) {
	p.mu.Lock()
	p.live--
	if inUse {
		p.inUse--
	}
	p.mu.Unlock()
	p.close(res, reason)
	p.observe()
}

func (p *Pool[R]) close(res R, reason string) {
	p.metrics.destroyed(reason)
	if err := res.Close(); err != nil {
		p.logger.Debug("cannot close connection", "reason", reason, "err", err)
	}
}

// Stats returns the current occupancy.
func (p *Pool[R]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Min:   p.opts.Min,
		Max:   p.opts.Max,
		Live:  p.live,
		Idle:  len(p.idle),
		InUse: p.inUse,
	}
}

func (p *Pool[R]) observe() {
	if p.metrics != nil {
		p.metrics.observe(p.Stats())
	}
}

// Close closes the idle resources and makes later calls to Acquire fail
// with ErrPoolClosed. Resources in use are closed when released.
func (p *Pool[R]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.live -= len(idle)
	p.mu.Unlock()

	p.cancel()
	p.loop.Wait()

	var errList []error
	for _, e := range idle {
		p.metrics.destroyed("closed")
		if err := e.res.Close(); err != nil {
			errList = append(errList, err)
		}
	}
	p.observe()
	return errors.Join(errList...)
}

func (p *Pool[R]) healthLoop() {
	defer p.loop.Done()
	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.checkHealth()
		case <-p.ctx.Done():
			return
		}
	}
}

// checkHealth closes resources idle for longer than IdleTimeout while more
// than Min are live, then pings the remaining idle ones. A resource is only
// pinged while its caller holds a free slot, so a busy pool skips the check.
func (p *Pool[R]) checkHealth() {
	now := time.Now()
	var expired []R
	p.mu.Lock()
	if p.opts.IdleTimeout > 0 {
		kept := p.idle[:0]
		for _, e := range p.idle {
			if now.Sub(e.lastUsed) > p.opts.IdleTimeout && p.live > p.opts.Min {
				expired = append(expired, e.res)
				p.live--
				continue
			}
			kept = append(kept, e)
		}
		p.idle = kept
	}
	entries := append([]*idleEntry[R](nil), p.idle...)
	p.mu.Unlock()

	for _, res := range expired {
		p.close(res, "idle")
	}
	if len(expired) > 0 {
		p.logger.Debug("closed idle connections", "count", len(expired))
		p.observe()
	}

	for _, e := range entries {
		if !p.sem.TryAcquire(1) {
			return
		}
		if p.take(e) {
			p.ping(e)
		}
		p.sem.Release(1)
	}
}

// take removes e from the idle list if it is still there.
func (p *Pool[R]) take(e *idleEntry[R]) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, f := range p.idle {
		if f == e {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return true
		}
	}
	return false
}

func (p *Pool[R]) ping(e *idleEntry[R]) {
	ctx, cancel := context.WithTimeout(p.ctx, p.opts.HealthInterval)
	defer cancel()
	if err := e.res.Ping(ctx); err != nil {
		p.logger.Debug("idle connection failed health check", "err", err)
		p.destroy(e.res, "unhealthy", false)
		return
	}
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		p.close(e.res, "closed")
		return
	}
	// Keep its place as the least recently used.
	p.idle = append([]*idleEntry[R]{e}, p.idle...)
	p.mu.Unlock()
}
