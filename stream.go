// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package zteradb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/zteradb/zteradb-go/internal/errs"
	"github.com/zteradb/zteradb-go/internal/session"
	"github.com/zteradb/zteradb-go/internal/wire"
)

// defaultDrainTimeout bounds each frame read while a closed stream drains,
// and the wait of Close for the drain, when no frame timeout is configured.
const defaultDrainTimeout = time.Second

// errStreamAborted faults a session whose stream could not be drained in
// time.
var errStreamAborted = errors.New("stream closed before its last frame")

// Stream iterates over the records of a Select. It holds a pooled session
// until the last frame has been read; Close must be called once iteration
// is finished. A Stream cannot be restarted.
//
// Frames are read by a goroutine that hands them over one at a time, so at
// most one record is held that the caller has not asked for.
type Stream struct {
	client *Client
	sess   *session.Session
	ctx    context.Context

	frames chan json.RawMessage
	stop   chan struct{}
	done   chan struct{}
	// perr is written by the producer before frames is closed.
	perr error

	cur      json.RawMessage
	record   Record
	err      error
	finished bool
	closed   bool
}

func newStream(ctx context.Context, c *Client, sess *session.Session) *Stream {
	s := &Stream{
		client: c,
		sess:   sess,
		ctx:    ctx,
		frames: make(chan json.RawMessage),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.produce()
	return s
}

// produce reads frames until the terminal one, then gives the session back
// to the pool. Once stop is closed, or the caller's context ends, the
// remaining frames are read and dropped so that the session can be reused.
func (s *Stream) produce() {
	defer close(s.done)
	defer close(s.frames)

	ctx := s.ctx
	timeout := s.client.frameTimeout
	draining := false
	drain := func(cause error) {
		draining = true
		s.perr = cause
		ctx = context.WithoutCancel(s.ctx)
		timeout = s.client.drainTimeout()
	}

	err := func() error {
		for seq := 0; ; seq++ {
			resp, err := s.sess.Read(ctx, timeout)
			if err != nil {
				return readError(err)
			}
			// An error frame ends the stream wherever it comes, with or
			// without a sequence number.
			if resp.Status == wire.StatusError {
				return s.client.serverError(s.sess, resp)
			}
			if resp.Seq != seq {
				err := fmt.Errorf("%w: got frame %d, want %d", errs.ErrOutOfOrderFrame, resp.Seq, seq)
				s.sess.Fault(err)
				return err
			}
			switch resp.Status {
			case wire.StatusData:
			case wire.StatusDone, wire.StatusOK:
				return nil
			default:
				err := fmt.Errorf("cannot read records: unexpected %q frame", resp.Status)
				s.sess.Fault(err)
				return err
			}
			if draining {
				continue
			}
			select {
			case s.frames <- resp.Data:
			case <-s.stop:
				drain(nil)
			case <-s.ctx.Done():
				drain(fmt.Errorf("cannot read records: %w", s.ctx.Err()))
			}
		}
	}()
	s.client.release(s.sess)
	if err == nil {
		return
	}
	select {
	case <-s.stop:
		// Records are no longer wanted, so a failed drain only costs the
		// session.
		s.client.logger.Debug("stream drain failed", "session", s.sess.ID(), "err", err)
	default:
		if s.perr == nil {
			s.perr = err
		}
	}
}

// readError classifies an error returned while reading a frame.
func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", errs.ErrTruncatedStream, err)
	}
	return err
}

// Next advances to the next record. It returns false when the stream is
// exhausted or failed; Err tells which.
func (s *Stream) Next() bool {
	if s.finished {
		return false
	}
	data, ok := <-s.frames
	if !ok {
		s.finish()
		return false
	}
	s.cur = data
	s.record = nil
	return true
}

func (s *Stream) finish() {
	s.finished = true
	if s.err == nil {
		s.err = s.perr
	}
}

// Record returns the current record. It returns nil if the record cannot be
// decoded, and the error is reported by Err.
func (s *Stream) Record() Record {
	if s.record != nil || s.cur == nil {
		return s.record
	}
	r, err := decodeRecord(s.cur)
	if err != nil {
		if s.err == nil {
			s.err = err
		}
		return nil
	}
	s.record = r
	return r
}

// Decode unmarshals the current record into v.
func (s *Stream) Decode(v any) error {
	if s.cur == nil {
		return fmt.Errorf("cannot decode record: Next has not returned a record")
	}
	if err := json.Unmarshal(s.cur, v); err != nil {
		return fmt.Errorf("cannot decode record: %w", err)
	}
	return nil
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the iteration. Records not yet read are drained and dropped,
// and the session is back in the pool when Close returns. A drain that
// outlasts the frame timeout aborts the session instead. Close can be called more
// than once and returns the error that ended the stream.
func (s *Stream) Close() error {
	if s.closed {
		return s.err
	}
	s.closed = true
	close(s.stop)
	timer := time.NewTimer(s.client.drainTimeout())
	select {
	case <-s.done:
		timer.Stop()
	case <-timer.C:
		// The producer is stuck in a read; closing the connection ends it.
		s.sess.Fault(errStreamAborted)
		<-s.done
	}
	if !s.finished {
		s.finish()
	}
	s.cur = nil
	s.record = nil
	return s.err
}

// All reads the remaining records into the slice pointed to by slicePtr and
// closes the stream. The slice elements may be structs, pointers to structs
// or maps with string keys.
func (s *Stream) All(slicePtr any) (err error) {
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	ptrVal := reflect.ValueOf(slicePtr)
	if ptrVal.Kind() != reflect.Pointer {
		return fmt.Errorf("need pointer to slice, got %s", ptrVal.Kind())
	}
	if ptrVal.IsNil() {
		return fmt.Errorf("need pointer to slice, got nil")
	}
	sliceVal := ptrVal.Elem()
	if sliceVal.Kind() != reflect.Slice {
		return fmt.Errorf("need pointer to slice, got pointer to %s", sliceVal.Kind())
	}
	elemType := sliceVal.Type().Elem()
	switch elemType.Kind() {
	case reflect.Struct, reflect.Map:
	case reflect.Pointer:
		if elemType.Elem().Kind() != reflect.Struct {
			return fmt.Errorf("need slice of structs/maps, got slice of pointer to %s", elemType.Elem().Kind())
		}
	default:
		return fmt.Errorf("need slice of structs/maps, got slice of %s", elemType.Kind())
	}

	for s.Next() {
		var out reflect.Value
		if elemType.Kind() == reflect.Pointer {
			out = reflect.New(elemType.Elem())
		} else {
			out = reflect.New(elemType)
		}
		if err := s.Decode(out.Interface()); err != nil {
			return err
		}
		if elemType.Kind() == reflect.Pointer {
			sliceVal = reflect.Append(sliceVal, out)
		} else {
			sliceVal = reflect.Append(sliceVal, out.Elem())
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	ptrVal.Elem().Set(sliceVal)
	return nil
}
