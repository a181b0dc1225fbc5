// Copyright 2026 The ZTeraDB Go Client Authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package wire implements the ZTeraDB framing: every frame is a two byte big
// endian length followed by that many bytes of UTF-8 JSON.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxFrameSize is the largest body a frame can carry.
const MaxFrameSize = math.MaxUint16

const headerSize = 2

// ErrFrameTooLarge is returned when a body does not fit the length prefix.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame encodes v as JSON and writes it as one frame with a single call
// to w.Write.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cannot encode frame: %w", err)
	}
	return WriteRaw(w, body)
}

// WriteRaw writes body as one frame.
func WriteRaw(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, headerSize+len(body))
	binary.BigEndian.PutUint16(buf, uint16(len(body)))
	copy(buf[headerSize:], body)
	_, err := w.Write(buf)
	return err
}

// ReadRaw reads one frame and returns its body. It returns io.EOF if r ends
// cleanly before a frame starts and io.ErrUnexpectedEOF if it ends inside one.
func ReadRaw(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.BigEndian.Uint16(header[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// ReadFrame reads one frame and decodes its body into v.
func ReadFrame(r io.Reader, v any) error {
	body, err := ReadRaw(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("cannot decode frame: %w", err)
	}
	return nil
}
