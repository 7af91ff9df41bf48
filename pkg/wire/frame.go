/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: frame.go
Description: Length-prefixed framing over a byte stream. Every message is a 4-byte
big-endian payload length followed by exactly that many CBOR bytes. Reads block
until the full payload has arrived.
*/

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the length prefix in bytes.
const HeaderSize = 4

// DefaultMaxFrameSize bounds the payload a reader will allocate for.
const DefaultMaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned when a header announces a payload above the limit.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

type flusher interface {
	Flush() error
}

// WriteFrame encodes v and writes it to w as a single frame.
func WriteFrame(w io.Writer, v any) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode frame payload: %w", err)
	}
	return WriteRaw(w, payload)
}

// WriteRaw writes an already encoded payload as a single frame. The header and
// payload go out in one write so a concurrent reader never sees a partial header.
func WriteRaw(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush frame: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one frame from r and decodes it into v.
func ReadFrame(r io.Reader, v any) error {
	return ReadFrameLimit(r, v, DefaultMaxFrameSize)
}

// ReadFrameLimit is ReadFrame with an explicit payload size limit.
func ReadFrameLimit(r io.Reader, v any, limit uint32) error {
	payload, err := ReadRaw(r, limit)
	if err != nil {
		return err
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode frame payload: %w", err)
	}
	return nil
}

// ReadRaw reads one frame from r and returns its undecoded payload. A stream
// that ends inside the header or the payload yields io.ErrUnexpectedEOF; a
// stream that ends before any byte of the header yields io.EOF.
func ReadRaw(r io.Reader, limit uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > limit {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, size, limit)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}
	return payload, nil
}
