/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: client.go
Description: Host side of the framed request/response protocol. Each query
opens a fresh connection, sends one request, reads one response and closes.
Dial failures are reported as ErrUnreachable, failures after the connection was
made as ErrNoReply, so callers know whether the server may have seen the request.
*/

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-probe/pkg/wire"
)

// ErrUnreachable means no server accepted a connection at the address. The
// request was never sent.
var ErrUnreachable = errors.New("server unreachable")

// ErrNoReply means the connection was made but no complete response came back.
// The server may have acted on the request.
var ErrNoReply = errors.New("no reply from server")

// DefaultTimeout bounds one round trip. It has to cover a daemon capture that
// stabilizes the GUI and retries the dump several times.
const DefaultTimeout = time.Minute

// Query performs one round trip to addr.
func Query[Req, Resp any](ctx context.Context, addr string, req Req, timeout time.Duration) (Resp, error) {
	var resp Resp
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return resp, fmt.Errorf("%w: %s: %v", ErrUnreachable, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := wire.WriteFrame(conn, req); err != nil {
		return resp, classify(addr, err)
	}
	if err := wire.ReadFrame(conn, &resp); err != nil {
		return resp, classify(addr, err)
	}
	return resp, nil
}

// classify maps connection teardown and timeouts on an open connection to
// ErrNoReply and leaves protocol errors as they are.
func classify(addr string, err error) error {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %s closed the connection: %v", ErrNoReply, addr, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s timed out: %v", ErrNoReply, addr, err)
	}
	return fmt.Errorf("query %s: %w", addr, err)
}

// Gone reports whether err means the server went away, either before the
// request was sent or before it answered.
func Gone(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrNoReply)
}
