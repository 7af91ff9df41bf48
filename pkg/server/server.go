/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: server.go
Description: Generic request/response TCP server used by both on-device agents.
A single accept loop owns the listener, serves exactly one framed request per
connection, and reports bind success or failure back to the starter before any
request is served. Address-in-use is reported as a recoverable condition so
callers can retry on another port.
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/kleascm/akaylee-probe/pkg/wire"
	"github.com/sirupsen/logrus"
)

// ErrAddressInUse is returned by TryStart when the port is already bound.
var ErrAddressInUse = errors.New("address already in use")

// Handler supplies the request semantics of a server.
type Handler[Req, Resp any] interface {
	// OnRequest answers one request. A non-nil error is an unrecoverable
	// fault: no response is written and the server shuts down.
	OnRequest(ctx context.Context, req Req) (Resp, error)
	// ShouldClose reports whether the server stops after answering req.
	ShouldClose(req Req) bool
}

// Options tunes a server.
type Options struct {
	Logger       *logrus.Entry
	MaxFrameSize uint32
}

// Server is a running accept loop bound to a TCP address.
type Server[Req, Resp any] struct {
	handler  Handler[Req, Resp]
	log      *logrus.Entry
	maxFrame uint32

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc

	closed atomic.Bool
	done   chan struct{}

	mu    sync.Mutex
	fault error
}

// TryStart binds addr and starts serving in a background goroutine. It blocks
// until the bind attempt is decided. A port that is already in use yields
// (nil, ErrAddressInUse); any other bind failure is returned wrapped.
func TryStart[Req, Resp any](addr string, handler Handler[Req, Resp], opts Options) (*Server[Req, Resp], error) {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	maxFrame := opts.MaxFrameSize
	if maxFrame == 0 {
		maxFrame = wire.DefaultMaxFrameSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server[Req, Resp]{
		handler:  handler,
		log:      log.WithField("addr", addr),
		maxFrame: maxFrame,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	go s.run(addr, ready)

	if err := <-ready; err != nil {
		cancel()
		if errors.Is(err, syscall.EADDRINUSE) {
			s.log.Debug("Address already in use")
			return nil, ErrAddressInUse
		}
		return nil, fmt.Errorf("failed to start server on %s: %w", addr, err)
	}
	return s, nil
}

// run binds the listener, signals the outcome on ready, then serves until the
// listener closes.
func (s *Server[Req, Resp]) run(addr string, ready chan<- error) {
	defer close(s.done)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		ready <- err
		return
	}
	s.listener = listener
	ready <- nil

	s.log.WithField("port", s.Port()).Info("Server listening")

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				s.log.Debug("Accept loop finished")
				return
			}
			s.shutdown(fmt.Errorf("accept failed: %w", err))
			return
		}
		if stop := s.serve(conn); stop {
			return
		}
	}
}

// serve handles one connection and reports whether the loop must stop.
func (s *Server[Req, Resp]) serve(conn net.Conn) bool {
	defer conn.Close()

	var req Req
	if err := wire.ReadFrameLimit(conn, &req, s.maxFrame); err != nil {
		s.shutdown(fmt.Errorf("failed to read request: %w", err))
		return true
	}

	resp, err := s.handler.OnRequest(s.ctx, req)
	if err != nil {
		s.shutdown(fmt.Errorf("request handler failed: %w", err))
		return true
	}

	if err := wire.WriteFrame(conn, resp); err != nil {
		s.shutdown(fmt.Errorf("failed to write response: %w", err))
		return true
	}

	if s.handler.ShouldClose(req) {
		s.log.Info("Close requested, stopping server")
		_ = s.Close()
		return true
	}
	return false
}

// shutdown records a fault and closes the listener.
func (s *Server[Req, Resp]) shutdown(err error) {
	s.mu.Lock()
	if s.fault == nil {
		s.fault = err
	}
	s.mu.Unlock()

	s.log.WithError(err).Error("Server fault, closing listener")
	_ = s.Close()
}

// Close stops the server. Closing an already closed server logs and returns
// the listener error.
func (s *Server[Req, Resp]) Close() error {
	s.closed.Store(true)
	s.cancel()
	if err := s.listener.Close(); err != nil {
		s.log.WithError(err).Debug("Listener close failed")
		return fmt.Errorf("failed to close listener: %w", err)
	}
	return nil
}

// IsClosed reports whether Close has been called or the loop faulted.
func (s *Server[Req, Resp]) IsClosed() bool {
	return s.closed.Load()
}

// Port returns the bound TCP port.
func (s *Server[Req, Resp]) Port() int {
	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Addr returns the bound address.
func (s *Server[Req, Resp]) Addr() net.Addr {
	return s.listener.Addr()
}

// Done is closed when the accept loop has exited.
func (s *Server[Req, Resp]) Done() <-chan struct{} {
	return s.done
}

// Err returns the fault that stopped the server, if any.
func (s *Server[Req, Resp]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}
