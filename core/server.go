package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
)

// ErrServerClosed is returned by Serve after Shutdown closes the
// listener.
var ErrServerClosed = errors.New("core: server closed")

// ServerOptions tunes the acceptor.
type ServerOptions struct {
	// MaxConnections caps concurrently accepted connections; further
	// accepts block until a slot frees. Zero means unlimited.
	MaxConnections int
	// DrainTimeout bounds how long Shutdown waits for in-flight
	// request/response cycles before forcibly closing sockets.
	DrainTimeout time.Duration
}

// Server is the connection acceptor: it listens indefinitely and starts
// one independent task per accepted socket. Accepting never waits on a
// handler; N simultaneous clients finish in roughly the time of the
// slowest single request.
type Server struct {
	engine *Engine
	addr   string
	opts   ServerOptions

	ln      net.Listener
	wg      sync.WaitGroup
	closing atomic.Bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer creates a server for the engine.
func NewServer(e *Engine, addr string, opts ServerOptions) *Server {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 15 * time.Second
	}
	return &Server{
		engine: e,
		addr:   addr,
		opts:   opts,
		conns:  make(map[net.Conn]struct{}),
	}
}

// ListenAndServe binds the configured address and serves until
// Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until Shutdown. Transient accept
// errors are logged and retried after a short backoff; they never
// terminate the loop.
func (s *Server) Serve(ln net.Listener) error {
	if s.opts.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConnections)
	}
	s.connMu.Lock()
	s.ln = ln
	s.connMu.Unlock()

	s.engine.log.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			backoff *= 2
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.engine.log.Warn().Err(err).Dur("backoff", backoff).Msg("accept error")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.track(c)
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer s.untrack(c)
			s.serveConn(c)
		}(c)
	}
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting, lets outstanding connection tasks finish
// their current request/response cycle within the drain window, then
// forcibly closes whatever remains. The ctx can end the wait earlier.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.connMu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.abortConns()
		return ctx.Err()
	case <-timer.C:
		s.engine.log.Warn().Msg("drain window elapsed, aborting connections")
		s.abortConns()
		return nil
	}
}

func (s *Server) abortConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) track(c net.Conn) {
	s.connMu.Lock()
	s.conns[c] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(c net.Conn) {
	s.connMu.Lock()
	delete(s.conns, c)
	s.connMu.Unlock()
}
