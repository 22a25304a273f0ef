package core

import (
	"errors"
	"net"
	"time"

	"github.com/surgeserve/surge/core/http"
)

// connContext is the per-connection state, owned exclusively by one
// connection task and destroyed when the socket closes.
type connContext struct {
	remoteAddr string
	created    time.Time
	served     int
	keepAlive  bool
}

// serveConn runs the keep-alive loop for one connection:
// AwaitingRequest -> Parsing -> Processing -> Responding, looping while
// keep-alive holds. Any I/O failure terminates only this task.
func (s *Server) serveConn(c net.Conn) {
	defer c.Close()

	e := s.engine
	cc := &connContext{
		remoteAddr: c.RemoteAddr().String(),
		created:    time.Now(),
		keepAlive:  true,
	}

	parser := http.NewParser(e.maxRequestBytes)
	readBuf := e.bufs.Get(8192)
	defer e.bufs.Put(readBuf)

	for cc.keepAlive {
		// One read window per request. A client that never completes a
		// request inside it is cut off (slowloris containment).
		_ = c.SetReadDeadline(time.Now().Add(e.idleTimeout))
		readStart := time.Now()

		req, perr := parser.Feed(nil) // leftover bytes from the last read
		for req == nil && perr == nil {
			n, rerr := c.Read(readBuf)
			if rerr != nil {
				if isTimeout(rerr) && parser.Started() {
					// Stalled mid-request: the client gets a 408.
					s.respondError(c, 408, readStart)
					return
				}
				// Idle timeout with nothing buffered, EOF, or a reset:
				// close silently. Expected under load, never escalated.
				return
			}
			req, perr = parser.Feed(readBuf[:n])
		}

		if perr != nil {
			status := 400
			var pe *http.ParseError
			if errors.As(perr, &pe) {
				status = pe.StatusCode()
			}
			e.log.Debug().Err(perr).Str("remote", cc.remoteAddr).Msg("parse failed")
			// The byte stream can no longer be trusted; respond and close.
			s.respondError(c, status, readStart)
			return
		}

		req.RemoteAddr = cc.remoteAddr
		start := time.Now()
		resp, closeAfter := e.dispatch(req)

		cc.keepAlive = req.KeepAlive() && !closeAfter && !s.closing.Load()

		_ = c.SetWriteDeadline(time.Now().Add(e.idleTimeout))
		werr := http.WriteResponse(c, resp, cc.keepAlive)
		e.metrics.RecordRequest(resp.Status, time.Since(start))
		cc.served++

		if werr != nil {
			return
		}
		parser.Reset()
	}
}

// respondError writes a terminal error response on a connection that is
// about to close.
func (s *Server) respondError(c net.Conn, status int, start time.Time) {
	_ = c.SetWriteDeadline(time.Now().Add(s.engine.idleTimeout))
	_ = http.WriteResponse(c, http.Err(status), false)
	s.engine.metrics.RecordRequest(status, time.Since(start))
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
