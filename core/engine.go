// Package core wires the serving pipeline: the acceptor spawns one
// connection task per accepted socket, and each task runs
// parse -> rate-limit -> route -> respond in a keep-alive loop.
package core

import (
	"bytes"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/surgeserve/surge/core/cache"
	"github.com/surgeserve/surge/core/http"
	"github.com/surgeserve/surge/core/metrics"
	"github.com/surgeserve/surge/core/pools"
	"github.com/surgeserve/surge/core/ratelimit"
	"github.com/surgeserve/surge/core/router"
)

// Options configures an Engine. Zero values get sensible defaults.
type Options struct {
	Logger          zerolog.Logger
	MaxRequestBytes int
	IdleTimeout     time.Duration

	// Limiter is consulted before routing; nil disables admission
	// control.
	Limiter *ratelimit.Limiter
	// Cache backs ServeStatic; nil disables the static layer.
	Cache *cache.Cache
	// Metrics defaults to a fresh collector when nil.
	Metrics *metrics.Collector
}

// Engine owns the immutable route table and the shared subsystems
// (limiter, cache, metrics) handed to every connection task. Handlers
// and the router receive references to this state but never own it;
// ownership stays with the process entry point.
type Engine struct {
	router  *router.Router
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	metrics *metrics.Collector
	bufs    *pools.BufferPool
	log     zerolog.Logger

	maxRequestBytes int
	idleTimeout     time.Duration
}

// NewEngine creates an engine.
func NewEngine(opts Options) *Engine {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 1 << 20
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}

	return &Engine{
		router:          router.New(),
		limiter:         opts.Limiter,
		cache:           opts.Cache,
		metrics:         opts.Metrics,
		bufs:            pools.NewBufferPool(),
		log:             opts.Logger,
		maxRequestBytes: opts.MaxRequestBytes,
		idleTimeout:     opts.IdleTimeout,
	}
}

// Metrics returns the engine's collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Handle registers a route.
func (e *Engine) Handle(method http.Method, path string, h router.Handler) {
	e.router.Handle(method, path, h)
}

// GET registers a GET route.
func (e *Engine) GET(path string, h router.Handler) { e.Handle(http.MethodGet, path, h) }

// POST registers a POST route.
func (e *Engine) POST(path string, h router.Handler) { e.Handle(http.MethodPost, path, h) }

// PUT registers a PUT route.
func (e *Engine) PUT(path string, h router.Handler) { e.Handle(http.MethodPut, path, h) }

// DELETE registers a DELETE route.
func (e *Engine) DELETE(path string, h router.Handler) { e.Handle(http.MethodDelete, path, h) }

// HEAD registers a HEAD route.
func (e *Engine) HEAD(path string, h router.Handler) { e.Handle(http.MethodHead, path, h) }

// MountHealth registers GET /health, answering 200 once the engine is
// ready to serve.
func (e *Engine) MountHealth() {
	e.GET("/health", func(_ *http.Request, _ router.Params) *http.Response {
		return http.Text(200, "ok")
	})
}

// MountMetrics registers GET /metrics with the plain-text exposition.
func (e *Engine) MountMetrics() {
	e.GET("/metrics", func(_ *http.Request, _ router.Params) *http.Response {
		var buf bytes.Buffer
		if err := e.metrics.WritePrometheus(&buf); err != nil {
			return http.Err(500)
		}
		resp := http.NewResponse(200)
		resp.SetBytes("text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
		return resp
	})
}

// ServeStatic registers GET and HEAD routes under prefix serving files
// from the engine's cache, e.g. prefix "/static" serves
// /static/css/site.css from <cache root>/css/site.css.
func (e *Engine) ServeStatic(prefix string) {
	if e.cache == nil {
		panic("core: ServeStatic requires an engine cache")
	}

	h := func(req *http.Request, ps router.Params) *http.Response {
		entry, err := e.cache.Get(ps["filepath"])
		if err != nil {
			return http.Err(404)
		}

		if notModified(req, entry) {
			resp := http.NewResponse(304)
			resp.Header.Set("ETag", entry.ETag)
			resp.OmitBody = true
			return resp
		}

		resp := http.NewResponse(200)
		if entry.Mapped() {
			resp.SetMapped(entry.ContentType, entry.Bytes())
		} else {
			resp.SetBytes(entry.ContentType, entry.Bytes())
		}
		resp.Header.Set("ETag", entry.ETag)
		resp.Header.Set("Last-Modified", entry.ModTime.UTC().Format(httpTimeFormat))
		if req.Method == http.MethodHead {
			resp.OmitBody = true
		}
		return resp
	}

	pattern := strings.TrimSuffix(prefix, "/") + "/*filepath"
	e.Handle(http.MethodGet, pattern, h)
	e.Handle(http.MethodHead, pattern, h)
}

const httpTimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// notModified evaluates the request's cache validators against an
// entry: If-None-Match wins over If-Modified-Since.
func notModified(req *http.Request, entry *cache.Entry) bool {
	if inm := req.Header.Get("If-None-Match"); inm != "" {
		if inm == "*" {
			return true
		}
		for _, token := range strings.Split(inm, ",") {
			if strings.TrimSpace(token) == entry.ETag {
				return true
			}
		}
		return false
	}

	if ims := req.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := time.Parse(httpTimeFormat, ims); err == nil {
			return !entry.ModTime.Truncate(time.Second).After(t)
		}
	}
	return false
}

// dispatch runs the per-request pipeline after a successful parse.
// closeConn reports whether the connection must close afterward even if
// the client asked for keep-alive (handler failures poison the socket's
// handler state; well-formed 404/405/429 do not).
func (e *Engine) dispatch(req *http.Request) (resp *http.Response, closeConn bool) {
	if e.limiter != nil {
		ok, retry := e.limiter.Allow(clientIP(req.RemoteAddr))
		if !ok {
			e.metrics.RecordRateLimited()
			resp := http.Err(429)
			resp.Header.Set("Retry-After", strconv.Itoa(retrySeconds(retry)))
			return resp, false
		}
	}

	h, params, err := e.router.Lookup(req.Method, req.Path)
	if err != nil {
		var mna *router.MethodNotAllowedError
		if errors.As(err, &mna) {
			resp := http.Err(405)
			resp.Header.Set("Allow", strings.Join(mna.Allowed, ", "))
			return resp, false
		}
		return http.Err(404), false
	}

	return e.invoke(h, req, params)
}

// invoke runs a handler, converting panics and nil responses into a
// logged 500 that closes the connection.
func (e *Engine) invoke(h router.Handler, req *http.Request, params router.Params) (resp *http.Response, closeConn bool) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Interface("panic", r).
				Str("method", req.Method.String()).
				Str("path", req.Path).
				Str("remote", req.RemoteAddr).
				Msg("handler panicked")
			resp = http.Err(500)
			closeConn = true
		}
	}()

	resp = h(req, params)
	if resp == nil {
		e.log.Error().
			Str("method", req.Method.String()).
			Str("path", req.Path).
			Str("remote", req.RemoteAddr).
			Msg("handler returned nil response")
		return http.Err(500), true
	}
	return resp, false
}

func retrySeconds(d time.Duration) int {
	s := int(d / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// clientIP strips the port from a peer address for rate-limit keying.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
