/*
Package surge provides a concurrent HTTP/1.1 request-serving core for Go.

Surge serves every accepted connection on its own goroutine, so N
simultaneous clients finish in roughly the time of the slowest single
request rather than their sum. The core is built from small, composable
pieces:

  - app: application lifecycle and graceful shutdown
  - config: startup configuration (flags, env, JSON file)
  - core: connection acceptor, keep-alive connection handler, engine
  - core/http: incremental request parser and response serialization
  - core/router: segment-trie routing with :param and * wildcards
  - core/ratelimit: per-IP token-bucket admission control
  - core/cache: mmap-backed static resource cache with TTL and ETags
  - core/metrics: atomic counters and a plain-text /metrics exposition
  - core/pools: tiered byte-slice pools for read and response buffers

Quick start:

	package main

	import (
	    "github.com/surgeserve/surge/app"
	    "github.com/surgeserve/surge/config"
	    "github.com/surgeserve/surge/core/http"
	    "github.com/surgeserve/surge/core/router"
	)

	func main() {
	    cfg, _ := config.Load(nil)
	    application := app.New(cfg)

	    engine := application.Engine()
	    engine.GET("/hello", func(req *http.Request, _ router.Params) *http.Response {
	        return http.Text(200, "Hello, World!")
	    })

	    application.Run()
	}

The wire surface is HTTP/1.1 over TCP with keep-alive, request size and
idle-timeout enforcement, 429 admission rejection with Retry-After, and
zero-copy static file responses served from memory-mapped regions.
*/
package surge
