// Package cache memoizes static resource content for GET responses.
// Entries are memory-mapped for zero-copy transmission where the
// platform allows it and fall back to buffered reads otherwise. An
// entry is never served past its expiry: expired entries are refreshed
// synchronously on the access that finds them stale. Displaced mapped
// regions are unmapped after a grace period long enough for every
// in-flight response write to finish.
package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNotFound is returned for keys that do not resolve to a readable
// file under the static root.
var ErrNotFound = errors.New("cache: resource not found")

// Entry is one cached resource. Shared across tasks; read-only after
// construction.
type Entry struct {
	data        []byte
	mapped      bool
	ETag        string
	ContentType string
	ModTime     time.Time
	expires     time.Time
}

// Bytes returns the resource payload. For mapped entries this is the
// mapped region itself, not a copy.
func (e *Entry) Bytes() []byte { return e.data }

// Mapped reports whether the payload is a memory-mapped region.
func (e *Entry) Mapped() bool { return e.mapped }

// Cache is the static resource layer. The entry table is an internally
// sharded concurrent map: read-mostly with rare writes on miss.
type Cache struct {
	root    string
	ttl     time.Duration
	entries *xsync.MapOf[string, *Entry]

	hits      *xsync.Counter
	misses    *xsync.Counter
	fileOpens atomic.Int64

	// Replaced mapped regions cannot be unmapped while a connection
	// may still be writing them to a socket; they are parked here and
	// released once they age past retireGrace.
	retiredMu sync.Mutex
	retired   []retiredRegion

	now func() time.Time // test hook
}

// retiredRegion is a displaced mapping awaiting release.
type retiredRegion struct {
	data []byte
	at   time.Time
}

// retireGrace is how long a displaced mapped region stays addressable
// after replacement. Response writes run under deadlines far shorter
// than this, so a region that ages out can no longer be referenced by
// any in-flight write.
const retireGrace = time.Minute

// New creates a cache rooted at dir with the given entry TTL.
func New(dir string, ttl time.Duration) *Cache {
	return &Cache{
		root:    filepath.Clean(dir),
		ttl:     ttl,
		entries: xsync.NewMapOf[string, *Entry](),
		hits:    xsync.NewCounter(),
		misses:  xsync.NewCounter(),
		now:     time.Now,
	}
}

// Get returns the entry for a resource key, loading or refreshing it as
// needed. A hit within the TTL performs no disk I/O.
func (c *Cache) Get(key string) (*Entry, error) {
	clean := cleanKey(key)

	if e, ok := c.entries.Load(clean); ok && c.now().Before(e.expires) {
		c.hits.Inc()
		return e, nil
	}

	c.misses.Inc()
	fresh, err := c.load(clean)
	if err != nil {
		return nil, err
	}

	// The swap runs under the map's per-key lock so the displaced
	// entry is retired exactly once. A concurrent refresh that won the
	// race keeps its entry; ours is retired instead of leaking.
	winner, _ := c.entries.Compute(clean, func(old *Entry, loaded bool) (*Entry, bool) {
		if loaded && c.now().Before(old.expires) {
			return old, false
		}
		if loaded && old.mapped {
			c.retire(old.data)
		}
		return fresh, false
	})
	if winner != fresh && fresh.mapped {
		c.retire(fresh.data)
	}
	return winner, nil
}

// Invalidate removes an entry explicitly.
func (c *Cache) Invalidate(key string) {
	clean := cleanKey(key)
	c.entries.Compute(clean, func(old *Entry, loaded bool) (*Entry, bool) {
		if loaded && old.mapped {
			c.retire(old.data)
		}
		return nil, true
	})
}

// Hits returns the number of lookups served without disk I/O.
func (c *Cache) Hits() int64 { return c.hits.Value() }

// Misses returns the number of lookups that went to disk.
func (c *Cache) Misses() int64 { return c.misses.Value() }

// FileOpens returns the number of underlying file opens performed.
func (c *Cache) FileOpens() int64 { return c.fileOpens.Load() }

// Close releases every mapped region. The cache must not be used after
// Close.
func (c *Cache) Close() {
	c.entries.Range(func(key string, e *Entry) bool {
		if e.mapped {
			munmap(e.data)
		}
		c.entries.Delete(key)
		return true
	})

	c.retiredMu.Lock()
	for _, r := range c.retired {
		munmap(r.data)
	}
	c.retired = nil
	c.retiredMu.Unlock()
}

// retire parks a displaced region and releases every region that has
// aged past the grace window, so the parked set stays bounded by the
// number of replacements within one grace interval.
func (c *Cache) retire(region []byte) {
	if len(region) == 0 {
		return
	}
	now := c.now()
	cutoff := now.Add(-retireGrace)

	c.retiredMu.Lock()
	kept := c.retired[:0]
	for _, r := range c.retired {
		if r.at.Before(cutoff) {
			munmap(r.data)
			continue
		}
		kept = append(kept, r)
	}
	c.retired = append(kept, retiredRegion{data: region, at: now})
	c.retiredMu.Unlock()
}

// load opens and maps the file behind a key. Memory-mapping failures
// fall back to a buffered read rather than failing the request.
func (c *Cache) load(clean string) (*Entry, error) {
	full := filepath.Join(c.root, filepath.FromSlash(clean))

	f, err := os.Open(full)
	if err != nil {
		return nil, ErrNotFound
	}
	defer f.Close()
	c.fileOpens.Add(1)

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return nil, ErrNotFound
	}

	size := st.Size()
	data, mapped := mmapFile(f, size)
	if !mapped {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("cache: read %s: %w", clean, err)
		}
	}

	return &Entry{
		data:        data,
		mapped:      mapped,
		ETag:        fmt.Sprintf("\"%x-%x\"", size, st.ModTime().UnixNano()),
		ContentType: ContentTypeFor(full),
		ModTime:     st.ModTime(),
		expires:     c.now().Add(c.ttl),
	}, nil
}

// cleanKey normalizes a resource key and confines it below the root:
// rooted path cleaning removes any ".." escape before the key is joined
// to the static directory.
func cleanKey(key string) string {
	return path.Clean("/" + key)
}

// ContentTypeFor returns the MIME type for a file name by extension.
func ContentTypeFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".xml":
		return "application/xml; charset=utf-8"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"
	case ".pdf":
		return "application/pdf"
	case ".zip":
		return "application/zip"
	case ".gz":
		return "application/gzip"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
