package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, string, *time.Time) {
	t.Helper()
	dir := t.TempDir()
	c := New(dir, ttl)

	now := time.Unix(5000, 0)
	c.now = func() time.Time { return now }
	t.Cleanup(c.Close)
	return c, dir, &now
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCacheHitServesWithoutReopening(t *testing.T) {
	c, dir, _ := newTestCache(t, time.Minute)
	writeFile(t, dir, "index.html", "<h1>hi</h1>")

	first, err := c.Get("index.html")
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	second, err := c.Get("index.html")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}

	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Error("repeated gets must return byte-identical content")
	}
	if got := c.FileOpens(); got != 1 {
		t.Errorf("file opens = %d, want 1 (hit must not touch disk)", got)
	}
	if c.Hits() != 1 {
		t.Errorf("hits = %d, want 1", c.Hits())
	}
	if first.ETag == "" {
		t.Error("entry must carry an ETag")
	}
	if first.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type = %q", first.ContentType)
	}
}

func TestCacheExpiryRefreshesSynchronously(t *testing.T) {
	c, dir, now := newTestCache(t, time.Minute)
	writeFile(t, dir, "data.txt", "v1")

	if _, err := c.Get("data.txt"); err != nil {
		t.Fatal(err)
	}

	writeFile(t, dir, "data.txt", "v2")
	*now = now.Add(2 * time.Minute)

	e, err := c.Get("data.txt")
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Bytes()) != "v2" {
		t.Errorf("expired entry must be refreshed, got %q", e.Bytes())
	}
	if c.FileOpens() != 2 {
		t.Errorf("file opens = %d, want 2", c.FileOpens())
	}
}

func TestCacheInvalidate(t *testing.T) {
	c, dir, _ := newTestCache(t, time.Hour)
	writeFile(t, dir, "a.txt", "x")

	c.Get("a.txt")
	c.Invalidate("a.txt")
	c.Get("a.txt")

	if c.FileOpens() != 2 {
		t.Errorf("file opens = %d, want 2 after invalidation", c.FileOpens())
	}
}

func TestCacheRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "public")
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("top secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(root, time.Minute)
	defer c.Close()

	if _, err := c.Get("../secret.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("traversal outside the root must fail, got %v", err)
	}
}

func TestCacheMissingFile(t *testing.T) {
	c, _, _ := newTestCache(t, time.Minute)
	if _, err := c.Get("nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func retiredCount(c *Cache) int {
	c.retiredMu.Lock()
	defer c.retiredMu.Unlock()
	return len(c.retired)
}

func TestCacheReleasesRetiredRegions(t *testing.T) {
	c, dir, now := newTestCache(t, time.Minute)
	writeFile(t, dir, "page.html", strings.Repeat("x", 4096))

	e, err := c.Get("page.html")
	if err != nil {
		t.Fatal(err)
	}
	if !e.Mapped() {
		t.Skip("entries are not memory-mapped on this platform")
	}

	// Each round expires the entry and ages the previous mapping past
	// the grace window; old regions must be released while serving,
	// not parked until Close.
	for i := 0; i < 50; i++ {
		*now = now.Add(2 * retireGrace)
		if _, err := c.Get("page.html"); err != nil {
			t.Fatal(err)
		}
	}

	if held := retiredCount(c); held > 1 {
		t.Errorf("retired regions held = %d, want at most 1", held)
	}
}

func TestCacheConcurrentRefreshRetiresDisplacedOnce(t *testing.T) {
	// A zero TTL makes every lookup a refresh.
	c, dir, _ := newTestCache(t, 0)
	writeFile(t, dir, "hot.txt", strings.Repeat("y", 4096))

	e, err := c.Get("hot.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !e.Mapped() {
		t.Skip("entries are not memory-mapped on this platform")
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := c.Get("hot.txt"); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	// Every load maps one region. Exactly one stays live in the table;
	// each of the others must be retired exactly once, no duplicates
	// and no drops. The fixed clock keeps them all inside the grace
	// window.
	held := int64(retiredCount(c))
	if want := c.FileOpens() - 1; held != want {
		t.Errorf("retired regions = %d, want %d (one per displaced load)", held, want)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"site.css", "text/css; charset=utf-8"},
		{"app.js", "application/javascript; charset=utf-8"},
		{"logo.png", "image/png"},
		{"blob.bin", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := ContentTypeFor(tt.name); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
