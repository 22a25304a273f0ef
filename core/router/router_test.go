package router

import (
	"errors"
	"testing"

	"github.com/surgeserve/surge/core/http"
)

func noop(_ *http.Request, _ Params) *http.Response { return http.Text(200, "ok") }

func TestRouterBasic(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/", noop)
	r.Handle(http.MethodGet, "/hello", noop)
	r.Handle(http.MethodGet, "/hello/world", noop)

	tests := []struct {
		path        string
		shouldMatch bool
	}{
		{"/", true},
		{"/hello", true},
		{"/hello/world", true},
		{"/notfound", false},
		{"/hello/world/deeper", false},
	}

	for _, tt := range tests {
		_, _, err := r.Lookup(http.MethodGet, tt.path)
		matched := err == nil
		if matched != tt.shouldMatch {
			t.Errorf("path %s: expected match=%v, got match=%v (err=%v)", tt.path, tt.shouldMatch, matched, err)
		}
	}
}

// TestRouterPriority verifies the tie-break rule: a literal segment wins
// over a parameter at the same position.
func TestRouterPriority(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/user/admin", noop)
	r.Handle(http.MethodGet, "/user/:id", noop)

	_, params, err := r.Lookup(http.MethodGet, "/user/admin")
	if err != nil {
		t.Fatalf("literal lookup failed: %v", err)
	}
	if _, hasParam := params["id"]; hasParam {
		t.Error("/user/admin should be a literal match, got a captured param")
	}

	_, params, err = r.Lookup(http.MethodGet, "/user/123")
	if err != nil {
		t.Fatalf("param lookup failed: %v", err)
	}
	if params["id"] != "123" {
		t.Errorf("id = %q, want 123", params["id"])
	}
}

// TestRouterBacktrack verifies a literal dead end falls back to the
// parameter alternative.
func TestRouterBacktrack(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/x/literal", noop)
	r.Handle(http.MethodGet, "/x/:p/y", noop)

	_, params, err := r.Lookup(http.MethodGet, "/x/literal/y")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if params["p"] != "literal" {
		t.Errorf("p = %q, want literal", params["p"])
	}
}

func TestRouterParams(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/users/:id", noop)

	_, params, err := r.Lookup(http.MethodGet, "/users/42")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if params["id"] != "42" {
		t.Errorf(`params = %v, want {"id": "42"}`, params)
	}
}

func TestRouterWildcard(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/static/*filepath", noop)

	_, params, err := r.Lookup(http.MethodGet, "/static/css/site.css")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if params["filepath"] != "css/site.css" {
		t.Errorf("filepath = %q, want css/site.css", params["filepath"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	r := New()
	r.Handle(http.MethodGet, "/resource", noop)
	r.Handle(http.MethodDelete, "/resource", noop)

	_, _, err := r.Lookup(http.MethodPost, "/resource")
	var mna *MethodNotAllowedError
	if !errors.As(err, &mna) {
		t.Fatalf("expected MethodNotAllowedError, got %v", err)
	}
	if len(mna.Allowed) != 2 || mna.Allowed[0] != "DELETE" || mna.Allowed[1] != "GET" {
		t.Errorf("allowed = %v, want [DELETE GET]", mna.Allowed)
	}

	// Distinct from an unknown path.
	_, _, err = r.Lookup(http.MethodPost, "/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown path must be ErrNotFound, got %v", err)
	}
}

func TestRouterRegistrationPanics(t *testing.T) {
	tests := []struct {
		name string
		reg  func(*Router)
	}{
		{"no leading slash", func(r *Router) { r.Handle(http.MethodGet, "x", noop) }},
		{"unnamed wildcard", func(r *Router) { r.Handle(http.MethodGet, "/a/*", noop) }},
		{"wildcard not last", func(r *Router) { r.Handle(http.MethodGet, "/a/*rest/b", noop) }},
		{"duplicate route", func(r *Router) {
			r.Handle(http.MethodGet, "/dup", noop)
			r.Handle(http.MethodGet, "/dup", noop)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.reg(New())
		})
	}
}

func BenchmarkRouterStatic(b *testing.B) {
	r := New()
	r.Handle(http.MethodGet, "/hello/world", noop)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Lookup(http.MethodGet, "/hello/world")
	}
}

func BenchmarkRouterParam(b *testing.B) {
	r := New()
	r.Handle(http.MethodGet, "/user/:id", noop)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Lookup(http.MethodGet, "/user/123")
	}
}
