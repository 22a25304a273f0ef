// Package router maps (method, path) pairs to handlers using a segment
// trie. Lookup cost is proportional to path depth, not to the number of
// registered routes. Routes are registered once at startup; the table
// is immutable during serving and is read by all connection tasks
// without synchronization.
package router

import (
	"errors"
	"sort"
	"strings"

	"github.com/surgeserve/surge/core/http"
)

// Params holds the path parameters captured by a route match, e.g.
// /users/:id matched against /users/42 yields {"id": "42"}.
type Params map[string]string

// Handler is the uniform signature every route handler implements.
type Handler func(*http.Request, Params) *http.Response

// ErrNotFound is returned when no registered pattern matches the path.
var ErrNotFound = errors.New("router: no matching route")

// MethodNotAllowedError is returned when the path matches a pattern but
// no handler is registered for the method. Allowed carries the method
// names for the Allow response header.
type MethodNotAllowedError struct {
	Allowed []string
}

func (e *MethodNotAllowedError) Error() string {
	return "router: method not allowed (allowed: " + strings.Join(e.Allowed, ", ") + ")"
}

type node struct {
	children map[string]*node // literal segments

	param     *node // :name child
	paramName string

	wildcard     *node // trailing * child
	wildcardName string

	handlers map[http.Method]Handler
}

func newNode() *node {
	return &node{}
}

// Router is a segment trie supporting literal segments, :name
// parameters, and a trailing * wildcard.
type Router struct {
	root *node
}

// New creates an empty router.
func New() *Router {
	return &Router{root: newNode()}
}

// Handle registers a handler. Registration happens once at startup;
// conflicting or malformed patterns are programmer errors and panic.
func (r *Router) Handle(method http.Method, path string, h Handler) {
	if path == "" || path[0] != '/' {
		panic("router: path must begin with '/'")
	}
	if h == nil {
		panic("router: nil handler for " + path)
	}

	n := r.root
	segs := splitPath(path)
	for i, seg := range segs {
		switch {
		case seg == "*" || (len(seg) > 1 && seg[0] == '*'):
			if i != len(segs)-1 {
				panic("router: wildcard must be the last segment in " + path)
			}
			name := seg[1:]
			if name == "" {
				panic("router: wildcards must be named in " + path)
			}
			if n.wildcard == nil {
				n.wildcard = newNode()
				n.wildcardName = name
			} else if n.wildcardName != name {
				panic("router: conflicting wildcard names in " + path)
			}
			n = n.wildcard

		case len(seg) > 0 && seg[0] == ':':
			name := seg[1:]
			if name == "" {
				panic("router: parameters must be named in " + path)
			}
			if n.param == nil {
				n.param = newNode()
				n.paramName = name
			} else if n.paramName != name {
				panic("router: conflicting parameter names in " + path)
			}
			n = n.param

		default:
			if n.children == nil {
				n.children = make(map[string]*node)
			}
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
	}

	if n.handlers == nil {
		n.handlers = make(map[http.Method]Handler)
	}
	if _, dup := n.handlers[method]; dup {
		panic("router: duplicate route " + method.String() + " " + path)
	}
	n.handlers[method] = h
}

// Lookup resolves a method and path to a handler and captured
// parameters. It returns ErrNotFound when no pattern matches and
// *MethodNotAllowedError when a pattern matches but the method has no
// handler.
func (r *Router) Lookup(method http.Method, path string) (Handler, Params, error) {
	segs := splitPath(path)

	var params Params
	n := match(r.root, segs, func(name, value string) {
		if params == nil {
			params = make(Params, 2)
		}
		params[name] = value
	})
	if n == nil || len(n.handlers) == 0 {
		return nil, nil, ErrNotFound
	}

	h, ok := n.handlers[method]
	if !ok {
		return nil, nil, &MethodNotAllowedError{Allowed: allowedMethods(n)}
	}
	return h, params, nil
}

// match walks the trie. At each position a literal segment wins over a
// parameter, and a parameter wins over a wildcard; dead ends backtrack
// to the less specific alternative.
func match(n *node, segs []string, capture func(name, value string)) *node {
	if len(segs) == 0 {
		if len(n.handlers) > 0 {
			return n
		}
		// An empty remainder can still be claimed by a trailing
		// wildcard registered at this node.
		if n.wildcard != nil && len(n.wildcard.handlers) > 0 {
			capture(n.wildcardName, "")
			return n.wildcard
		}
		return nil
	}

	seg, rest := segs[0], segs[1:]

	if child, ok := n.children[seg]; ok {
		if found := match(child, rest, capture); found != nil {
			return found
		}
	}

	if n.param != nil {
		if found := match(n.param, rest, capture); found != nil {
			capture(n.paramName, seg)
			return found
		}
	}

	if n.wildcard != nil && len(n.wildcard.handlers) > 0 {
		capture(n.wildcardName, strings.Join(segs, "/"))
		return n.wildcard
	}

	return nil
}

func allowedMethods(n *node) []string {
	allowed := make([]string, 0, len(n.handlers))
	for m := range n.handlers {
		allowed = append(allowed, m.String())
	}
	sort.Strings(allowed)
	return allowed
}

// splitPath splits a path into its segments. The root path has zero
// segments; empty segments from doubled slashes are dropped.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	segs := strings.Split(path, "/")
	out := segs[:0]
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
