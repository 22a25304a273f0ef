package http

import "strings"

// Method is an enumerated HTTP request method.
type Method uint8

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodHead
	MethodOther
)

var methodNames = [...]string{
	MethodGet:    "GET",
	MethodPost:   "POST",
	MethodPut:    "PUT",
	MethodDelete: "DELETE",
	MethodHead:   "HEAD",
	MethodOther:  "OTHER",
}

// String returns the canonical method name.
func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "OTHER"
}

// ParseMethod maps a request-line token to a Method. Unknown but
// well-formed tokens map to MethodOther; validation of the token itself
// is the parser's job.
func ParseMethod(s string) Method {
	switch s {
	case "GET":
		return MethodGet
	case "POST":
		return MethodPost
	case "PUT":
		return MethodPut
	case "DELETE":
		return MethodDelete
	case "HEAD":
		return MethodHead
	default:
		return MethodOther
	}
}

// Header is a case-insensitive header map. Keys are stored lowercased;
// insertion order is not preserved.
type Header map[string]string

// Set stores a header value under the lowercased key.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Get returns the value for a header, matching case-insensitively.
func (h Header) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Has reports whether the header is present.
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Del removes a header.
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// QueryParam is one key=value pair from the query string, in the order
// it appeared.
type QueryParam struct {
	Key   string
	Value string
}

// Request is a fully parsed HTTP request. It is created once per parsed
// message, is immutable after construction, and is owned exclusively by
// the connection task that parsed it.
type Request struct {
	Method     Method
	RawMethod  string
	Path       string
	Query      []QueryParam
	Proto      string
	Header     Header
	Body       []byte
	RemoteAddr string
}

// QueryValue returns the first value for a query key, or "".
func (r *Request) QueryValue(key string) string {
	for _, p := range r.Query {
		if p.Key == key {
			return p.Value
		}
	}
	return ""
}

// KeepAlive reports the keep-alive decision for this request: the
// Connection header wins, otherwise the protocol version default
// (HTTP/1.1 keeps alive, HTTP/1.0 closes).
func (r *Request) KeepAlive() bool {
	switch strings.ToLower(r.Header.Get("Connection")) {
	case "close":
		return false
	case "keep-alive":
		return true
	}
	return r.Proto != "HTTP/1.0"
}
