package http

import (
	"bytes"
	"strconv"
	"strings"
)

// ParseKind classifies a parse failure so the connection handler can map
// it to an accurate status code.
type ParseKind uint8

const (
	// Malformed means the byte stream is not a valid HTTP/1.1 request.
	Malformed ParseKind = iota
	// TooLarge means the request exceeded the configured size limit.
	TooLarge
	// Timeout means a complete request did not arrive in time.
	Timeout
)

// ParseError is returned by the parser when a request cannot be
// completed. The connection's byte stream can no longer be trusted
// after one, so the caller responds and closes.
type ParseError struct {
	Kind   ParseKind
	Reason string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case TooLarge:
		return "http: request too large: " + e.Reason
	case Timeout:
		return "http: request timeout: " + e.Reason
	default:
		return "http: malformed request: " + e.Reason
	}
}

// StatusCode maps the failure to its response status.
func (e *ParseError) StatusCode() int {
	switch e.Kind {
	case TooLarge:
		return 413
	case Timeout:
		return 408
	default:
		return 400
	}
}

type parseState uint8

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateComplete
)

// Parser is a resumable HTTP/1.1 request parser. It is fed data across
// multiple partial reads from the same socket and never re-parses from
// scratch: each Feed call advances an internal state machine
// (RequestLine -> Headers -> Body -> Complete).
//
// A Parser is owned by exactly one connection task and is not safe for
// concurrent use.
type Parser struct {
	state    parseState
	maxBytes int

	buf        []byte
	req        *Request
	contentLen int
	headBytes  int
}

// NewParser creates a parser enforcing the given request size limit.
// A limit of zero or less disables the check.
func NewParser(maxBytes int) *Parser {
	return &Parser{maxBytes: maxBytes}
}

// Buffered returns the number of unconsumed bytes held by the parser.
func (p *Parser) Buffered() int { return len(p.buf) }

// Started reports whether any bytes of the current request have arrived.
// The connection handler uses this to distinguish an idle connection
// (silent close) from a stalled mid-request read (408).
func (p *Parser) Started() bool {
	return p.state != stateRequestLine || len(p.buf) > 0
}

// Reset prepares the parser for the next request on the same
// connection. Leftover bytes beyond the previous request are retained
// but are not parsed until the next Feed (strict request/response
// alternation; no pipelining).
func (p *Parser) Reset() {
	p.state = stateRequestLine
	p.req = nil
	p.contentLen = 0
	p.headBytes = 0
}

// Feed appends data to the parse buffer and attempts to advance.
// It returns (req, nil) once a complete request is available,
// (nil, nil) if more data is needed, and (nil, *ParseError) on failure.
// Feed(nil) attempts to parse already-buffered bytes.
func (p *Parser) Feed(data []byte) (*Request, error) {
	if len(data) > 0 {
		p.buf = append(p.buf, data...)
	}

	for {
		switch p.state {
		case stateRequestLine:
			done, err := p.parseRequestLine()
			if err != nil {
				return nil, err
			}
			if !done {
				return nil, p.checkHeadLimit()
			}

		case stateHeaders:
			done, err := p.parseHeaders()
			if err != nil {
				return nil, err
			}
			if !done {
				return nil, p.checkHeadLimit()
			}

		case stateBody:
			if len(p.buf) < p.contentLen {
				return nil, nil
			}
			p.req.Body = append([]byte(nil), p.buf[:p.contentLen]...)
			p.buf = p.buf[p.contentLen:]
			p.state = stateComplete

		case stateComplete:
			return p.req, nil
		}
	}
}

// maxHeaderBytes bounds the request line plus header section. The
// configured request size limit applies to the body; this keeps a
// client from growing the head without ever completing it.
const maxHeaderBytes = 64 << 10

// checkHeadLimit guards against a request line or header section that
// grows without ever completing.
func (p *Parser) checkHeadLimit() error {
	if p.headBytes+len(p.buf) > maxHeaderBytes {
		return &ParseError{Kind: TooLarge, Reason: "header section exceeds limit"}
	}
	return nil
}

func (p *Parser) parseRequestLine() (bool, error) {
	line, ok := p.nextLine()
	if !ok {
		return false, nil
	}
	if len(line) == 0 {
		return false, &ParseError{Kind: Malformed, Reason: "empty request line"}
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return false, &ParseError{Kind: Malformed, Reason: "missing method"}
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return false, &ParseError{Kind: Malformed, Reason: "missing protocol version"}
	}
	sp2 += sp1 + 1

	method := string(line[:sp1])
	if !validMethodToken(method) {
		return false, &ParseError{Kind: Malformed, Reason: "garbled method " + strconv.Quote(method)}
	}

	target := string(line[sp1+1 : sp2])
	proto := string(line[sp2+1:])
	if target == "" || target[0] != '/' {
		return false, &ParseError{Kind: Malformed, Reason: "bad request target " + strconv.Quote(target)}
	}
	if !strings.HasPrefix(proto, "HTTP/") {
		return false, &ParseError{Kind: Malformed, Reason: "bad protocol " + strconv.Quote(proto)}
	}

	req := &Request{
		Method:    ParseMethod(method),
		RawMethod: method,
		Proto:     proto,
		Header:    make(Header, 8),
	}
	req.Path, req.Query = splitQuery(target)

	p.req = req
	p.state = stateHeaders
	return true, nil
}

func (p *Parser) parseHeaders() (bool, error) {
	for {
		line, ok := p.nextLine()
		if !ok {
			return false, nil
		}

		// Empty line terminates the header section.
		if len(line) == 0 {
			if err := p.beginBody(); err != nil {
				return false, err
			}
			return true, nil
		}

		// Tolerant parsing: a line with no colon is skipped rather
		// than aborting the whole request.
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}

		key := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))
		if key != "" {
			p.req.Header.Set(key, value)
		}
	}
}

// beginBody fixes the body length from Content-Length. Missing or
// non-numeric values are treated as a zero-length body (lenient by
// default); an oversized declared length fails fast before any body
// bytes are buffered.
func (p *Parser) beginBody() error {
	p.contentLen = 0
	if v := p.req.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			p.contentLen = n
		}
	}
	if p.maxBytes > 0 && p.contentLen > p.maxBytes {
		return &ParseError{Kind: TooLarge, Reason: "declared body of " + strconv.Itoa(p.contentLen) + " bytes exceeds limit"}
	}
	p.state = stateBody
	return nil
}

// nextLine consumes one CRLF- (or bare LF-) terminated line from the
// buffer. Returns ok=false when no complete line is buffered yet.
func (p *Parser) nextLine() ([]byte, bool) {
	nl := bytes.IndexByte(p.buf, '\n')
	if nl == -1 {
		return nil, false
	}
	line := p.buf[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	p.headBytes += nl + 1
	p.buf = p.buf[nl+1:]
	return line, true
}

// validMethodToken accepts upper-case ASCII method tokens.
func validMethodToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

// splitQuery separates the query string from the path and decodes it
// into ordered key/value pairs.
func splitQuery(target string) (string, []QueryParam) {
	idx := strings.IndexByte(target, '?')
	if idx == -1 {
		return target, nil
	}

	path := target[:idx]
	raw := target[idx+1:]
	var params []QueryParam
	for raw != "" {
		pair := raw
		if amp := strings.IndexByte(raw, '&'); amp != -1 {
			pair, raw = raw[:amp], raw[amp+1:]
		} else {
			raw = ""
		}
		if pair == "" {
			continue
		}
		if eq := strings.IndexByte(pair, '='); eq != -1 {
			params = append(params, QueryParam{Key: pair[:eq], Value: pair[eq+1:]})
		} else {
			params = append(params, QueryParam{Key: pair})
		}
	}
	return path, params
}
