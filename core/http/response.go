package http

import (
	"encoding/json"
	"io"

	"github.com/surgeserve/surge/core/pools"
)

// BodyKind selects how a response body reaches the wire.
type BodyKind uint8

const (
	// BodyBytes is an in-memory body coalesced with the headers into a
	// single buffered write.
	BodyBytes BodyKind = iota
	// BodyStream is a chunk source written with chunked
	// transfer-encoding.
	BodyStream
	// BodyMapped is a memory-mapped region written directly to the
	// socket with no intermediate copy.
	BodyMapped
)

// Response is built once per request by a handler, consumed by
// WriteResponse, then discarded.
type Response struct {
	Status int
	Header Header

	// OmitBody suppresses the body bytes while keeping the entity
	// headers (HEAD responses, 304 validation hits).
	OmitBody bool

	kind   BodyKind
	body   []byte
	stream io.Reader
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(Header, 8)}
}

// SetBytes sets an in-memory body.
func (r *Response) SetBytes(contentType string, body []byte) {
	r.kind = BodyBytes
	r.body = body
	r.Header.Set("Content-Type", contentType)
}

// SetMapped sets a memory-mapped region as the body. The region is
// written straight from mapped memory to the socket.
func (r *Response) SetMapped(contentType string, region []byte) {
	r.kind = BodyMapped
	r.body = region
	r.Header.Set("Content-Type", contentType)
}

// SetStream sets a streamed chunk source as the body.
func (r *Response) SetStream(contentType string, src io.Reader) {
	r.kind = BodyStream
	r.stream = src
	r.Header.Set("Content-Type", contentType)
}

// BodyLen returns the entity length for non-streamed bodies.
func (r *Response) BodyLen() int { return len(r.body) }

// Text builds a plain-text response.
func Text(status int, s string) *Response {
	resp := NewResponse(status)
	resp.SetBytes("text/plain; charset=utf-8", []byte(s))
	return resp
}

// JSON builds a JSON response. A marshal failure degrades to a 500.
func JSON(status int, v any) *Response {
	data, err := json.Marshal(v)
	if err != nil {
		return Text(500, "json encode error")
	}
	resp := NewResponse(status)
	resp.SetBytes("application/json; charset=utf-8", data)
	return resp
}

// Err builds a plain-text response carrying the standard reason phrase.
func Err(status int) *Response {
	return Text(status, StatusText(status))
}

var respPool = pools.NewBufferPool()

// WriteResponse serializes the response to w: status line, headers
// (always with a correct Content-Length for in-memory and mapped
// bodies, or chunked transfer-encoding for streams), then the body.
// The Connection header always reflects the caller's keep-alive
// decision.
func WriteResponse(w io.Writer, r *Response, keepAlive bool) error {
	buf := respPool.Get(2048)[:0]
	defer respPool.Put(buf)

	buf = append(buf, "HTTP/1.1 "...)
	buf = appendInt(buf, r.Status)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(r.Status)...)
	buf = append(buf, '\r', '\n')

	if r.Header == nil {
		r.Header = make(Header, 2)
	}
	r.Header.Del("connection")
	r.Header.Del("content-length")
	r.Header.Del("transfer-encoding")

	chunked := r.kind == BodyStream && !r.OmitBody
	for k, v := range r.Header {
		buf = appendHeaderLine(buf, k, v)
	}
	switch {
	case chunked:
		buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
	case r.Status == 204 || r.Status == 304:
		// No entity; these statuses carry no Content-Length.
	default:
		buf = append(buf, "Content-Length: "...)
		buf = appendInt(buf, len(r.body))
		buf = append(buf, '\r', '\n')
	}
	if keepAlive {
		buf = append(buf, "Connection: keep-alive\r\n"...)
	} else {
		buf = append(buf, "Connection: close\r\n"...)
	}
	buf = append(buf, '\r', '\n')

	if r.OmitBody {
		_, err := w.Write(buf)
		return err
	}

	switch r.kind {
	case BodyMapped:
		// Zero-copy path: headers first, then the mapped region is
		// written directly without copying into the response buffer.
		if _, err := w.Write(buf); err != nil {
			return err
		}
		if len(r.body) == 0 {
			return nil
		}
		_, err := w.Write(r.body)
		return err

	case BodyStream:
		if _, err := w.Write(buf); err != nil {
			return err
		}
		return writeChunked(w, r.stream)

	default:
		buf = append(buf, r.body...)
		_, err := w.Write(buf)
		return err
	}
}

// writeChunked copies src to w in chunked transfer-encoding and
// terminates with the zero-length chunk.
func writeChunked(w io.Writer, src io.Reader) error {
	chunk := respPool.Get(32 << 10)
	defer respPool.Put(chunk)

	head := make([]byte, 0, 16)
	for {
		n, err := src.Read(chunk)
		if n > 0 {
			head = appendHex(head[:0], n)
			head = append(head, '\r', '\n')
			if _, werr := w.Write(head); werr != nil {
				return werr
			}
			if _, werr := w.Write(chunk[:n]); werr != nil {
				return werr
			}
			if _, werr := io.WriteString(w, "\r\n"); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}

// appendHeaderLine writes "Canonical-Key: value\r\n". Stored keys are
// lowercase; common wire casing is restored byte by byte.
func appendHeaderLine(buf []byte, key, value string) []byte {
	upper := true
	for i := 0; i < len(key); i++ {
		c := key[i]
		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = c == '-'
		buf = append(buf, c)
	}
	buf = append(buf, ':', ' ')
	buf = append(buf, value...)
	return append(buf, '\r', '\n')
}

func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	if i < 0 {
		b = append(b, '-')
		i = -i
	}
	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}
	for n > 0 {
		n--
		b = append(b, digits[n])
	}
	return b
}

const hexDigits = "0123456789abcdef"

func appendHex(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	var digits [16]byte
	n := 0
	for i > 0 {
		digits[n] = hexDigits[i&0xf]
		i >>= 4
		n++
	}
	for n > 0 {
		n--
		b = append(b, digits[n])
	}
	return b
}
