package http

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteResponseBytes(t *testing.T) {
	var buf bytes.Buffer
	resp := Text(200, "hello")

	if err := WriteResponse(&buf, resp, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("bad status line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Error("missing Content-Length")
	}
	if !strings.Contains(out, "Connection: keep-alive\r\n") {
		t.Error("Connection header must reflect the keep-alive decision")
	}
	if !strings.HasSuffix(out, "\r\n\r\nhello") {
		t.Errorf("body not at end: %q", out)
	}
}

func TestWriteResponseConnectionClose(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteResponse(&buf, Err(404), false); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "Connection: close\r\n") {
		t.Error("expected Connection: close")
	}
}

func TestWriteResponseChunked(t *testing.T) {
	var buf bytes.Buffer
	resp := NewResponse(200)
	resp.SetStream("text/plain", strings.NewReader("hello"))

	if err := WriteResponse(&buf, resp, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Error("streamed bodies must use chunked encoding")
	}
	if strings.Contains(out, "Content-Length:") {
		t.Error("chunked responses must not carry Content-Length")
	}
	if !strings.Contains(out, "\r\n\r\n5\r\nhello\r\n0\r\n\r\n") {
		t.Errorf("bad chunk framing: %q", out)
	}
}

func TestWriteResponseHeadOmitsBody(t *testing.T) {
	var buf bytes.Buffer
	resp := Text(200, "payload")
	resp.OmitBody = true

	if err := WriteResponse(&buf, resp, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Content-Length: 7\r\n") {
		t.Error("HEAD responses keep the real Content-Length")
	}
	if !strings.HasSuffix(out, "\r\n\r\n") {
		t.Errorf("body bytes must be suppressed: %q", out)
	}
}

func TestWriteResponse304HasNoContentLength(t *testing.T) {
	var buf bytes.Buffer
	resp := NewResponse(304)
	resp.OmitBody = true
	resp.Header.Set("ETag", `"abc"`)

	if err := WriteResponse(&buf, resp, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if strings.Contains(out, "Content-Length:") {
		t.Error("304 must not carry Content-Length")
	}
	if !strings.Contains(out, "Etag: \"abc\"\r\n") && !strings.Contains(out, "ETag: \"abc\"\r\n") {
		t.Errorf("ETag header missing: %q", out)
	}
}

func TestWriteResponseMapped(t *testing.T) {
	var buf bytes.Buffer
	region := []byte("mapped-region-bytes")
	resp := NewResponse(200)
	resp.SetMapped("application/octet-stream", region)

	if err := WriteResponse(&buf, resp, false); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Content-Length: 19\r\n") {
		t.Error("mapped bodies carry a correct Content-Length")
	}
	if !strings.HasSuffix(out, string(region)) {
		t.Errorf("mapped body missing: %q", out)
	}
}
