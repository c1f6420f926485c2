package httpserver

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response mirrors HttpResponse: a status, reason phrase, headers, and
// a body.
type Response struct {
	Status  int
	Reason  string
	Version string
	Close   bool
	Headers map[string]string
	Body    []byte
}

// NewResponse constructs a 200 OK response with an empty body.
func NewResponse() *Response {
	return &Response{
		Status:  200,
		Reason:  "OK",
		Version: "HTTP/1.1",
		Headers: map[string]string{},
	}
}

// SetHeader sets a header, matching HttpResponse::setHeader.
func (r *Response) SetHeader(key, val string) { r.Headers[normalizeKey(key)] = val }

// GetHeader returns a header value, or def.
func (r *Response) GetHeader(key, def string) string {
	if v, ok := r.Headers[normalizeKey(key)]; ok {
		return v
	}
	return def
}

// DelHeader removes a header, matching HttpResponse::delHeader.
func (r *Response) DelHeader(key string) { delete(r.Headers, normalizeKey(key)) }

// WriteTo serializes the response onto w in HTTP/1.x wire format,
// matching HttpResponse::toString's layout (status line, headers,
// blank line, body).
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %d %s\r\n", r.Version, r.Status, r.Reason)

	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	if _, ok := headers["content-length"]; !ok {
		headers["content-length"] = strconv.Itoa(len(r.Body))
	}
	if _, ok := headers["connection"]; !ok {
		if r.Close {
			headers["connection"] = "close"
		} else {
			headers["connection"] = "keep-alive"
		}
	}
	for k, v := range headers {
		fmt.Fprintf(&sb, "%s: %s\r\n", displayHeaderName(k), v)
	}
	sb.WriteString("\r\n")

	n, err := io.WriteString(w, sb.String())
	if err != nil {
		return int64(n), err
	}
	bn, err := w.Write(r.Body)
	return int64(n + bn), err
}

// displayHeaderName title-cases a normalized (lowercased) header name
// for wire output, e.g. "content-type" -> "Content-Type".
func displayHeaderName(k string) string {
	parts := strings.Split(k, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "-")
}
