package httpserver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestLineHeadersAndQuery(t *testing.T) {
	raw := "GET /search?name=gopher&count=3 HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"X-Count: 3\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n"
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "/search", req.Path)
	require.Equal(t, "gopher", req.GetParam("name", ""))
	require.False(t, req.Close)
	require.Equal(t, "example.com", req.GetHeader("host", ""))
}

func TestParseRequestWithFormBody(t *testing.T) {
	body := "a=1&b=hello"
	raw := "POST /submit HTTP/1.1\r\n" +
		"Content-Type: application/x-www-form-urlencoded\r\n" +
		"Content-Length: " + itoa(len(body)) + "\r\n" +
		"Connection: close\r\n" +
		"\r\n" + body
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.True(t, req.Close)
	require.Equal(t, "1", req.GetParam("a", ""))
	require.Equal(t, "hello", req.GetParam("b", ""))
}

func TestParseRequestRejectsOversizedHeaders(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n" + "X-Pad: " + strings.Repeat("a", 100) + "\r\n\r\n"
	_, err := ParseRequest(strings.NewReader(raw), 16, 1<<20)
	require.ErrorIs(t, err, ErrHeadersTooLarge)
}

func TestParseRequestRejectsOversizedBody(t *testing.T) {
	body := strings.Repeat("x", 100)
	raw := "POST / HTTP/1.1\r\nContent-Length: " + itoa(len(body)) + "\r\n\r\n" + body
	_, err := ParseRequest(strings.NewReader(raw), 8<<10, 10)
	require.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestGetHeaderAsParsesTypedValue(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-Limit: 42\r\n\r\n"
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.Equal(t, 42, GetHeaderAs(req, "x-limit", 0))
}

func TestGetParamAsReadsFromParamsNotHeaders(t *testing.T) {
	// the original's getPararmAs read from the *header* map; this
	// proves the fix reads the parameter map, and that a same-named
	// header does not leak into a parameter lookup.
	raw := "GET /?limit=7 HTTP/1.1\r\nLimit: 999\r\n\r\n"
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.Equal(t, 7, GetParamAs(req, "limit", 0))
	require.Equal(t, 999, GetHeaderAs(req, "limit", 0))
}

func TestGetParamAsFallsBackToDefaultWhenAbsent(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.Equal(t, -1, GetParamAs(req, "missing", -1))
}

func TestParseCookies(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nCookie: session=abc123; theme=dark\r\n\r\n"
	req, err := ParseRequest(strings.NewReader(raw), 8<<10, 1<<20)
	require.NoError(t, err)
	require.Equal(t, "abc123", req.GetCookie("session", ""))
	require.Equal(t, "dark", req.GetCookie("theme", ""))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
