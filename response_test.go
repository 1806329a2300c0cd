package humphrey

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseGeneratedHeaders(t *testing.T) {
	resp := NewResponse(StatusOK).
		WithText("hello").
		WithGeneratedHeaders()

	server, _ := resp.Headers.Get(HeaderServer)
	assert.Equal(t, ServerName, server)

	cl, _ := resp.Headers.Get(HeaderContentLength)
	assert.Equal(t, "5", cl)

	connection, _ := resp.Headers.Get(HeaderConnection)
	assert.Equal(t, "close", connection)

	assert.True(t, resp.Headers.Contains(HeaderDate))
}

func TestResponseGeneratedHeadersDoNotOverride(t *testing.T) {
	resp := NewResponse(StatusSwitchingProtocols).
		WithHeader(HeaderConnection, "Upgrade").
		WithHeader(HeaderContentLength, "0").
		WithGeneratedHeaders()

	connection, _ := resp.Headers.Get(HeaderConnection)
	assert.Equal(t, "Upgrade", connection)

	assert.Equal(
		t,
		[]string{"0"},
		resp.Headers.GetAll(HeaderContentLength),
	)
}

func TestResponseRequestCompatibility(t *testing.T) {
	req := &Request{Version: "HTTP/1.0"}
	req.Headers.Add(HeaderConnection, "keep-alive")

	resp := NewResponse(StatusOK).WithRequestCompatibility(req)
	assert.Equal(t, "HTTP/1.0", resp.Version)

	connection, _ := resp.Headers.Get(HeaderConnection)
	assert.Equal(t, "keep-alive", connection)
}

func TestResponseBytes(t *testing.T) {
	resp := NewResponse(StatusNotFound).
		WithHeader(HeaderContentType, "text/html").
		WithText("<h1>404 Not Found</h1>").
		WithGeneratedHeaders()

	b := resp.Bytes()
	assert.True(t, bytes.HasPrefix(b, []byte("HTTP/1.1 404 Not Found\r\n")))
	assert.True(t, bytes.HasSuffix(b, []byte("\r\n\r\n<h1>404 Not Found</h1>")))
}

func TestResponseRoundTrip(t *testing.T) {
	resp := NewResponse(StatusOK).
		WithHeader(HeaderContentType, "text/plain").
		WithText("hello").
		WithGeneratedHeaders()

	first := resp.Bytes()

	parsed, err := ParseResponse(
		bufio.NewReader(bytes.NewReader(first)),
	)
	require.NoError(t, err)

	assert.Equal(t, resp.Status, parsed.Status)
	assert.Equal(t, resp.Version, parsed.Version)
	assert.Equal(t, resp.Body, parsed.Body)
	assert.Equal(t, first, parsed.Bytes())
}

func TestParseResponseWithoutContentLength(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nstreamed body"

	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, []byte("streamed body"), resp.Body)
}

func TestParseResponseChunked(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"

	resp, err := ParseResponse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), resp.Body)
}

func TestParseResponseMalformed(t *testing.T) {
	_, err := ParseResponse(
		bufio.NewReader(strings.NewReader("nonsense\r\n\r\n")),
	)
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestStatusPhrases(t *testing.T) {
	assert.Equal(t, "OK", StatusOK.Phrase())
	assert.Equal(t, "Not Found", StatusNotFound.Phrase())
	assert.Equal(t, "Bad Gateway", StatusBadGateway.Phrase())
	assert.Equal(t, "599", StatusCode(599).Phrase())
}
