package humphrey

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ServerName is the value of the generated Server header.
const ServerName = "Humphrey"

// dateFormat is the RFC 1123 GMT layout of the generated Date header.
const dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// Response is an HTTP response.
type Response struct {
	Version string
	Status  StatusCode
	Headers Headers
	Body    []byte
}

// NewResponse returns a new instance of the `Response` with the status.
func NewResponse(status StatusCode) *Response {
	return &Response{
		Version: "HTTP/1.1",
		Status:  status,
	}
}

// WithHeader appends a header with the name and the value to the r.
func (r *Response) WithHeader(name HeaderName, value string) *Response {
	r.Headers.Add(name, value)
	return r
}

// WithBytes sets the body of the r to the b.
func (r *Response) WithBytes(b []byte) *Response {
	r.Body = b
	return r
}

// WithText sets the body of the r to the s.
func (r *Response) WithText(s string) *Response {
	r.Body = []byte(s)
	return r
}

// WithRequestCompatibility adapts the r to the req it answers: the HTTP
// version is mirrored and the request's Connection preference is echoed
// when the r has not set one.
func (r *Response) WithRequestCompatibility(req *Request) *Response {
	if req == nil {
		return r
	}

	if req.Version != "" {
		r.Version = req.Version
	}

	if !r.Headers.Contains(HeaderConnection) {
		if c, ok := req.Headers.Get(HeaderConnection); ok {
			r.Headers.Add(HeaderConnection, c)
		}
	}

	return r
}

// WithGeneratedHeaders inserts the generated headers the r is missing:
// Date, Server, Content-Length, and Connection, which defaults to close.
func (r *Response) WithGeneratedHeaders() *Response {
	if !r.Headers.Contains(HeaderServer) {
		r.Headers.Add(HeaderServer, ServerName)
	}

	if !r.Headers.Contains(HeaderDate) {
		r.Headers.Add(HeaderDate, time.Now().UTC().Format(dateFormat))
	}

	if !r.Headers.Contains(HeaderConnection) {
		r.Headers.Add(HeaderConnection, "close")
	}

	if !r.Headers.Contains(HeaderContentLength) {
		r.Headers.Add(
			HeaderContentLength,
			strconv.Itoa(len(r.Body)),
		)
	}

	return r
}

// Bytes serialises the r: status line, headers in the RFC 2616 §4.2
// serialisation order, blank line, body verbatim.
func (r *Response) Bytes() []byte {
	version := r.Version
	if version == "" {
		version = "HTTP/1.1"
	}

	buf := bytes.Buffer{}
	fmt.Fprintf(&buf, "%s %d %s\r\n", version, r.Status, r.Status.Phrase())

	for _, h := range r.Headers.Sorted() {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}

	buf.WriteString("\r\n")
	buf.Write(r.Body)

	return buf.Bytes()
}

// ParseResponse reads one response from the br. The body is read for an
// exact Content-Length, decoded from a chunked transfer encoding, or read
// until EOF when neither is declared.
func ParseResponse(br *bufio.Reader) (*Response, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, classifyReadError(err)
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("%w: malformed status line", ErrBadRequest)
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed status code", ErrBadRequest)
	}

	resp := &Response{
		Version: parts[0],
		Status:  StatusCode(code),
	}

	if err := parseHeaders(br, &resp.Headers); err != nil {
		return nil, err
	}

	if te, ok := resp.Headers.Get(HeaderTransferEncoding); ok &&
		strings.Contains(strings.ToLower(te), "chunked") {
		body, err := readChunked(br)
		if err != nil {
			return nil, err
		}

		resp.Body = body

		return resp, nil
	}

	if cl, ok := resp.Headers.Get(HeaderContentLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf(
				"%w: malformed content length",
				ErrBadRequest,
			)
		}

		if n > 0 {
			body := make([]byte, n)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, classifyReadError(err)
			}

			resp.Body = body
		}

		return resp, nil
	}

	body, err := io.ReadAll(br)
	if err != nil {
		return nil, classifyReadError(err)
	}

	resp.Body = body

	return resp, nil
}
