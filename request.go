package humphrey

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Request is an HTTP request.
type Request struct {
	Method  Method
	URI     string
	Version string
	Headers Headers
	Query   string
	Content []byte
	Address Address
}

// ParseRequest reads one request from the br sent by the remote peer.
//
// The head is read up to the blank-line terminator (a lone LF terminator is
// tolerated), obsolete line folding is rejected, the path is
// percent-decoded once and the query is split off at the first '?'. A body
// is read for an exact Content-Length or decoded from a chunked transfer
// encoding.
//
// Malformed input fails with `ErrBadRequest`, premature EOF with
// `ErrDisconnected` and an expired read deadline with `ErrTimeout`.
func ParseRequest(br *bufio.Reader, remote net.Addr) (*Request, error) {
	line, err := readLine(br)
	if err != nil {
		return nil, classifyReadError(err)
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: malformed request line", ErrBadRequest)
	}

	if !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: malformed version", ErrBadRequest)
	}

	req := &Request{
		Method:  ParseMethod(parts[0]),
		Version: parts[2],
	}

	target := parts[1]
	if i := strings.IndexByte(target, '?'); i >= 0 {
		req.Query = target[i+1:]
		target = target[:i]
	}

	path, err := url.PathUnescape(target)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed path", ErrBadRequest)
	}

	req.URI = path

	if err := parseHeaders(br, &req.Headers); err != nil {
		return nil, err
	}

	req.Address = NewAddress(remote, &req.Headers)

	if te, ok := req.Headers.Get(HeaderTransferEncoding); ok &&
		strings.Contains(strings.ToLower(te), "chunked") {
		content, err := readChunked(br)
		if err != nil {
			return nil, err
		}

		req.Content = content

		return req, nil
	}

	if cl, ok := req.Headers.Get(HeaderContentLength); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return nil, fmt.Errorf(
				"%w: malformed content length",
				ErrBadRequest,
			)
		}

		if n > 0 {
			content := make([]byte, n)
			if _, err := io.ReadFull(br, content); err != nil {
				return nil, classifyReadError(err)
			}

			req.Content = content
		}
	}

	return req, nil
}

// Bytes re-serialises the r. Headers follow the RFC 2616 §4.2 serialisation
// order and a Content-Length header is generated when the r carries content
// without declaring one.
func (r *Request) Bytes() []byte {
	target := r.URI
	if r.Query != "" {
		target += "?" + r.Query
	}

	hs := NewHeaders(append([]Header{}, r.Headers.Entries()...)...)
	if len(r.Content) > 0 && !hs.Contains(HeaderContentLength) {
		hs.Add(HeaderContentLength, strconv.Itoa(len(r.Content)))
	}

	buf := bytes.Buffer{}
	fmt.Fprintf(&buf, "%s %s %s\r\n", r.Method, target, r.Version)

	for _, h := range hs.Sorted() {
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}

	buf.WriteString("\r\n")
	buf.Write(r.Content)

	return buf.Bytes()
}

// Host returns the value of the Host header of the r.
func (r *Request) Host() string {
	host, _ := r.Headers.Get(HeaderHost)
	return host
}

// IsWebSocketUpgrade reports whether the r asks for a WebSocket upgrade.
func (r *Request) IsWebSocketUpgrade() bool {
	upgrade, ok := r.Headers.Get(HeaderUpgrade)
	return ok && strings.EqualFold(upgrade, "websocket")
}

// readLine reads one line from the br, accepting both CRLF and lone LF
// line endings.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	return line, nil
}

// parseHeaders reads header lines from the br into the hs until the
// blank-line terminator.
func parseHeaders(br *bufio.Reader, hs *Headers) error {
	for {
		line, err := readLine(br)
		if err != nil {
			return classifyReadError(err)
		}

		if line == "" {
			return nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			// Obsolete line folding, rejected per RFC 7230 §3.2.4.
			return fmt.Errorf(
				"%w: obsolete line folding",
				ErrBadRequest,
			)
		}

		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return fmt.Errorf("%w: malformed header", ErrBadRequest)
		}

		name := line[:i]
		if strings.ContainsAny(name, " \t") {
			return fmt.Errorf("%w: malformed header name", ErrBadRequest)
		}

		hs.Add(CanonicalHeaderName(name), strings.TrimSpace(line[i+1:]))
	}
}

// readChunked decodes a chunked transfer encoding from the br into a flat
// body, consuming any trailer section.
func readChunked(br *bufio.Reader) ([]byte, error) {
	body := bytes.Buffer{}

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, classifyReadError(err)
		}

		// Chunk extensions after ';' are ignored.
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}

		size, err := strconv.ParseUint(strings.TrimSpace(line), 16, 32)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: malformed chunk size",
				ErrBadRequest,
			)
		}

		if size == 0 {
			break
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, classifyReadError(err)
		}

		body.Write(chunk)

		if crlf, err := readLine(br); err != nil {
			return nil, classifyReadError(err)
		} else if crlf != "" {
			return nil, fmt.Errorf(
				"%w: malformed chunk terminator",
				ErrBadRequest,
			)
		}
	}

	// Consume the trailer section up to the final blank line.
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, classifyReadError(err)
		}

		if line == "" {
			return body.Bytes(), nil
		}
	}
}

// classifyReadError maps a raw stream error onto the codec error taxonomy.
func classifyReadError(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrDisconnected
	}

	return fmt.Errorf("%w: %v", ErrDisconnected, err)
}
