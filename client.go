package humphrey

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client is an HTTP client speaking the same single-request-per-connection
// dialect as the server. HTTPS requests verify against the system root
// pool unless a TLSConfig is supplied.
type Client struct {
	// Timeout bounds dialing plus the full request/response exchange.
	//
	// Default value: 30s
	Timeout time.Duration

	// TLSConfig overrides the TLS client configuration.
	TLSConfig *tls.Config
}

// NewClient returns a new instance of the `Client` with default field
// values.
func NewClient() *Client {
	return &Client{Timeout: 30 * time.Second}
}

// Get performs a GET request to the rawURL.
func (c *Client) Get(rawURL string) (*Response, error) {
	return c.roundTrip(MethodGet, rawURL, nil)
}

// Post performs a POST request to the rawURL with the data as the body.
func (c *Client) Post(rawURL string, data []byte) (*Response, error) {
	return c.roundTrip(MethodPost, rawURL, data)
}

// Put performs a PUT request to the rawURL with the data as the body.
func (c *Client) Put(rawURL string, data []byte) (*Response, error) {
	return c.roundTrip(MethodPut, rawURL, data)
}

// Delete performs a DELETE request to the rawURL.
func (c *Client) Delete(rawURL string) (*Response, error) {
	return c.roundTrip(MethodDelete, rawURL, nil)
}

// Do sends the req over a fresh plain TCP connection to the addr and
// parses the response.
func (c *Client) Do(addr string, req *Request) (*Response, error) {
	conn, err := net.DialTimeout("tcp", addr, c.timeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadGateway, err)
	}

	return c.exchange(conn, req)
}

// roundTrip builds the request for the rawURL and exchanges it.
func (c *Client) roundTrip(
	method Method,
	rawURL string,
	data []byte,
) (*Response, error) {
	u, err := parseClientURL(rawURL)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:  method,
		URI:     u.path,
		Version: "HTTP/1.1",
		Query:   u.query,
		Content: data,
	}
	req.Headers.Add(HeaderHost, u.hostHeader)

	conn, err := net.DialTimeout("tcp", u.addr, c.timeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadGateway, err)
	}

	if u.secure {
		cfg := c.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		} else {
			cfg = cfg.Clone()
		}

		if cfg.ServerName == "" {
			cfg.ServerName = u.hostname
		}

		conn = tls.Client(conn, cfg)
	}

	return c.exchange(conn, req)
}

// exchange writes the req to the conn and parses the response, closing the
// conn before returning.
func (c *Client) exchange(conn net.Conn, req *Request) (*Response, error) {
	defer conn.Close()

	if t := c.timeout(); t > 0 {
		conn.SetDeadline(time.Now().Add(t))
	}

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, classifyReadError(err)
	}

	return ParseResponse(bufio.NewReader(conn))
}

// timeout returns the effective client timeout.
func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}

	return 30 * time.Second
}

// clientURL is the result of parsing a request URL.
type clientURL struct {
	secure     bool
	addr       string
	hostname   string
	hostHeader string
	path       string
	query      string
}

// parseClientURL splits the rawURL into scheme, host, path and query,
// applying the scheme's default port when none is given.
func parseClientURL(rawURL string) (*clientURL, error) {
	u := &clientURL{}

	var rest string
	switch {
	case strings.HasPrefix(rawURL, "http://"):
		rest = strings.TrimPrefix(rawURL, "http://")
	case strings.HasPrefix(rawURL, "https://"):
		u.secure = true
		rest = strings.TrimPrefix(rawURL, "https://")
	default:
		return nil, fmt.Errorf("humphrey: unsupported URL: %q", rawURL)
	}

	host := rest
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host = rest[:i]
		rest = rest[i:]
	} else {
		rest = "/"
	}

	if host == "" {
		return nil, fmt.Errorf("humphrey: missing host in URL: %q", rawURL)
	}

	u.hostHeader = host

	u.hostname = host
	port := "80"
	if u.secure {
		port = "443"
	}

	if h, p, err := net.SplitHostPort(host); err == nil {
		u.hostname = h
		port = p
	}

	u.addr = net.JoinHostPort(u.hostname, port)

	u.path = rest
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		u.path = rest[:i]
		u.query = rest[i+1:]
	}

	return u, nil
}
