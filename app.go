/*
Package humphrey implements a small HTTP/1.1 server framework and client.

The package provides the wire codec (request parsing and response
serialisation), a host- and path-pattern router, a fixed worker pool driving
one connection per worker at a time, optional TLS termination, a WebSocket
stream splice, and an HTTP client. The executable server built on top of it
lives in the server and cmd/humphrey packages.
*/
package humphrey

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/lgr"
)

// Stream is the raw byte stream of an upgraded connection.
type Stream = net.Conn

// ConnCondition decides whether an accepted connection may proceed. It runs
// on the acceptor before anything is read from the stream; returning false
// closes the connection immediately.
type ConnCondition func(net.Conn) bool

// App is the request-lifecycle engine: a single acceptor feeding a bounded
// queue consumed by a fixed pool of workers. Each worker drives one
// connection at a time through TLS handshake, parse, dispatch, serialise
// and close. Every connection serves exactly one request.
//
// All fields must be set before calling `App.Run` or `App.Serve`.
type App struct {
	// Workers is the size of the worker pool.
	//
	// Default value: 32
	Workers int

	// ConnTimeout bounds reads from and writes to one connection. Zero
	// means no timeout.
	ConnTimeout time.Duration

	// QueueSize bounds the accept queue, providing backpressure when
	// every worker is busy.
	//
	// Default value: 256
	QueueSize int

	// TLSCertFile and TLSKeyFile enable TLS termination when both are
	// set.
	TLSCertFile string
	TLSKeyFile  string

	// ForceHTTPS starts a plain-HTTP listener on the ForceHTTPSPort
	// answering every request with a redirect to the https:// scheme.
	// It has no effect without TLS.
	ForceHTTPS bool

	// ForceHTTPSPort is the port of the redirect listener.
	//
	// Default value: "80"
	ForceHTTPSPort string

	// ConnCondition filters accepted connections before any read.
	ConnCondition ConnCondition

	// NotFoundHandler answers requests no route matches.
	//
	// Default value: `NotFoundHandler`
	NotFoundHandler Handler

	// Logger receives the engine's log lines.
	//
	// Default value: `lgr.Default()`
	Logger lgr.L

	defaultApp *SubApp
	hosts      []*SubApp

	mu               sync.Mutex
	listener         net.Listener
	redirectListener net.Listener
	queue            chan net.Conn
	closed           atomic.Bool
	wg               sync.WaitGroup
}

// New returns a new instance of the `App` with default field values.
func New() *App {
	return &App{
		Workers:         32,
		QueueSize:       256,
		ForceHTTPSPort:  "80",
		NotFoundHandler: NotFoundHandler,
		Logger:          lgr.Default(),
		defaultApp:      NewSubApp(),
	}
}

// NotFoundHandler is the default not-found response generator.
func NotFoundHandler(req *Request) *Response {
	return NewResponse(StatusNotFound).
		WithHeader(HeaderContentType, "text/html").
		WithText("<h1>404 Not Found</h1>").
		WithRequestCompatibility(req).
		WithGeneratedHeaders()
}

// Route registers a handler for the pattern on the default host.
func (a *App) Route(pattern string, h Handler) *App {
	a.defaultApp.Route(pattern, h)
	return a
}

// WebSocketRoute registers a stream handler for the pattern on the default
// host.
func (a *App) WebSocketRoute(pattern string, h StreamHandler) *App {
	a.defaultApp.WebSocketRoute(pattern, h)
	return a
}

// Host registers the sub as a virtual host selected when the hostPattern
// matches the request's Host header. Hosts are consulted in registration
// order; requests matching none fall through to the default host.
func (a *App) Host(hostPattern string, sub *SubApp) *App {
	sub.pattern = hostPattern
	a.hosts = append(a.hosts, sub)

	return a
}

// Run binds the addr and serves until `App.Shutdown` is called. A failure
// to bind is reported as `ErrBindFailure`.
func (a *App) Run(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailure, err)
	}

	return a.Serve(l)
}

// Serve accepts connections from the l until `App.Shutdown` is called,
// wrapping them in TLS when certificates are configured.
func (a *App) Serve(l net.Listener) error {
	if a.TLSCertFile != "" && a.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(a.TLSCertFile, a.TLSKeyFile)
		if err != nil {
			l.Close()
			return err
		}

		if a.ForceHTTPS {
			if err := a.serveRedirects(l.Addr()); err != nil {
				l.Close()
				return err
			}
		}

		l = tls.NewListener(l, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	a.mu.Lock()
	a.listener = l
	a.queue = make(chan net.Conn, a.queueSize())
	a.mu.Unlock()

	workers := a.Workers
	if workers <= 0 {
		workers = 32
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if a.closed.Load() || errors.Is(err, net.ErrClosed) {
				break
			}

			a.logf("[WARN] accept failed: %v", err)

			continue
		}

		if cc := a.ConnCondition; cc != nil && !cc(conn) {
			conn.Close()
			continue
		}

		a.queue <- conn
	}

	close(a.queue)
	a.wg.Wait()

	return nil
}

// Shutdown stops the acceptor and lets the workers drain. It is safe to
// call more than once.
func (a *App) Shutdown() {
	if !a.closed.CompareAndSwap(false, true) {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil {
		a.listener.Close()
	}

	if a.redirectListener != nil {
		a.redirectListener.Close()
	}
}

// RedirectAddr returns the address of the force-HTTPS redirect listener,
// or "" when none is running.
func (a *App) RedirectAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.redirectListener == nil {
		return ""
	}

	return a.redirectListener.Addr().String()
}

// queueSize returns the effective accept queue bound.
func (a *App) queueSize() int {
	if a.QueueSize > 0 {
		return a.QueueSize
	}

	return 256
}

// logf writes to the configured logger.
func (a *App) logf(format string, args ...interface{}) {
	if a.Logger != nil {
		a.Logger.Logf(format, args...)
	}
}

// subAppFor returns the virtual host whose pattern matches the host, or
// the default host.
func (a *App) subAppFor(host string) *SubApp {
	for _, sub := range a.hosts {
		if MatchHost(sub.pattern, host) {
			return sub
		}
	}

	return a.defaultApp
}

// worker consumes connections from the accept queue, driving each to
// completion before pulling the next.
func (a *App) worker() {
	defer a.wg.Done()

	for conn := range a.queue {
		a.driveConn(conn)
	}
}

// driveConn runs the per-connection state machine: TLS handshake, parse,
// dispatch, serialise, close. Handler panics are recovered into a 500 so a
// bad request cannot poison the pool.
func (a *App) driveConn(conn net.Conn) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			a.logf("[ERROR] handler panic: %v\n%s", r, debug.Stack())
			conn.Write(errorResponse(StatusInternalServerError).Bytes())
		}
	}()

	if tc, ok := conn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			a.logf(
				"[DEBUG] %s: tls handshake failed: %v",
				conn.RemoteAddr(),
				err,
			)

			return
		}
	}

	if a.ConnTimeout > 0 {
		conn.SetDeadline(time.Now().Add(a.ConnTimeout))
	}

	req, err := ParseRequest(bufio.NewReader(conn), conn.RemoteAddr())
	if err != nil {
		switch {
		case errors.Is(err, ErrBadRequest):
			a.logf("[WARN] %s: %v", conn.RemoteAddr(), err)
			conn.Write(errorResponse(StatusBadRequest).Bytes())
		case errors.Is(err, ErrTimeout):
			a.logf("[INFO] %s: request timed out", conn.RemoteAddr())
		default:
			a.logf("[DEBUG] %s: disconnected", conn.RemoteAddr())
		}

		return
	}

	sub := a.subAppFor(req.Host())

	if req.IsWebSocketUpgrade() {
		if sh := sub.streamRoute(req.URI); sh != nil {
			// The stream handler owns the socket from here on.
			conn.SetDeadline(time.Time{})
			sh(req, conn)

			return
		}
	}

	h := sub.route(req.URI)
	if h == nil {
		h = a.NotFoundHandler
		if h == nil {
			h = NotFoundHandler
		}
	}

	resp := h(req)
	if resp == nil {
		resp = errorResponse(StatusInternalServerError)
	}

	conn.Write(resp.Bytes())
}

// serveRedirects starts the plain-HTTP listener answering every request
// with a redirect to the https:// equivalent.
func (a *App) serveRedirects(httpsAddr net.Addr) error {
	port := a.ForceHTTPSPort
	if port == "" {
		port = "80"
	}

	host, httpsPort, err := net.SplitHostPort(httpsAddr.String())
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBindFailure, err)
	}

	a.mu.Lock()
	a.redirectListener = l
	a.mu.Unlock()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}

			go a.redirect(conn, httpsPort)
		}
	}()

	return nil
}

// redirect answers one plain-HTTP request on the conn with a 301 to the
// https:// equivalent.
func (a *App) redirect(conn net.Conn, httpsPort string) {
	defer conn.Close()

	if a.ConnTimeout > 0 {
		conn.SetDeadline(time.Now().Add(a.ConnTimeout))
	}

	req, err := ParseRequest(bufio.NewReader(conn), conn.RemoteAddr())
	if err != nil {
		return
	}

	host := req.Host()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	if httpsPort != "443" {
		host = net.JoinHostPort(host, httpsPort)
	}

	target := "https://" + host + req.URI
	if req.Query != "" {
		target += "?" + req.Query
	}

	resp := NewResponse(StatusMovedPermanently).
		WithHeader(HeaderLocation, target).
		WithRequestCompatibility(req).
		WithGeneratedHeaders()

	conn.Write(resp.Bytes())
}

// errorResponse builds a minimal HTML response for the status.
func errorResponse(status StatusCode) *Response {
	body := fmt.Sprintf(
		"<h1>%d %s</h1>",
		status,
		status.Phrase(),
	)

	return NewResponse(status).
		WithHeader(HeaderContentType, "text/html").
		WithText(body).
		WithGeneratedHeaders()
}
