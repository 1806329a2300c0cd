package humphrey

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startApp serves the app on a loopback listener and returns its address.
func startApp(t *testing.T, app *App) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go app.Serve(l)
	t.Cleanup(app.Shutdown)

	return l.Addr().String()
}

func TestAppServe(t *testing.T) {
	app := New()
	app.Workers = 4
	app.ConnTimeout = 5 * time.Second
	app.Route("/hello", func(req *Request) *Response {
		return NewResponse(StatusOK).
			WithText("hi").
			WithRequestCompatibility(req).
			WithGeneratedHeaders()
	})

	addr := startApp(t, app)

	client := NewClient()
	client.Timeout = 5 * time.Second

	resp, err := client.Get("http://" + addr + "/hello")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, []byte("hi"), resp.Body)

	connection, _ := resp.Headers.Get(HeaderConnection)
	assert.Equal(t, "close", connection)
}

func TestAppServeNotFound(t *testing.T) {
	app := New()
	app.Workers = 2
	addr := startApp(t, app)

	resp, err := NewClient().Get("http://" + addr + "/missing")
	require.NoError(t, err)

	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Equal(t, []byte("<h1>404 Not Found</h1>"), resp.Body)

	ct, _ := resp.Headers.Get(HeaderContentType)
	assert.Equal(t, "text/html", ct)
}

func TestAppHostRouting(t *testing.T) {
	app := New()
	app.Workers = 2
	app.Route("/who", func(req *Request) *Response {
		return NewResponse(StatusOK).
			WithText("default").
			WithGeneratedHeaders()
	})

	api := NewSubApp()
	api.Route("/who", func(req *Request) *Response {
		return NewResponse(StatusOK).
			WithText("api").
			WithGeneratedHeaders()
	})
	app.Host("api.example.com", api)

	addr := startApp(t, app)
	client := NewClient()

	req := &Request{Method: MethodGet, URI: "/who", Version: "HTTP/1.1"}
	req.Headers.Add(HeaderHost, "api.example.com")

	resp, err := client.Do(addr, req)
	require.NoError(t, err)
	assert.Equal(t, []byte("api"), resp.Body)

	req = &Request{Method: MethodGet, URI: "/who", Version: "HTTP/1.1"}
	req.Headers.Add(HeaderHost, "example.com")

	resp, err = client.Do(addr, req)
	require.NoError(t, err)
	assert.Equal(t, []byte("default"), resp.Body)
}

func TestAppRecoversHandlerPanic(t *testing.T) {
	app := New()
	app.Workers = 2
	app.Route("/boom", func(*Request) *Response {
		panic("handler exploded")
	})
	app.Route("/fine", func(req *Request) *Response {
		return NewResponse(StatusOK).WithText("ok").WithGeneratedHeaders()
	})

	addr := startApp(t, app)
	client := NewClient()

	resp, err := client.Get("http://" + addr + "/boom")
	require.NoError(t, err)
	assert.Equal(t, StatusInternalServerError, resp.Status)

	// The worker pool survives the panic.
	resp, err = client.Get("http://" + addr + "/fine")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestAppBadRequest(t *testing.T) {
	app := New()
	app.Workers = 2
	addr := startApp(t, app)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not an http request\r\n\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(b), "400 Bad Request")
}

func TestAppShortBodyTimesOut(t *testing.T) {
	app := New()
	app.Workers = 2
	app.ConnTimeout = 200 * time.Millisecond
	app.Route("/*", func(req *Request) *Response {
		return NewResponse(StatusOK).WithGeneratedHeaders()
	})

	addr := startApp(t, app)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// One byte less than Content-Length promises, then silence: the
	// read deadline expires and the server closes without a response.
	_, err = conn.Write([]byte(
		"POST /submit HTTP/1.1\r\nHost: x\r\nContent-Length: 6\r\n\r\nhello",
	))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestAppConnCondition(t *testing.T) {
	app := New()
	app.Workers = 2
	app.ConnCondition = func(net.Conn) bool { return false }

	addr := startApp(t, app)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// The acceptor closes the stream without reading anything.
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestAppWebSocketRoute(t *testing.T) {
	app := New()
	app.Workers = 2
	app.WebSocketRoute("/ws", func(req *Request, stream Stream) {
		defer stream.Close()
		stream.Write([]byte("upgraded:" + req.URI))
	})

	addr := startApp(t, app)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	req := &Request{Method: MethodGet, URI: "/ws", Version: "HTTP/1.1"}
	req.Headers.Add(HeaderHost, "x")
	req.Headers.Add(HeaderUpgrade, "websocket")

	_, err = conn.Write(req.Bytes())
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	b, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, "upgraded:/ws", string(b))
}

func TestAppRunBindFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	app := New()
	err = app.Run(l.Addr().String())
	assert.ErrorIs(t, err, ErrBindFailure)
}

func TestAppShutdownDrains(t *testing.T) {
	app := New()
	app.Workers = 2
	app.Route("/slow", func(req *Request) *Response {
		time.Sleep(100 * time.Millisecond)
		return NewResponse(StatusOK).WithText("done").WithGeneratedHeaders()
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- app.Serve(l) }()

	client := NewClient()
	got := make(chan *Response, 1)
	go func() {
		resp, _ := client.Get("http://" + l.Addr().String() + "/slow")
		got <- resp
	}()

	time.Sleep(30 * time.Millisecond)
	app.Shutdown()

	select {
	case resp := <-got:
		require.NotNil(t, resp)
		assert.Equal(t, []byte("done"), resp.Body)
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight request was not drained")
	}

	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
}
