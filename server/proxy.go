package server

import (
	"bufio"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grinkers/humphrey"
)

// targetCooldown is how long a failed proxy target is considered
// unhealthy before it is offered traffic again.
const targetCooldown = 30 * time.Second

// proxyDialTimeout bounds connecting to an upstream target.
const proxyDialTimeout = 5 * time.Second

// LoadBalancer picks one upstream target per request and tracks targets
// that recently failed.
type LoadBalancer struct {
	targets []string
	mode    string
	counter uint64

	mu             sync.Mutex
	unhealthyUntil map[string]time.Time
}

// NewLoadBalancer returns a new instance of the `LoadBalancer` for the
// cfg. The mode defaults to round-robin.
func NewLoadBalancer(cfg *LoadBalancerConfig) *LoadBalancer {
	mode := cfg.Mode
	if mode == "" {
		mode = "round-robin"
	}

	return &LoadBalancer{
		targets:        cfg.Targets,
		mode:           mode,
		unhealthyUntil: map[string]time.Time{},
	}
}

// Pick chooses the next target among the currently healthy ones. When
// every target is cooling down, the full pool is used so a request always
// has somewhere to go.
func (lb *LoadBalancer) Pick() string {
	candidates := lb.healthy()
	if len(candidates) == 0 {
		candidates = lb.targets
	}

	switch lb.mode {
	case "random":
		return candidates[rand.Intn(len(candidates))]
	default:
		n := atomic.AddUint64(&lb.counter, 1) - 1
		return candidates[n%uint64(len(candidates))]
	}
}

// MarkUnhealthy takes the target out of rotation for the cooldown window.
func (lb *LoadBalancer) MarkUnhealthy(target string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.unhealthyUntil[target] = time.Now().Add(targetCooldown)
}

// healthy returns the targets not currently cooling down.
func (lb *LoadBalancer) healthy() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	now := time.Now()

	var hs []string
	for _, t := range lb.targets {
		if until, ok := lb.unhealthyUntil[t]; !ok || now.After(until) {
			hs = append(hs, t)
		}
	}

	return hs
}

// ProxyHandler forwards requests to the route's target pool. The request
// is re-serialised onto a fresh TCP connection with Via and
// X-Forwarded-For appended to preserve existing chains; a target that
// cannot be reached or answers garbage is cooled down and the request is
// retried once on the next pick. When every attempt fails the client gets
// a 502.
func ProxyHandler(state *AppState, route *RouteConfig) humphrey.Handler {
	lb := NewLoadBalancer(route.LoadBalancer)

	return func(req *humphrey.Request) *humphrey.Response {
		if resp := state.rejectBlacklisted(req); resp != nil {
			return resp
		}

		out := forwardedRequest(req)

		first := lb.Pick()
		resp, err := exchange(first, out, state.Config.ConnTimeout())
		if err != nil {
			state.Logger.Error(
				"%s: Bad gateway %s, retrying: %v",
				req.Address,
				first,
				err,
			)
			lb.MarkUnhealthy(first)

			if second := lb.Pick(); second != first {
				resp, err = exchange(
					second,
					out,
					state.Config.ConnTimeout(),
				)
			}
		}

		if err != nil {
			state.Logger.Error(
				"%s: 502 Bad Gateway %s",
				req.Address,
				req.URI,
			)

			return humphrey.NewResponse(humphrey.StatusBadGateway).
				WithHeader(
					humphrey.HeaderContentType,
					"text/html",
				).
				WithText("<h1>502 Bad Gateway</h1>").
				WithRequestCompatibility(req).
				WithGeneratedHeaders()
		}

		state.Logger.Info("%s: %d (proxied) %s", req.Address, resp.Status, req.URI)

		resp.Headers.Add(humphrey.HeaderVia, viaToken(req))

		return resp.WithGeneratedHeaders()
	}
}

// WebsocketProxyHandler splices an upgraded connection with the target,
// forwarding the client's original handshake bytes so the target performs
// the upgrade itself.
func WebsocketProxyHandler(
	state *AppState,
	target string,
) humphrey.StreamHandler {
	return func(req *humphrey.Request, source humphrey.Stream) {
		destination, err := net.DialTimeout(
			"tcp",
			target,
			proxyDialTimeout,
		)
		if err != nil {
			state.Logger.Error(
				"%s: Could not connect to WebSocket",
				req.Address,
			)
			source.Close()

			return
		}

		if _, err := destination.Write(req.Bytes()); err != nil {
			state.Logger.Error(
				"%s: WebSocket handshake relay failed",
				req.Address,
			)
			source.Close()
			destination.Close()

			return
		}

		state.Logger.Info(
			"%s: WebSocket connected, proxying data",
			req.Address,
		)

		humphrey.Splice(source, destination)
	}
}

// forwardedRequest copies the req with the forwarding headers appended.
func forwardedRequest(req *humphrey.Request) *humphrey.Request {
	out := *req
	out.Headers = humphrey.NewHeaders(
		append([]humphrey.Header{}, req.Headers.Entries()...)...,
	)

	xff := humphrey.HeaderName("x-forwarded-for")
	if chain, ok := out.Headers.Get(xff); ok {
		out.Headers.Set(xff, chain+", "+req.Address.OriginAddr)
	} else {
		out.Headers.Add(xff, req.Address.OriginAddr)
	}

	out.Headers.Add(humphrey.HeaderVia, viaToken(req))

	return &out
}

// viaToken is the Via entry this hop appends.
func viaToken(req *humphrey.Request) string {
	version := strings.TrimPrefix(req.Version, "HTTP/")
	if version == "" {
		version = "1.1"
	}

	return version + " " + humphrey.ServerName
}

// exchange writes the req to the target and parses its response.
func exchange(
	target string,
	req *humphrey.Request,
	timeout time.Duration,
) (*humphrey.Response, error) {
	conn, err := net.DialTimeout("tcp", target, proxyDialTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}

	if _, err := conn.Write(req.Bytes()); err != nil {
		return nil, err
	}

	return humphrey.ParseResponse(bufio.NewReader(conn))
}
