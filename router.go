package humphrey

import "strings"

// Handler produces the response for a request.
type Handler func(*Request) *Response

// StreamHandler takes ownership of the underlying stream of an upgraded
// connection. The response path is skipped for requests it handles.
type StreamHandler func(*Request, Stream)

// MatchRoute reports whether the route pattern accepts the path.
//
// Pattern semantics:
//
//	"/literal"  — exact match against the path.
//	"/prefix/*" — match iff the path starts with "/prefix/" or equals
//	              "/prefix".
//	"/*"        — match any path.
func MatchRoute(pattern, path string) bool {
	if pattern == "/*" {
		return true
	}

	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}

	return path == pattern
}

// MatchHost reports whether the host pattern accepts the value of a Host
// header. The pattern "*" matches anything; any other pattern matches
// exactly, ignoring case.
func MatchHost(pattern, host string) bool {
	if pattern == "*" {
		return true
	}

	return strings.EqualFold(pattern, host)
}

// routeEntry binds a route pattern to a handler.
type routeEntry struct {
	pattern string
	handler Handler
}

// streamRouteEntry binds a route pattern to a stream handler.
type streamRouteEntry struct {
	pattern string
	handler StreamHandler
}

// SubApp is the set of routes served for one virtual host.
type SubApp struct {
	pattern      string
	routes       []routeEntry
	streamRoutes []streamRouteEntry
}

// NewSubApp returns a new instance of the `SubApp`.
func NewSubApp() *SubApp {
	return &SubApp{}
}

// Route registers a handler for the route pattern. Routes match in
// registration order; the first match wins.
func (sa *SubApp) Route(pattern string, h Handler) *SubApp {
	sa.routes = append(sa.routes, routeEntry{pattern: pattern, handler: h})
	return sa
}

// WebSocketRoute registers a stream handler for the route pattern. It is
// consulted only for requests carrying a WebSocket upgrade.
func (sa *SubApp) WebSocketRoute(pattern string, h StreamHandler) *SubApp {
	sa.streamRoutes = append(
		sa.streamRoutes,
		streamRouteEntry{pattern: pattern, handler: h},
	)

	return sa
}

// route returns the first handler whose pattern accepts the path, or nil.
func (sa *SubApp) route(path string) Handler {
	for _, e := range sa.routes {
		if MatchRoute(e.pattern, path) {
			return e.handler
		}
	}

	return nil
}

// streamRoute returns the first stream handler whose pattern accepts the
// path, or nil.
func (sa *SubApp) streamRoute(path string) StreamHandler {
	for _, e := range sa.streamRoutes {
		if MatchRoute(e.pattern, path) {
			return e.handler
		}
	}

	return nil
}
