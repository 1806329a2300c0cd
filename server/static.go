package server

import (
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aofei/mimesniffer"
	"github.com/grinkers/humphrey"
)

// indexFiles are tried, in order, when a directory route resolves to a
// directory with a trailing slash.
var indexFiles = []string{"index.html", "index.htm"}

// NotFound is the default not-found response generator.
func NotFound(req *humphrey.Request) *humphrey.Response {
	return humphrey.NewResponse(humphrey.StatusNotFound).
		WithHeader(humphrey.HeaderContentType, "text/html").
		WithText("<h1>404 Not Found</h1>").
		WithRequestCompatibility(req).
		WithGeneratedHeaders()
}

// Forbidden is the response for blacklisted peers and path escapes.
func Forbidden(req *humphrey.Request) *humphrey.Response {
	return humphrey.NewResponse(humphrey.StatusForbidden).
		WithHeader(humphrey.HeaderContentType, "text/html").
		WithText("<h1>403 Forbidden</h1>").
		WithRequestCompatibility(req).
		WithGeneratedHeaders()
}

// DirectoryHandler serves files under the route's filesystem root,
// resolving the target by stripping the route's match prefix from the URI.
func DirectoryHandler(state *AppState, route *RouteConfig) humphrey.Handler {
	return func(req *humphrey.Request) *humphrey.Response {
		if resp := state.rejectBlacklisted(req); resp != nil {
			return resp
		}

		if resp := state.serveCached(req); resp != nil {
			return resp
		}

		target, ok := resolveTarget(route.Path, route.Matches, req.URI)
		if !ok {
			state.Logger.Warn(
				"%s: 403 Forbidden %s",
				req.Address,
				req.URI,
			)

			return Forbidden(req)
		}

		info, err := os.Stat(target)
		if err != nil {
			state.Logger.Warn(
				"%s: 404 Not Found %s",
				req.Address,
				req.URI,
			)

			return NotFound(req)
		}

		if info.IsDir() {
			if !strings.HasSuffix(req.URI, "/") {
				state.Logger.Info(
					"%s: 301 Moved Permanently %s",
					req.Address,
					req.URI,
				)

				return humphrey.NewResponse(
					humphrey.StatusMovedPermanently,
				).
					WithHeader(
						humphrey.HeaderLocation,
						req.URI+"/",
					).
					WithRequestCompatibility(req).
					WithGeneratedHeaders()
			}

			found := ""
			for _, index := range indexFiles {
				candidate := filepath.Join(target, index)
				if fi, err := os.Stat(candidate); err == nil &&
					!fi.IsDir() {
					found = candidate
					break
				}
			}

			if found == "" {
				state.Logger.Warn(
					"%s: 404 Not Found %s",
					req.Address,
					req.URI,
				)

				return NotFound(req)
			}

			target = found
		}

		return state.serveFile(req, target)
	}
}

// FileHandler always serves the single file configured on the route.
func FileHandler(state *AppState, route *RouteConfig) humphrey.Handler {
	return func(req *humphrey.Request) *humphrey.Response {
		if resp := state.rejectBlacklisted(req); resp != nil {
			return resp
		}

		if resp := state.serveCached(req); resp != nil {
			return resp
		}

		return state.serveFile(req, route.Path)
	}
}

// RedirectHandler answers with a 302 to the route's configured target.
func RedirectHandler(state *AppState, route *RouteConfig) humphrey.Handler {
	return func(req *humphrey.Request) *humphrey.Response {
		state.Logger.Info("%s: 302 Found %s", req.Address, req.URI)

		return humphrey.NewResponse(humphrey.StatusFound).
			WithHeader(humphrey.HeaderLocation, route.Path).
			WithRequestCompatibility(req).
			WithGeneratedHeaders()
	}
}

// rejectBlacklisted answers 403 when the request's origin address is
// blocked by the blacklist.
func (s *AppState) rejectBlacklisted(
	req *humphrey.Request,
) *humphrey.Response {
	if s.Config.Blacklist.Mode != BlacklistBlock {
		return nil
	}

	ip := req.Address.OriginIP()
	if ip == nil || !s.Config.BlacklistContains(ip) {
		return nil
	}

	s.Logger.Warn(
		"%s: Blacklisted IP attempted to request %s",
		req.Address,
		req.URI,
	)

	return Forbidden(req)
}

// serveCached answers from the cache when it holds the request URI.
func (s *AppState) serveCached(req *humphrey.Request) *humphrey.Response {
	if !s.Cache.Enabled() {
		return nil
	}

	cached, ok := s.Cache.Get(req.URI)
	if !ok {
		return nil
	}

	s.Logger.Info("%s: 200 OK (cached) %s", req.Address, req.URI)

	return humphrey.NewResponse(humphrey.StatusOK).
		WithHeader(humphrey.HeaderContentType, cached.Mime).
		WithBytes(cached.Data).
		WithRequestCompatibility(req).
		WithGeneratedHeaders()
}

// serveFile reads and serves one regular file, memoising it when the
// cache admits it. The cache write lock is released before any further
// file I/O.
func (s *AppState) serveFile(
	req *humphrey.Request,
	target string,
) *humphrey.Response {
	contents, err := os.ReadFile(target)
	if err != nil {
		s.Logger.Warn("%s: 404 Not Found %s", req.Address, req.URI)
		return NotFound(req)
	}

	mt := mimeForFile(target, contents)

	if s.Cache.Enabled() {
		if s.Cache.Set(req.URI, contents, mt) {
			s.Logger.Debug("Cached route %s", req.URI)
			s.Cache.Track(req.URI, target)
		} else {
			s.Logger.Warn(
				"Couldn't cache, cache too small %s",
				req.URI,
			)
		}
	}

	s.Logger.Info("%s: 200 OK %s", req.Address, req.URI)

	return humphrey.NewResponse(humphrey.StatusOK).
		WithHeader(humphrey.HeaderContentType, mt).
		WithBytes(contents).
		WithRequestCompatibility(req).
		WithGeneratedHeaders()
}

// resolveTarget maps the request URI onto the filesystem below the root by
// stripping the route's match prefix. It refuses any path that would
// escape the root after `..` segments are normalised.
func resolveTarget(root, pattern, uri string) (string, bool) {
	base := strings.TrimSuffix(pattern, "/*")
	base = strings.TrimSuffix(base, "/")

	rel := strings.TrimPrefix(uri, base)
	rel = strings.TrimPrefix(rel, "/")

	clean := path.Clean("/" + rel)
	if escapes(rel) {
		return "", false
	}

	return filepath.Join(root, filepath.FromSlash(clean)), true
}

// escapes reports whether the relative path climbs above its root once
// `.` and `..` segments are resolved.
func escapes(rel string) bool {
	depth := 0
	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}

	return false
}

// mimeForFile classifies the file by extension, falling back to sniffing
// the content when the extension is unknown.
func mimeForFile(name string, content []byte) string {
	if mt := mime.TypeByExtension(filepath.Ext(name)); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}

	return mimesniffer.Sniff(content)
}
