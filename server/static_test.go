package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grinkers/humphrey"
)

func testState(t *testing.T, sizeLimit int) *AppState {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Cache.SizeLimit = sizeLimit
	cfg.Logging.Console = false
	require.NoError(t, cfg.Validate())

	state, err := NewAppState(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { state.Cache.Close() })

	return state
}

func staticRequest(uri string) *humphrey.Request {
	req := &humphrey.Request{
		Method:  humphrey.MethodGet,
		URI:     uri,
		Version: "HTTP/1.1",
		Address: humphrey.Address{
			Addr:       "1.2.3.4:5678",
			OriginAddr: "1.2.3.4",
		},
	}
	req.Headers.Add(humphrey.HeaderHost, "x")

	return req
}

func TestDirectoryHandlerServesIndex(t *testing.T) {
	dir := t.TempDir()
	content := []byte("<html><body>home</body></html>")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "index.html"),
		content,
		0o644,
	))

	state := testState(t, 0)
	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}
	h := DirectoryHandler(state, route)

	resp := h(staticRequest("/"))
	assert.Equal(t, humphrey.StatusOK, resp.Status)
	assert.Equal(t, content, resp.Body)

	ct, _ := resp.Headers.Get(humphrey.HeaderContentType)
	assert.Equal(t, "text/html", ct)
}

func TestDirectoryHandlerIndexFallback(t *testing.T) {
	dir := t.TempDir()
	content := []byte("legacy index")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "index.htm"),
		content,
		0o644,
	))

	state := testState(t, 0)
	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}

	resp := DirectoryHandler(state, route)(staticRequest("/"))
	assert.Equal(t, humphrey.StatusOK, resp.Status)
	assert.Equal(t, content, resp.Body)
}

func TestDirectoryHandlerRedirectsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "docs"), 0o755))

	state := testState(t, 0)
	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}

	resp := DirectoryHandler(state, route)(staticRequest("/docs"))
	assert.Equal(t, humphrey.StatusMovedPermanently, resp.Status)

	location, _ := resp.Headers.Get(humphrey.HeaderLocation)
	assert.Equal(t, "/docs/", location)
}

func TestDirectoryHandlerServesFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "site.css"),
		[]byte("body{}"),
		0o644,
	))

	state := testState(t, 0)
	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}

	resp := DirectoryHandler(state, route)(staticRequest("/site.css"))
	assert.Equal(t, humphrey.StatusOK, resp.Status)

	ct, _ := resp.Headers.Get(humphrey.HeaderContentType)
	assert.Equal(t, "text/css", ct)
}

func TestDirectoryHandlerStripsRoutePrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "app.js"),
		[]byte("console.log(1)"),
		0o644,
	))

	state := testState(t, 0)
	route := &RouteConfig{
		Matches: "/static/*",
		Type:    RouteDirectory,
		Path:    dir,
	}

	resp := DirectoryHandler(state, route)(staticRequest("/static/app.js"))
	assert.Equal(t, humphrey.StatusOK, resp.Status)
	assert.Equal(t, []byte("console.log(1)"), resp.Body)
}

func TestDirectoryHandlerRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "public"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "secret.txt"),
		[]byte("secret"),
		0o644,
	))

	state := testState(t, 0)
	route := &RouteConfig{
		Matches: "/*",
		Type:    RouteDirectory,
		Path:    filepath.Join(dir, "public"),
	}
	h := DirectoryHandler(state, route)

	for _, uri := range []string{
		"/../secret.txt",
		"/a/../../secret.txt",
		"/..",
	} {
		resp := h(staticRequest(uri))
		assert.Equal(t, humphrey.StatusForbidden, resp.Status, uri)
		assert.Equal(t, []byte("<h1>403 Forbidden</h1>"), resp.Body)
	}
}

func TestDirectoryHandlerNotFound(t *testing.T) {
	state := testState(t, 0)
	route := &RouteConfig{
		Matches: "/*",
		Type:    RouteDirectory,
		Path:    t.TempDir(),
	}

	resp := DirectoryHandler(state, route)(staticRequest("/missing"))
	assert.Equal(t, humphrey.StatusNotFound, resp.Status)
	assert.Equal(t, []byte("<h1>404 Not Found</h1>"), resp.Body)

	ct, _ := resp.Headers.Get(humphrey.HeaderContentType)
	assert.Equal(t, "text/html", ct)
}

func TestDirectoryHandlerCaches(t *testing.T) {
	dir := t.TempDir()
	content := []byte("cache me")
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "index.html"),
		content,
		0o644,
	))

	logFile := filepath.Join(t.TempDir(), "humphrey.log")

	cfg := DefaultConfig()
	cfg.Cache.SizeLimit = 1024
	cfg.Logging.Console = false
	cfg.Logging.File = logFile
	require.NoError(t, cfg.Validate())

	state, err := NewAppState(cfg)
	require.NoError(t, err)
	defer state.Cache.Close()

	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}
	h := DirectoryHandler(state, route)

	first := h(staticRequest("/"))
	assert.Equal(t, humphrey.StatusOK, first.Status)
	assert.Equal(t, 1, state.Cache.Len())

	second := h(staticRequest("/"))
	assert.Equal(t, humphrey.StatusOK, second.Status)
	assert.Equal(t, first.Body, second.Body)

	logged, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "200 OK (cached) /")
}

func TestDirectoryHandlerSkipsOversizedCacheEntries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "index.html"),
		make([]byte, 64),
		0o644,
	))

	state := testState(t, 16)
	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: dir}

	resp := DirectoryHandler(state, route)(staticRequest("/"))
	assert.Equal(t, humphrey.StatusOK, resp.Status)
	assert.Equal(t, 0, state.Cache.Len())
}

func TestFileHandler(t *testing.T) {
	dir := t.TempDir()
	content := []byte("single file")
	path := filepath.Join(dir, "only.txt")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	state := testState(t, 0)
	route := &RouteConfig{Matches: "/*", Type: RouteFile, Path: path}
	h := FileHandler(state, route)

	for _, uri := range []string{"/", "/anything", "/deep/path"} {
		resp := h(staticRequest(uri))
		assert.Equal(t, humphrey.StatusOK, resp.Status, uri)
		assert.Equal(t, content, resp.Body, uri)
	}
}

func TestRedirectHandler(t *testing.T) {
	state := testState(t, 0)
	route := &RouteConfig{
		Matches: "/old",
		Type:    RouteRedirect,
		Path:    "https://example.com/new",
	}

	resp := RedirectHandler(state, route)(staticRequest("/old"))
	assert.Equal(t, humphrey.StatusFound, resp.Status)

	location, _ := resp.Headers.Get(humphrey.HeaderLocation)
	assert.Equal(t, "https://example.com/new", location)
}

func TestBlacklistedOriginGets403(t *testing.T) {
	state := testState(t, 0)
	state.Config.Blacklist.List = []string{"1.2.3.4"}
	require.NoError(t, state.Config.Validate())

	route := &RouteConfig{Matches: "/*", Type: RouteDirectory, Path: "."}

	resp := DirectoryHandler(state, route)(staticRequest("/"))
	assert.Equal(t, humphrey.StatusForbidden, resp.Status)
	assert.Equal(t, []byte("<h1>403 Forbidden</h1>"), resp.Body)
}

func TestResolveTarget(t *testing.T) {
	target, ok := resolveTarget("/srv/www", "/*", "/a/b.html")
	assert.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/srv/www/a/b.html"), target)

	target, ok = resolveTarget("/srv/www", "/static/*", "/static/a.css")
	assert.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/srv/www/a.css"), target)

	_, ok = resolveTarget("/srv/www", "/*", "/../etc/passwd")
	assert.False(t, ok)

	target, ok = resolveTarget("/srv/www", "/*", "/a/../b")
	assert.True(t, ok)
	assert.Equal(t, filepath.FromSlash("/srv/www/b"), target)
}
