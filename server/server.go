/*
Package server implements the humphrey executable server on top of the
root package's engine: configuration, the response cache, the plugin host
and the file, directory, redirect, proxy and WebSocket-proxy handlers.
*/
package server

import (
	"net"

	"github.com/grinkers/humphrey"
)

// AppState is shared by every worker and handler. It owns the cache and
// the plugin registry behind their own locks; the configuration inside it
// is read-only for the lifetime of the process.
//
// Lock ordering is fixed: plugin manager before cache before logger.
type AppState struct {
	Config  *Config
	Cache   *Cache
	Plugins *PluginManager
	Logger  *Logger
}

// NewAppState builds the shared state for the cfg.
func NewAppState(cfg *Config) (*AppState, error) {
	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return &AppState{
		Config:  cfg,
		Cache:   NewCache(cfg.Cache.SizeLimit),
		Plugins: NewPluginManager(),
		Logger:  logger,
	}, nil
}

// Server couples the shared state with a configured engine.
type Server struct {
	State *AppState
	App   *humphrey.App
}

// New builds a `Server` from the cfg: state, plugins, routes, engine.
// A fatal plugin load failure is returned wrapped in `ErrPluginFatal`.
func New(cfg *Config) (*Server, error) {
	state, err := NewAppState(cfg)
	if err != nil {
		return nil, err
	}

	state.Logger.Info("Starting server")

	count, err := state.LoadPlugins()
	if err != nil {
		return nil, err
	}

	state.Logger.Info("Loaded %d plugins", count)

	return &Server{
		State: state,
		App:   state.BuildApp(),
	}, nil
}

// Run serves until `Server.Shutdown` is called, then unloads the plugins
// once the worker pool has drained.
func (s *Server) Run() error {
	s.State.Logger.Info("Running at %s", s.State.Config.Addr())

	err := s.App.Run(s.State.Config.Addr())

	s.State.Plugins.UnloadAll(s.State)
	s.State.Cache.Close()

	return err
}

// Shutdown stops the acceptor and lets in-flight requests finish.
func (s *Server) Shutdown() {
	s.App.Shutdown()
}

// LoadPlugins loads every configured plugin entry in order. Non-fatal
// load failures skip the plugin with a warning; a fatal failure aborts
// with the error.
func (s *AppState) LoadPlugins() (int, error) {
	for _, entry := range s.Config.Plugins {
		err := s.Plugins.Load(entry, s)
		if err == nil {
			s.Logger.Info("Initialised plugin %s", entry.Name)
			continue
		}

		if IsNonFatal(err) {
			s.Logger.Warn(
				"Non-fatal plugin error in %s: %v",
				entry.Name,
				err,
			)
			s.Logger.Warn("Ignoring this plugin")

			continue
		}

		s.Logger.Error(
			"Could not initialise plugin %s: %v",
			entry.Name,
			err,
		)

		return 0, err
	}

	return s.Plugins.Count(), nil
}

// BuildApp assembles the engine: worker pool sizing, timeouts, TLS,
// the blacklist accept filter, and one handler per configured route with
// the plugin chain wrapped around it.
func (s *AppState) BuildApp() *humphrey.App {
	cfg := s.Config

	app := humphrey.New()
	app.Workers = cfg.Server.Threads
	app.ConnTimeout = cfg.ConnTimeout()
	app.QueueSize = cfg.Server.QueueSize
	app.Logger = s.Logger
	app.ConnCondition = s.verifyConnection
	app.NotFoundHandler = func(req *humphrey.Request) *humphrey.Response {
		return s.Plugins.Dispatch(req, s, nil, s.notFound)
	}

	if cfg.TLS != nil {
		app.TLSCertFile = cfg.TLS.CertFile
		app.TLSKeyFile = cfg.TLS.KeyFile
		app.ForceHTTPS = cfg.TLS.Force
	}

	for i := range cfg.Routes {
		route := &cfg.Routes[i]
		app.Route(route.Matches, s.routeHandler(route))

		if route.WebsocketProxy != "" {
			app.WebSocketRoute(
				route.Matches,
				WebsocketProxyHandler(s, route.WebsocketProxy),
			)
		}
	}

	for i := range cfg.Hosts {
		host := &cfg.Hosts[i]
		sub := humphrey.NewSubApp()

		for j := range host.Routes {
			route := &host.Routes[j]
			sub.Route(route.Matches, s.routeHandler(route))

			if route.WebsocketProxy != "" {
				sub.WebSocketRoute(
					route.Matches,
					WebsocketProxyHandler(
						s,
						route.WebsocketProxy,
					),
				)
			}
		}

		app.Host(host.Matches, sub)
	}

	if cfg.WebsocketProxy != "" {
		app.WebSocketRoute(
			"/*",
			WebsocketProxyHandler(s, cfg.WebsocketProxy),
		)
	}

	return app
}

// routeHandler builds the handler for one route: a single dispatch on the
// route type, wrapped in the plugin hook chain.
func (s *AppState) routeHandler(route *RouteConfig) humphrey.Handler {
	var inner humphrey.Handler
	switch route.Type {
	case RouteFile:
		inner = FileHandler(s, route)
	case RouteDirectory:
		inner = DirectoryHandler(s, route)
	case RouteProxy:
		inner = ProxyHandler(s, route)
	case RouteRedirect:
		inner = RedirectHandler(s, route)
	default:
		inner = s.notFound
	}

	return func(req *humphrey.Request) *humphrey.Response {
		return s.Plugins.Dispatch(req, s, route, inner)
	}
}

// notFound logs and produces the default not-found response.
func (s *AppState) notFound(req *humphrey.Request) *humphrey.Response {
	s.Logger.Warn("%s: 404 Not Found %s", req.Address, req.URI)
	return NotFound(req)
}

// verifyConnection applies the blacklist policy before anything is read
// from an accepted stream.
func (s *AppState) verifyConnection(conn net.Conn) bool {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		s.Logger.Warn("Corrupted stream attempted to connect")
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}

	switch s.Config.Blacklist.Mode {
	case BlacklistBlock:
		if s.Config.BlacklistContains(ip) {
			s.Logger.Warn(
				"%s: Blacklisted IP attempted to connect",
				ip,
			)

			return false
		}
	case BlacklistAllow:
		if !s.Config.BlacklistContains(ip) {
			s.Logger.Warn("%s: IP not on the allow list", ip)
			return false
		}
	}

	return true
}
