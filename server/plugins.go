package server

import (
	"errors"
	"fmt"
	"plugin"
	"sync"

	"github.com/grinkers/humphrey"
)

// PluginSymbol is the constructor symbol a plugin library must export:
// a `func() Plugin` value named HumphreyPluginInit.
const PluginSymbol = "HumphreyPluginInit"

// Plugin observes and may override the request/response lifecycle.
//
// Hooks run in load order on every request. The first OnRequest hook
// returning a non-nil response short-circuits handler dispatch and the
// remaining OnRequest hooks; OnResponse runs for every loaded plugin
// exactly once per request, whether the response came from a plugin or
// from the route handler.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// OnLoad initialises the plugin with its configuration entry.
	// Returning an error wrapped by NonFatal skips the plugin;
	// any other error aborts server startup.
	OnLoad(config map[string]string, state *AppState) error

	// OnRequest may mutate the req or override the response entirely
	// by returning a non-nil response.
	OnRequest(
		req *humphrey.Request,
		state *AppState,
		route *RouteConfig,
	) *humphrey.Response

	// OnResponse may mutate the resp in place before it is written.
	OnResponse(resp *humphrey.Response, state *AppState)

	// OnUnload releases the plugin's resources at shutdown.
	OnUnload(state *AppState)
}

// PluginConstructor is the type of the value exported under PluginSymbol.
type PluginConstructor func() Plugin

// nonFatalError marks a plugin load failure that should skip the plugin
// instead of aborting startup.
type nonFatalError struct {
	err error
}

func (e *nonFatalError) Error() string { return e.err.Error() }
func (e *nonFatalError) Unwrap() error { return e.err }

// NonFatal wraps the err so a failing OnLoad skips the plugin with a
// warning instead of aborting server startup.
func NonFatal(err error) error {
	return &nonFatalError{err: err}
}

// IsNonFatal reports whether the err came from NonFatal.
func IsNonFatal(err error) bool {
	var nf *nonFatalError
	return errors.As(err, &nf)
}

// ErrPluginFatal is wrapped around plugin load failures that must abort
// server startup.
var ErrPluginFatal = errors.New("server: fatal plugin error")

// PluginManager owns the ordered registry of loaded plugins. A read lock
// on the registry spans the full hook chain of one request, so a plugin
// can never be unloaded mid-request; unload happens only at shutdown,
// after the worker pool has drained.
type PluginManager struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewPluginManager returns a new instance of the `PluginManager`.
func NewPluginManager() *PluginManager {
	return &PluginManager{}
}

// Load opens the shared library of the entry, resolves the exported
// constructor, instantiates the plugin and calls its OnLoad hook.
func (m *PluginManager) Load(entry PluginConfig, state *AppState) error {
	lib, err := plugin.Open(entry.Library)
	if err != nil {
		return fmt.Errorf(
			"%w: %s: %v",
			ErrPluginFatal,
			entry.Name,
			err,
		)
	}

	sym, err := lib.Lookup(PluginSymbol)
	if err != nil {
		return fmt.Errorf(
			"%w: %s: missing %s symbol",
			ErrPluginFatal,
			entry.Name,
			PluginSymbol,
		)
	}

	var ctor PluginConstructor
	switch v := sym.(type) {
	case *PluginConstructor:
		ctor = *v
	case func() Plugin:
		ctor = v
	default:
		return fmt.Errorf(
			"%w: %s: %s has the wrong type",
			ErrPluginFatal,
			entry.Name,
			PluginSymbol,
		)
	}

	return m.Register(ctor(), entry.Config, state)
}

// Register initialises the p and appends it to the registry, preserving
// load order. It admits in-process plugins without a shared library,
// which is also how plugins are exercised in tests.
func (m *PluginManager) Register(
	p Plugin,
	config map[string]string,
	state *AppState,
) error {
	if err := p.OnLoad(config, state); err != nil {
		if IsNonFatal(err) {
			return err
		}

		return fmt.Errorf("%w: %s: %v", ErrPluginFatal, p.Name(), err)
	}

	m.mu.Lock()
	m.plugins = append(m.plugins, p)
	m.mu.Unlock()

	return nil
}

// Count returns the number of loaded plugins.
func (m *PluginManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.plugins)
}

// Dispatch runs one request through the full hook chain: every OnRequest
// hook in load order until one overrides the response, the inner handler
// when none did, then every OnResponse hook in load order. The registry
// read lock is held for the whole chain and released before the caller
// writes the response to the wire.
func (m *PluginManager) Dispatch(
	req *humphrey.Request,
	state *AppState,
	route *RouteConfig,
	inner humphrey.Handler,
) *humphrey.Response {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var resp *humphrey.Response
	for _, p := range m.plugins {
		if resp = p.OnRequest(req, state, route); resp != nil {
			break
		}
	}

	if resp == nil {
		resp = inner(req)
	}

	for _, p := range m.plugins {
		p.OnResponse(resp, state)
	}

	return resp
}

// UnloadAll calls every plugin's OnUnload hook in load order and empties
// the registry. It must only run after the worker pool has drained.
func (m *PluginManager) UnloadAll(state *AppState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.plugins {
		p.OnUnload(state)
	}

	m.plugins = nil
}
