package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// RouteType is the kind of handler a route dispatches to.
type RouteType string

// Route types.
const (
	RouteFile      RouteType = "file"
	RouteDirectory RouteType = "directory"
	RouteProxy     RouteType = "proxy"
	RouteRedirect  RouteType = "redirect"
)

// BlacklistMode decides what membership of the blacklist means.
type BlacklistMode string

// Blacklist modes.
const (
	// BlacklistBlock blocks listed addresses and admits the rest.
	BlacklistBlock BlacklistMode = "block"

	// BlacklistAllow admits listed addresses only.
	BlacklistAllow BlacklistMode = "allow"
)

// Config is the immutable server configuration parsed at startup.
type Config struct {
	Server         ServerConfig    `mapstructure:"server"`
	TLS            *TLSConfig      `mapstructure:"tls"`
	WebsocketProxy string          `mapstructure:"websocket_proxy"`
	Routes         []RouteConfig   `mapstructure:"routes"`
	Hosts          []HostConfig    `mapstructure:"hosts"`
	Cache          CacheConfig     `mapstructure:"cache"`
	Logging        LoggingConfig   `mapstructure:"logging"`
	Blacklist      BlacklistConfig `mapstructure:"blacklist"`
	Plugins        []PluginConfig  `mapstructure:"plugins"`

	blacklistIPs []net.IP
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	Port      int    `mapstructure:"port"`
	Threads   int    `mapstructure:"threads"`
	Timeout   int    `mapstructure:"timeout"`
	QueueSize int    `mapstructure:"queue_size"`
}

// TLSConfig is the [tls] section.
type TLSConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	Force    bool   `mapstructure:"force"`
}

// HostConfig is one [[hosts]] entry: a virtual host selected by the Host
// header.
type HostConfig struct {
	Matches string        `mapstructure:"matches"`
	Routes  []RouteConfig `mapstructure:"routes"`
}

// RouteConfig is one [[routes]] or [[hosts.routes]] entry.
type RouteConfig struct {
	Matches        string              `mapstructure:"matches"`
	Type           RouteType           `mapstructure:"type"`
	Path           string              `mapstructure:"path"`
	LoadBalancer   *LoadBalancerConfig `mapstructure:"load_balancer"`
	WebsocketProxy string              `mapstructure:"websocket_proxy"`
}

// LoadBalancerConfig is the target pool of a proxy route.
type LoadBalancerConfig struct {
	Targets []string `mapstructure:"targets"`
	Mode    string   `mapstructure:"mode"`
}

// CacheConfig is the [cache] section. A zero SizeLimit disables the cache.
type CacheConfig struct {
	SizeLimit int `mapstructure:"size_limit"`
}

// LoggingConfig is the [logging] section.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    string `mapstructure:"file"`
}

// BlacklistConfig is the [blacklist] section.
type BlacklistConfig struct {
	List []string      `mapstructure:"list"`
	Mode BlacklistMode `mapstructure:"mode"`
}

// PluginConfig is one [[plugins]] entry.
type PluginConfig struct {
	Name    string            `mapstructure:"name"`
	Library string            `mapstructure:"library"`
	Config  map[string]string `mapstructure:"config"`
}

// DefaultConfig returns the configuration used when a section or field is
// absent from the configuration file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:   "0.0.0.0",
			Port:      80,
			Threads:   32,
			QueueSize: 256,
		},
		Routes: []RouteConfig{
			{
				Matches: "/*",
				Type:    RouteDirectory,
				Path:    ".",
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Blacklist: BlacklistConfig{
			Mode: BlacklistBlock,
		},
	}
}

// LoadConfig reads and validates the configuration file at the path. The
// format follows the file extension: ".json" is JSON, ".yaml"/".yml" is
// YAML, anything else (including the conventional ".conf") is TOML.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	m := map[string]interface{}{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	default:
		err = toml.Unmarshal(b, &m)
	}

	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := DefaultConfig()

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cfg for consistency and compiles the blacklist.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}

	if c.Server.Threads < 1 {
		return fmt.Errorf(
			"config: thread count must be positive, got %d",
			c.Server.Threads,
		)
	}

	if c.TLS != nil && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("config: tls requires cert_file and key_file")
	}

	for i := range c.Routes {
		if err := c.Routes[i].validate(); err != nil {
			return err
		}
	}

	for i := range c.Hosts {
		if c.Hosts[i].Matches == "" {
			return fmt.Errorf("config: host %d has no matches pattern", i)
		}

		for j := range c.Hosts[i].Routes {
			if err := c.Hosts[i].Routes[j].validate(); err != nil {
				return err
			}
		}
	}

	switch c.Blacklist.Mode {
	case BlacklistBlock, BlacklistAllow:
	case "":
		c.Blacklist.Mode = BlacklistBlock
	default:
		return fmt.Errorf(
			"config: invalid blacklist mode %q",
			c.Blacklist.Mode,
		)
	}

	c.blacklistIPs = c.blacklistIPs[:0]
	for _, s := range c.Blacklist.List {
		ip := net.ParseIP(strings.TrimSpace(s))
		if ip == nil {
			return fmt.Errorf("config: invalid blacklist address %q", s)
		}

		c.blacklistIPs = append(c.blacklistIPs, ip)
	}

	return nil
}

// validate checks one route entry.
func (r *RouteConfig) validate() error {
	if !strings.HasPrefix(r.Matches, "/") {
		return fmt.Errorf(
			"config: route pattern %q must start with /",
			r.Matches,
		)
	}

	switch r.Type {
	case RouteFile, RouteDirectory, RouteRedirect:
		if r.Path == "" {
			return fmt.Errorf(
				"config: %s route %q requires a path",
				r.Type,
				r.Matches,
			)
		}
	case RouteProxy:
		if r.LoadBalancer == nil || len(r.LoadBalancer.Targets) == 0 {
			// A bare path is accepted as a single-target pool.
			if r.Path == "" {
				return fmt.Errorf(
					"config: proxy route %q requires targets",
					r.Matches,
				)
			}

			r.LoadBalancer = &LoadBalancerConfig{
				Targets: []string{r.Path},
			}
		}

		switch r.LoadBalancer.Mode {
		case "", "round-robin", "random":
		default:
			return fmt.Errorf(
				"config: invalid load balancer mode %q",
				r.LoadBalancer.Mode,
			)
		}
	default:
		return fmt.Errorf("config: invalid route type %q", r.Type)
	}

	return nil
}

// ConnTimeout returns the configured connection timeout.
func (c *Config) ConnTimeout() time.Duration {
	return time.Duration(c.Server.Timeout) * time.Second
}

// Addr returns the TCP address of the [server] section.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// BlacklistContains reports whether the ip is on the blacklist.
func (c *Config) BlacklistContains(ip net.IP) bool {
	for _, b := range c.blacklistIPs {
		if b.Equal(ip) {
			return true
		}
	}

	return false
}
