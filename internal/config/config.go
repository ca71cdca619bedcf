// Package config loads the proxy's YAML configuration file: listen
// addresses, resource limits, and the hostname routing table.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Route maps a hostname pattern to an upstream "host:port" address. See
// upstream.Table for matching semantics.
type Route struct {
	Pattern  string `yaml:"pattern"`
	Upstream string `yaml:"upstream"`
}

// Config is the proxy's full runtime configuration, loaded from disk.
type Config struct {
	// TLSListen is the address the TLS/SNI listener binds, e.g. ":443".
	TLSListen string `yaml:"tls_listen"`
	// HTTPListen is the address the plaintext HTTP/Host listener binds,
	// e.g. ":80". Empty disables the HTTP listener.
	HTTPListen string `yaml:"http_listen"`

	// FDLimit caps how many file descriptors the reactor may have open
	// at once, the Go-native replacement for the original's FD_SETSIZE
	// ceiling. Zero means fdlimit.Default.
	FDLimit int `yaml:"fd_limit"`

	// IdleTimeout evicts a connection that has seen no successful read
	// or write for this long. Zero disables idle eviction.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// BufferSize is the per-direction FIFO capacity for each connection.
	// Zero means conn.DefaultBufferSize.
	BufferSize int `yaml:"buffer_size"`

	// DialTimeout bounds how long connecting to an upstream may take.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// Routes is the ordered, first-match-wins hostname routing table.
	Routes []Route `yaml:"routes"`
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if len(cfg.Routes) == 0 {
		return nil, fmt.Errorf("config %s: no routes defined", path)
	}
	return &cfg, nil
}
