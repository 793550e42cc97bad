package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultListenAddr is used when server.listen_addr is not set.
const defaultListenAddr = ":8080"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values.
func Validate(cfg *Config) error {
	if !cfg.Server.LogLevel.IsValid() {
		return fmt.Errorf("config: server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel)
	}

	seen := make(map[string]string)
	for _, g := range cfg.World.Groups {
		if g.ID == "" || g.Name == "" {
			return fmt.Errorf("config: world.groups entries need both id and name (got id=%q name=%q)", g.ID, g.Name)
		}
		if prev, dup := seen["g:"+g.ID]; dup {
			return fmt.Errorf("config: duplicate group id %q (names %q and %q)", g.ID, prev, g.Name)
		}
		seen["g:"+g.ID] = g.Name
	}
	for _, p := range cfg.World.Plots {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("config: world.plots entries need both id and name (got id=%q name=%q)", p.ID, p.Name)
		}
		if prev, dup := seen["p:"+p.ID]; dup {
			return fmt.Errorf("config: duplicate plot id %q (names %q and %q)", p.ID, prev, p.Name)
		}
		seen["p:"+p.ID] = p.Name
	}
	return nil
}
