// Package config provides the configuration schema and loader for the
// Scrivener scene logging server.
package config

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Scrivener.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server Server `yaml:"server"`
	Store  Store  `yaml:"store"`
	Story  Story  `yaml:"story"`
	World  World  `yaml:"world"`
}

// Server holds network and logging settings.
type Server struct {
	// ListenAddr is the TCP address the HTTP server listens on
	// (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// Store selects and configures the persistence backend.
type Store struct {
	// PostgresDSN is the connection string for the PostgreSQL store. When
	// empty the server runs on the in-memory store and scene data does not
	// survive a restart.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Story holds the story context applied to new scenes.
type Story struct {
	// CurrentChapter is the chapter tag applied to scenes started without
	// an explicit chapter.
	CurrentChapter string `yaml:"current_chapter"`
}

// World declares the groups and plots scene annotations may reference. In a
// full deployment these come from the world model; the static directory
// stands in for it at the engine boundary.
type World struct {
	Groups []WorldRef `yaml:"groups"`
	Plots  []WorldRef `yaml:"plots"`
}

// WorldRef is one named group or plot.
type WorldRef struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}
