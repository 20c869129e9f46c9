// Package config loads panedeck's TOML configuration and supports live
// reload of runtime tunables.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file name under the panedeck directory.
const FileName = "config.toml"

// Config is the user-facing configuration.
type Config struct {
	// Capture selects and tunes the output capture strategy.
	Capture CaptureSettings `toml:"capture"`

	// Exec tunes execution timeouts.
	Exec ExecSettings `toml:"exec"`

	// Logs configures the rotating debug log.
	Logs LogSettings `toml:"logs"`

	// History configures the SQLite command history.
	History HistorySettings `toml:"history"`

	// Host configures how panes are reached.
	Host HostSettings `toml:"host"`
}

// CaptureSettings selects the watch strategy.
type CaptureSettings struct {
	// Strategy is "poll" (buffer snapshot re-scan) or "stream" (raw output
	// subscription).
	Strategy string `toml:"strategy"`

	// PollIntervalMs is the buffer re-scan cadence for the poll strategy.
	PollIntervalMs int `toml:"poll_interval_ms"`

	// HealthIntervalMs is the disconnect check cadence for the stream
	// strategy.
	HealthIntervalMs int `toml:"health_interval_ms"`
}

// ExecSettings tunes execution timeouts (milliseconds).
type ExecSettings struct {
	DefaultTimeoutMs int `toml:"default_timeout_ms"`
	MaxTimeoutMs     int `toml:"max_timeout_ms"`
}

// LogSettings configures logging.
type LogSettings struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// HistorySettings configures the command history database.
type HistorySettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// HostSettings configures pane access.
type HostSettings struct {
	// ControlSocket is the websocket URL of a terminal app's control
	// socket. Empty means local PTY panes.
	ControlSocket string `toml:"control_socket"`

	// Shell overrides the shell command for local panes.
	Shell string `toml:"shell"`

	// ScrollbackLines bounds local pane scrollback.
	ScrollbackLines int `toml:"scrollback_lines"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Capture: CaptureSettings{
			Strategy:         "poll",
			PollIntervalMs:   200,
			HealthIntervalMs: 500,
		},
		Exec: ExecSettings{
			DefaultTimeoutMs: 30000,
			MaxTimeoutMs:     300000,
		},
		Logs: LogSettings{
			Level:  "info",
			Format: "json",
		},
		History: HistorySettings{
			Enabled: true,
		},
	}
}

// Load reads the config file at path, layered over defaults. A missing file
// is not an error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Capture.Strategy {
	case "poll", "stream":
	default:
		return fmt.Errorf("config: unknown capture strategy %q (want poll or stream)", c.Capture.Strategy)
	}
	if c.Exec.MaxTimeoutMs > 0 && c.Exec.DefaultTimeoutMs > c.Exec.MaxTimeoutMs {
		return fmt.Errorf("config: default_timeout_ms %d exceeds max_timeout_ms %d",
			c.Exec.DefaultTimeoutMs, c.Exec.MaxTimeoutMs)
	}
	return nil
}
