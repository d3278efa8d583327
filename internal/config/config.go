package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Game     Game     `yaml:"game"`
	Security Security `yaml:"security"`
	Log      Log      `yaml:"log"`
	Metrics  struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Game holds the cadence of the per-player engine and lobby.
type Game struct {
	Tick            string `yaml:"tick"`
	ResultsDelay    string `yaml:"results_delay"`
	StatusPoll      string `yaml:"status_poll"`
	FastPoll        string `yaml:"fast_poll"`
	RosterPoll      string `yaml:"roster_poll"`
	WaitingCheck    string `yaml:"waiting_check"`
	LeaderboardSize int    `yaml:"leaderboard_size"`
	// LeaderboardRetention bounds how long finished boards stay in memory.
	LeaderboardRetention string `yaml:"leaderboard_retention"`
}

// Security tunes the anti-cheat monitor and violation reporting. Unset
// category toggles leave the category enabled.
type Security struct {
	DisableDevTools       *bool  `yaml:"disable_devtools"`
	DisableRightClick     *bool  `yaml:"disable_right_click"`
	DisableTextSelection  *bool  `yaml:"disable_text_selection"`
	DisablePrintScreen    *bool  `yaml:"disable_print_screen"`
	DevToolsThreshold     int    `yaml:"devtools_threshold"`
	DevToolsPoll          string `yaml:"devtools_poll"`
	HighSeverityThreshold int    `yaml:"high_severity_threshold"`
}

// Log configures the zap logger.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

// IntOr returns v, or fallback when v is not positive.
func IntOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// BoolOr dereferences v, or returns fallback when it was not set.
func BoolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
