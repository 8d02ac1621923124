// Package config loads settings from defaults, an optional YAML file,
// DECKLOG_ environment variables and command line flags, in that order of
// precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "DECKLOG_"

// DBConfig locates the database file.
type DBConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" validate:"required"`
}

// LogConfig configures the process logger. File output is enabled when Dir
// is set.
type LogConfig struct {
	Level      string `koanf:"level" validate:"oneof=debug info warn error"`
	Dir        string `koanf:"dir"`
	MaxSizeMB  int    `koanf:"maxsizemb" validate:"gt=0"`
	MaxBackups int    `koanf:"maxbackups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"maxagedays" validate:"gte=0"`
}

// LimitsConfig bounds the retained history.
type LimitsConfig struct {
	Games        int `koanf:"games" validate:"gt=0"`
	Errors       int `koanf:"errors" validate:"gt=0"`
	ErrorMessage int `koanf:"errormessage" validate:"gt=0"`
}

// PrefsConfig locates the preferences file.
type PrefsConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// ReposConfig says where git deck sources are cloned.
type ReposConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// Config holds every setting.
type Config struct {
	DB      DBConfig     `koanf:"db"`
	HTTP    HTTPConfig   `koanf:"http"`
	Log     LogConfig    `koanf:"log"`
	Limits  LimitsConfig `koanf:"limits"`
	Prefs   PrefsConfig  `koanf:"prefs"`
	Repos   ReposConfig  `koanf:"repos"`
	Sources []string     `koanf:"sources"`
}

// Defaults returns the built in settings.
func Defaults() *Config {
	return &Config{
		DB:   DBConfig{Path: "decklog.db"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Limits: LimitsConfig{Games: 200, Errors: 200, ErrorMessage: 400},
		Prefs:  PrefsConfig{Path: "prefs.json"},
		Repos:  ReposConfig{Dir: "repos"},
	}
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String("config", "", "Path to a YAML config file")
	fs.String("db.path", d.DB.Path, "Path to the SQLite database file")
	fs.String("http.addr", d.HTTP.Addr, "Address the HTTP API listens on")
	fs.String("log.level", d.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log.dir", d.Log.Dir, "Directory for rotated log files (empty logs to stderr only)")
	fs.Int("limits.games", d.Limits.Games, "Number of recent games kept")
	fs.Int("limits.errors", d.Limits.Errors, "Number of diagnostic entries kept")
	fs.String("prefs.path", d.Prefs.Path, "Path to the preferences file")
	fs.String("repos.dir", d.Repos.Dir, "Directory git deck sources are cloned into")
	fs.StringSlice("sources", nil, "Directories or git URLs holding .csv decks")
}

// Load builds the configuration from an already parsed flag set.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path, _ := fs.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps DECKLOG_LOG_LEVEL to log.level. DECKLOG_SOURCES is a comma
// separated list.
func envKey(key, value string) (string, any) {
	key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_", ".")
	if key == "sources" {
		return key, strings.Split(value, ",")
	}
	return key, value
}
