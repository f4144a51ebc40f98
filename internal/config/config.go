package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/pomotimer/pomoledger/internal/timeutil"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 3000

	defaultWriteTimeout = 30 * time.Second
)

// Config holds all application configuration.
type Config struct {
	Host       string `json:"host" env:"POMOLEDGER_HOST"`
	Port       int    `json:"port" env:"POMOLEDGER_PORT"`
	NoBrowser  bool   `json:"no_browser" env:"POMOLEDGER_NO_BROWSER"`
	BrowserCmd string `json:"browser,omitempty" env:"POMOLEDGER_BROWSER"`
	DataDir    string `json:"data_dir" env:"POMOLEDGER_DATA_DIR"`
	DBPath     string `json:"-"`
	// Timezone is the IANA zone used to bucket sessions into
	// calendar days. "Local" means the host's zone.
	Timezone string `json:"timezone" env:"POMOLEDGER_TIMEZONE"`
	// InboxDir is a spool directory of *.jsonl device events.
	// Empty disables spool ingest.
	InboxDir     string        `json:"inbox_dir,omitempty" env:"POMOLEDGER_INBOX_DIR"`
	WriteTimeout time.Duration `json:"-" env:"POMOLEDGER_WRITE_TIMEOUT"`
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".pomoledger")
	return Config{
		Host:         DefaultHost,
		Port:         DefaultPort,
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "sessions.db"),
		Timezone:     "Local",
		WriteTimeout: defaultWriteTimeout,
	}, nil
}

// Load builds a Config by layering: defaults < config file < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers,
// and a nil FlagSet skips the flag layer.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}
	// The data dir decides which config file to read, so env and
	// an explicit --data-dir are applied before the file.
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	if fs != nil {
		if f := fs.Lookup("data-dir"); f != nil && f.Changed {
			cfg.DataDir = f.Value.String()
		}
	}

	if err := cfg.loadFile(); err != nil {
		return cfg, fmt.Errorf("loading config file: %w", err)
	}
	if err := cfg.loadEnv(); err != nil {
		return cfg, err
	}
	if err := applyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	cfg.DBPath = filepath.Join(cfg.DataDir, "sessions.db")
	return cfg, nil
}

// LoadDotEnv loads KEY=value pairs from path into the process
// environment. Variables already set are left alone, and a
// missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

func (c *Config) configPath() string {
	return filepath.Join(c.DataDir, "config.json")
}

func (c *Config) loadFile() error {
	data, err := os.ReadFile(c.configPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var file struct {
		Host         *string `json:"host"`
		Port         *int    `json:"port"`
		NoBrowser    *bool   `json:"no_browser"`
		BrowserCmd   *string `json:"browser"`
		Timezone     *string `json:"timezone"`
		InboxDir     *string `json:"inbox_dir"`
		WriteTimeout *string `json:"write_timeout"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if file.Host != nil {
		c.Host = *file.Host
	}
	if file.Port != nil {
		c.Port = *file.Port
	}
	if file.NoBrowser != nil {
		c.NoBrowser = *file.NoBrowser
	}
	if file.BrowserCmd != nil {
		c.BrowserCmd = *file.BrowserCmd
	}
	if file.Timezone != nil {
		c.Timezone = *file.Timezone
	}
	if file.InboxDir != nil {
		c.InboxDir = *file.InboxDir
	}
	if file.WriteTimeout != nil {
		d, err := time.ParseDuration(*file.WriteTimeout)
		if err != nil {
			return fmt.Errorf("parsing write_timeout: %w", err)
		}
		c.WriteTimeout = d
	}
	return nil
}

// loadEnv overrides fields whose POMOLEDGER_* variable is set.
func (c *Config) loadEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// RegisterGlobalFlags registers flags shared by every command.
func RegisterGlobalFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Directory holding the database and config.json")
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *pflag.FlagSet) {
	fs.String("host", DefaultHost, "Host to bind to")
	fs.Int("port", DefaultPort, "Port to listen on")
	fs.String("timezone", "Local", "IANA time zone for calendar days")
	fs.String("inbox", "", "Spool directory of *.jsonl device events")
	fs.Bool(
		"no-browser", false,
		"Don't open browser on startup",
	)
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	if fs == nil {
		return nil
	}
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "host":
			cfg.Host, err = fs.GetString("host")
		case "port":
			cfg.Port, err = fs.GetInt("port")
		case "timezone":
			cfg.Timezone, err = fs.GetString("timezone")
		case "inbox":
			cfg.InboxDir, err = fs.GetString("inbox")
		case "data-dir":
			cfg.DataDir, err = fs.GetString("data-dir")
		case "no-browser":
			cfg.NoBrowser, err = fs.GetBool("no-browser")
		}
	})
	if err != nil {
		return fmt.Errorf("reading flags: %w", err)
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := timeutil.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.DataDir == "" {
		return errors.New("data dir is empty")
	}
	return nil
}

// Location returns the configured time zone.
func (c Config) Location() (*time.Location, error) {
	return timeutil.LoadLocation(c.Timezone)
}
