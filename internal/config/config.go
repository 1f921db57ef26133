// Package config assembles server settings from defaults, an optional TOML
// file, a .env file, environment variables and command-line flags.
//
// Precedence, lowest to highest:
//
//	defaults < TOML file < environment (.env fills unset vars only) < flags
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultPort        = 8080
	DefaultDBPath      = "data/todo.db"
	DefaultTemplateDir = "web/templates"
	DefaultStaticDir   = "web/static"
	DefaultSessionTTL  = 24 * time.Hour
	DefaultEnvFile     = ".env"
)

// Config is everything the server needs to start.
type Config struct {
	Port        int           `toml:"port"`
	DBPath      string        `toml:"db_path"`
	TemplateDir string        `toml:"template_dir"`
	StaticDir   string        `toml:"static_dir"`
	BaseURL     string        `toml:"base_url"` // used to build absolute reset links
	SessionTTL  time.Duration `toml:"session_ttl"`
	ResetSecret string        `toml:"reset_secret"`
	LogLevel    string        `toml:"log_level"`

	SMTP   SMTPConfig   `toml:"smtp"`
	GitHub GitHubConfig `toml:"github"`

	// GeneratedResetSecret is true when no secret was configured and a random
	// one was made up. Reset links then stop working across restarts.
	GeneratedResetSecret bool `toml:"-"`
}

// SMTPConfig configures outbound mail. An empty Host means "log links instead".
type SMTPConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	From     string `toml:"from"`
}

// GitHubConfig configures optional GitHub sign-in.
type GitHubConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackURL  string `toml:"callback_url"`
}

// Enabled reports whether GitHub sign-in routes should be registered.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// SecureCookies reports whether cookies should carry the Secure flag.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// SlogLevel maps LogLevel to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load builds the Config. flags may be nil; args are the command-line
// arguments without the program name.
func Load(flags *flag.FlagSet, args []string) (*Config, error) {
	if flags == nil {
		flags = flag.NewFlagSet("server", flag.ContinueOnError)
	}

	// Flags are parsed first so -config and -env-file can steer the earlier
	// layers, but they are applied last.
	var (
		configFile = flags.String("config", "", "path to a TOML config file")
		envFile    = flags.String("env-file", DefaultEnvFile, "path to a .env file")
		port       = flags.Int("port", 0, "HTTP listen port")
		dbPath     = flags.String("db", "", "SQLite database path")
	)
	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	cfg := &Config{}
	setDefaults(cfg)

	// godotenv.Load never overrides variables that are already set.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file %s: %w", *envFile, err)
	}

	path := *configFile
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "db":
			cfg.DBPath = *dbPath
		}
	})

	if err := finalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Port = DefaultPort
	cfg.DBPath = DefaultDBPath
	cfg.TemplateDir = DefaultTemplateDir
	cfg.StaticDir = DefaultStaticDir
	cfg.SessionTTL = DefaultSessionTTL
	cfg.LogLevel = "info"
	cfg.SMTP.Port = 587
}

// loadFromEnv overrides cfg from environment variables that are set.
func loadFromEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	if err := num("PORT", &cfg.Port); err != nil {
		return err
	}
	str("DB_PATH", &cfg.DBPath)
	str("TEMPLATE_DIR", &cfg.TemplateDir)
	str("STATIC_DIR", &cfg.StaticDir)
	str("BASE_URL", &cfg.BaseURL)
	str("RESET_SECRET", &cfg.ResetSecret)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v := os.Getenv("SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TTL value %q: %w", v, err)
		}
		cfg.SessionTTL = d
	}

	str("SMTP_HOST", &cfg.SMTP.Host)
	if err := num("SMTP_PORT", &cfg.SMTP.Port); err != nil {
		return err
	}
	str("SMTP_USER", &cfg.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.SMTP.Password)
	str("SMTP_FROM", &cfg.SMTP.From)

	str("GITHUB_CLIENT_ID", &cfg.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &cfg.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &cfg.GitHub.CallbackURL)
	return nil
}

// finalize validates cfg and fills derived values.
func finalize(cfg *Config) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", cfg.SessionTTL)
	}
	if cfg.DBPath == "" {
		return errors.New("database path must not be empty")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = cfg.BaseURL + "/auth/github/callback"
	}
	if cfg.SMTP.From == "" && cfg.SMTP.Host != "" {
		cfg.SMTP.From = "noreply@" + cfg.SMTP.Host
	}

	for _, dir := range []*string{&cfg.TemplateDir, &cfg.StaticDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", *dir, err)
		}
		*dir = abs
	}

	if cfg.ResetSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return fmt.Errorf("generating reset secret: %w", err)
		}
		cfg.ResetSecret = hex.EncodeToString(b)
		cfg.GeneratedResetSecret = true
	}
	return nil
}
