package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. ICALPROXY_EXCHANGE_SERVER.
const EnvPrefix = "ICALPROXY"

// Token store backends.
const (
	TokenStoreNone  = "none"
	TokenStoreFile  = "file"
	TokenStoreRedis = "redis"
)

// ExchangeConfig identifies the Exchange account being proxied.
type ExchangeConfig struct {
	Server        string
	User          string
	Password      string
	PasswordFile  string
	Root          string
	Service       string
	ValidateLogin bool
}

// CalendarConfig controls how events are rendered.
type CalendarConfig struct {
	Alarms    bool
	AlarmLead time.Duration

	// ReferenceZone and ReferenceOffset define the fixed zone used for
	// zone-less dates and "now".
	ReferenceZone   string
	ReferenceOffset time.Duration
}

// Zone returns the fixed-offset reference location.
func (c CalendarConfig) Zone() *time.Location {
	name := c.ReferenceZone
	if name == "" {
		name = "UTC"
	}
	return time.FixedZone(name, int(c.ReferenceOffset/time.Second))
}

// LocalServerConfig is where `serve` listens.
type LocalServerConfig struct {
	Address string
	Port    int
}

// Addr is the listen address in host:port form.
func (c LocalServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// TokenStoreConfig selects where session cookies are persisted.
type TokenStoreConfig struct {
	Type string
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// Config holds the configuration for the proxy.
type Config struct {
	Exchange        ExchangeConfig
	SessionLifetime time.Duration
	HTTPTimeout     time.Duration
	Calendar        CalendarConfig
	LocalServer     LocalServerConfig
	TokenStore      TokenStoreConfig
	Redis           RedisConfig
	Log             LogConfig
	MetricsEnabled  bool
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"server":           "exchange.server",
	"user":             "exchange.user",
	"password-file":    "exchange.password_file",
	"validate-login":   "exchange.validate_login",
	"alarms":           "calendar.alarms",
	"alarm-lead":       "calendar.alarm_lead",
	"timeout":          "http.timeout",
	"address":          "local_server.address",
	"port":             "local_server.port",
	"token-store":      "token_store.type",
	"token-path":       "token_store.path",
	"redis-addr":       "redis.addr",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"reference-zone":   "calendar.reference_zone",
	"reference-offset": "calendar.reference_offset",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.server", "")
	v.SetDefault("exchange.user", "")
	v.SetDefault("exchange.password", "")
	v.SetDefault("exchange.password_file", "~/.exchange.pass")
	v.SetDefault("exchange.root", "exchange")
	v.SetDefault("exchange.service", "calendar")
	v.SetDefault("exchange.validate_login", true)

	v.SetDefault("session.lifetime", 15*time.Minute)
	v.SetDefault("http.timeout", 30*time.Second)

	v.SetDefault("calendar.alarms", true)
	v.SetDefault("calendar.alarm_lead", 15*time.Minute)
	v.SetDefault("calendar.reference_zone", "UTC")
	v.SetDefault("calendar.reference_offset", time.Duration(0))

	v.SetDefault("local_server.address", "127.0.0.1")
	v.SetDefault("local_server.port", 8000)

	v.SetDefault("token_store.type", TokenStoreNone)
	v.SetDefault("token_store.path", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.enabled", true)
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags (only those explicitly set)
// 2. Environment variables (ICALPROXY_ prefix, "." replaced by "_")
// 3. Config file (JSON, YAML, or the INI layout of exchange.cfg)
// 4. Defaults
// A .env file in the working directory is loaded into the environment
// first. Returns an error if any required value is missing.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		switch strings.ToLower(filepath.Ext(configFile)) {
		case ".cfg", ".conf":
			v.SetConfigType("ini")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag --%s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{
		Exchange: ExchangeConfig{
			Server:        strings.TrimSpace(v.GetString("exchange.server")),
			User:          strings.TrimSpace(v.GetString("exchange.user")),
			Password:      v.GetString("exchange.password"),
			PasswordFile:  v.GetString("exchange.password_file"),
			Root:          v.GetString("exchange.root"),
			Service:       v.GetString("exchange.service"),
			ValidateLogin: v.GetBool("exchange.validate_login"),
		},
		SessionLifetime: v.GetDuration("session.lifetime"),
		HTTPTimeout:     v.GetDuration("http.timeout"),
		Calendar: CalendarConfig{
			Alarms:          v.GetBool("calendar.alarms"),
			AlarmLead:       v.GetDuration("calendar.alarm_lead"),
			ReferenceZone:   v.GetString("calendar.reference_zone"),
			ReferenceOffset: v.GetDuration("calendar.reference_offset"),
		},
		LocalServer: LocalServerConfig{
			Address: v.GetString("local_server.address"),
			Port:    v.GetInt("local_server.port"),
		},
		TokenStore: TokenStoreConfig{
			Type: strings.ToLower(v.GetString("token_store.type")),
			Path: v.GetString("token_store.path"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		MetricsEnabled: v.GetBool("metrics.enabled"),
	}

	if cfg.Exchange.Password == "" && cfg.Exchange.PasswordFile != "" {
		password, err := readPasswordFile(cfg.Exchange.PasswordFile)
		if err != nil {
			return nil, err
		}
		cfg.Exchange.Password = password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.Exchange.Server == "" {
		return errors.New("exchange server is required (set exchange.server in config file, ICALPROXY_EXCHANGE_SERVER env var, or --server flag)")
	}
	if c.Exchange.User == "" {
		return errors.New("exchange user is required (set exchange.user in config file, ICALPROXY_EXCHANGE_USER env var, or --user flag)")
	}
	if c.Exchange.Password == "" {
		return errors.New("exchange password is required (set exchange.password or provide a password file)")
	}
	if c.SessionLifetime <= 0 {
		return fmt.Errorf("session lifetime must be positive, got %s", c.SessionLifetime)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.Calendar.AlarmLead < 0 {
		return fmt.Errorf("alarm lead must not be negative, got %s", c.Calendar.AlarmLead)
	}
	if c.LocalServer.Port < 0 || c.LocalServer.Port > 65535 {
		return fmt.Errorf("invalid local server port %d", c.LocalServer.Port)
	}

	switch c.TokenStore.Type {
	case "", TokenStoreNone:
	case TokenStoreFile:
		if c.TokenStore.Path == "" {
			return errors.New("token store path is required when token_store.type is file")
		}
	case TokenStoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis address is required when token_store.type is redis")
		}
	default:
		return fmt.Errorf("unknown token store type %q (expected none, file or redis)", c.TokenStore.Type)
	}

	return nil
}

func readPasswordFile(path string) (string, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to read password file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
