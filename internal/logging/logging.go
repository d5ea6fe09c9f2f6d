// Package logging builds the zap logger shared by the proxy.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger for level ("debug", "info", "warn", "error") and
// format ("console" or "json").
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if level != "" {
		if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// Redact masks all but the last four characters of a secret so it can be
// correlated in logs without being leaked.
func Redact(secret string) string {
	if len(secret) <= 4 {
		return "[REDACTED]"
	}
	return "..." + secret[len(secret)-4:]
}

// User tags a log line with the Exchange account.
func User(name string) zap.Field {
	return zap.String("user", name)
}

// Server tags a log line with the Exchange host.
func Server(host string) zap.Field {
	return zap.String("server", host)
}
