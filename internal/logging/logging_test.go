package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
		want   zapcore.Level
	}{
		{name: "defaults", want: zapcore.DebugLevel},
		{name: "json info", level: "info", format: "json", want: zapcore.InfoLevel},
		{name: "console warn", level: "warn", format: "console", want: zapcore.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.level, tt.format)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestNew_Invalid(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)

	_, err = New("info", "xml")
	assert.Error(t, err)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "[REDACTED]", Redact("abc"))
	assert.Equal(t, "...3456", Redact("sessionid=123456"))
}
