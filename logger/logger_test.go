package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestInit(t *testing.T) {
	saved := Log
	t.Cleanup(func() { Log = saved })

	tcases := []struct {
		name  string
		env   string
		level string
		want  zerolog.Level
	}{
		{"production with level", "production", "warn", zerolog.WarnLevel},
		{"development with level", "development", "debug", zerolog.DebugLevel},
		{"unset environment", "", "", zerolog.TraceLevel},
		{"unknown level is ignored", "production", "loud", zerolog.TraceLevel},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			Init(tc.env, tc.level)
			assert.Equal(t, tc.want, Log.GetLevel())
		})
	}
}

func TestReinitReplacesBootstrapLogger(t *testing.T) {
	saved := Log
	t.Cleanup(func() { Log = saved })

	Init("", "error")
	assert.Equal(t, zerolog.ErrorLevel, Log.GetLevel())

	Init("production", "info")
	assert.Equal(t, zerolog.InfoLevel, Log.GetLevel(), "expected the configured level to win over the bootstrap one")
}
