package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapperCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapAdapter(zap.New(core))

	l.WithFields(map[string]interface{}{"family": "loan"}).
		WithError(errors.New("boom")).
		Warn("submit failed", map[string]interface{}{"attempt": 2})

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		e := entries[0]
		assert.Equal(t, "submit failed", e.Message)
		assert.Equal(t, zapcore.WarnLevel, e.Level)
		ctx := e.ContextMap()
		assert.Equal(t, "loan", ctx["family"])
		assert.Equal(t, "boom", ctx["error"])
		assert.EqualValues(t, 2, ctx["attempt"])
	}
}

func TestNewHonoursLevel(t *testing.T) {
	l := New("warn", "json")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	d := New("debug", "console")
	assert.True(t, d.Core().Enabled(zapcore.DebugLevel))
}

func TestNoOpLogger(t *testing.T) {
	l := NewNoOpLogger()
	l.Info("ignored", nil)
	assert.NoError(t, l.Sync())
}
