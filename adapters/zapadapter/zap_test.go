package zapadapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zzguang83325/dbmap"
)

func TestAdapterMapsLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	a := New(zap.New(core))

	a.Log(dbmap.LevelDebug, "d", nil)
	a.Log(dbmap.LevelInfo, "i", nil)
	a.Log(dbmap.LevelWarn, "w", nil)
	a.Log(dbmap.LevelError, "e", nil)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestAdapterSortsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := New(zap.New(core))

	a.Log(dbmap.LevelInfo, "SQL executed", map[string]interface{}{
		"sql":      "SELECT 1",
		"db":       "main",
		"duration": "1ms",
	})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].Context
	require.Len(t, fields, 3)
	assert.Equal(t, "db", fields[0].Key)
	assert.Equal(t, "duration", fields[1].Key)
	assert.Equal(t, "sql", fields[2].Key)
	assert.Equal(t, "main", entries[0].ContextMap()["db"])
}
