package zerologadapter

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzguang83325/dbmap"
)

func TestAdapterWritesLevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	a := New(zerolog.New(&buf))

	a.Log(dbmap.LevelWarn, "statement affected no rows", map[string]interface{}{
		"db":  "main",
		"key": "Employee",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "statement affected no rows", entry["message"])
	assert.Equal(t, "main", entry["db"])
	assert.Equal(t, "Employee", entry["key"])
}

func TestAdapterRespectsLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	a := New(zerolog.New(&buf).Level(zerolog.InfoLevel))

	a.Log(dbmap.LevelDebug, "hidden", nil)
	assert.Zero(t, buf.Len())

	a.Log(dbmap.LevelError, "shown", nil)
	assert.Contains(t, buf.String(), "shown")
}
