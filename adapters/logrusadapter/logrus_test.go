package logrusadapter

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zzguang83325/dbmap"
)

func TestAdapterForwardsEntries(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	a := New(logger)

	a.Log(dbmap.LevelError, "SQL failed", map[string]interface{}{
		"db":    "main",
		"error": "no such table",
	})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "SQL failed", entry.Message)
	assert.Equal(t, "main", entry.Data["db"])
	assert.Equal(t, "no such table", entry.Data["error"])
}

func TestAdapterNilFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	a := New(logger)

	a.Log(dbmap.LevelInfo, "backup connection created", nil)

	require.Len(t, hook.AllEntries(), 1)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	assert.Empty(t, hook.LastEntry().Data)
}
