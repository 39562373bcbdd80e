// Package zerologadapter routes dbmap log entries to a zerolog.Logger.
package zerologadapter

import (
	"github.com/rs/zerolog"

	"github.com/zzguang83325/dbmap"
)

// Adapter 实现 dbmap.Logger 接口
type Adapter struct {
	logger zerolog.Logger
}

// New wraps logger.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Log(level dbmap.LogLevel, msg string, fields map[string]interface{}) {
	var event *zerolog.Event
	switch level {
	case dbmap.LevelDebug:
		event = a.logger.Debug()
	case dbmap.LevelInfo:
		event = a.logger.Info()
	case dbmap.LevelWarn:
		event = a.logger.Warn()
	case dbmap.LevelError:
		event = a.logger.Error()
	default:
		event = a.logger.Log()
	}

	if len(fields) > 0 {
		event.Fields(fields)
	}
	event.Msg(msg)
}
