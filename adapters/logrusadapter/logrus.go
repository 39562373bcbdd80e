// Package logrusadapter routes dbmap log entries to a *logrus.Logger.
package logrusadapter

import (
	"github.com/sirupsen/logrus"

	"github.com/zzguang83325/dbmap"
)

// Adapter 实现 dbmap.Logger 接口
type Adapter struct {
	logger *logrus.Logger
}

// New wraps logger.
func New(logger *logrus.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Log(level dbmap.LogLevel, msg string, fields map[string]interface{}) {
	entry := a.logger.WithFields(logrus.Fields(fields))
	switch level {
	case dbmap.LevelDebug:
		entry.Debug(msg)
	case dbmap.LevelInfo:
		entry.Info(msg)
	case dbmap.LevelWarn:
		entry.Warn(msg)
	case dbmap.LevelError:
		entry.Error(msg)
	}
}
