// Package zapadapter routes dbmap log entries to a *zap.Logger.
package zapadapter

import (
	"sort"

	"go.uber.org/zap"

	"github.com/zzguang83325/dbmap"
)

// Adapter 实现 dbmap.Logger 接口
type Adapter struct {
	logger *zap.Logger
}

// New wraps logger.
func New(logger *zap.Logger) *Adapter {
	return &Adapter{logger: logger}
}

func (a *Adapter) Log(level dbmap.LogLevel, msg string, fields map[string]interface{}) {
	// 将 map[string]interface{} 转换为 zap.Field 切片，键排序保证输出稳定
	var zapFields []zap.Field
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		zapFields = make([]zap.Field, 0, len(fields))
		for _, k := range keys {
			zapFields = append(zapFields, zap.Any(k, fields[k]))
		}
	}

	switch level {
	case dbmap.LevelDebug:
		a.logger.Debug(msg, zapFields...)
	case dbmap.LevelInfo:
		a.logger.Info(msg, zapFields...)
	case dbmap.LevelWarn:
		a.logger.Warn(msg, zapFields...)
	case dbmap.LevelError:
		a.logger.Error(msg, zapFields...)
	}
}

// Sync flushes the underlying logger.
func (a *Adapter) Sync() error {
	return a.logger.Sync()
}
