package dbmap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// LogLevel defines the severity of the log
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel maps "debug", "info", "warn" and "error" (any case) to a LogLevel.
// Unknown names fall back to LevelInfo.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger receives every log entry written by dbmap. fields may be nil.
// Adapters for zerolog, zap and logrus live under adapters/.
type Logger interface {
	Log(level LogLevel, msg string, fields map[string]interface{})
}

// slogLogger is an adapter for log/slog
type slogLogger struct {
	logger *slog.Logger
}

// priorityKeys are printed first, in this order, so SQL traces line up.
var priorityKeys = []string{"db", "duration", "sql", "args", "error"}

func (s *slogLogger) Log(level LogLevel, msg string, fields map[string]interface{}) {
	l := s.logger
	if l == nil {
		l = slog.Default()
	}

	args := orderedFields(fields)
	switch level {
	case LevelDebug:
		l.Debug(msg, args...)
	case LevelInfo:
		l.Info(msg, args...)
	case LevelWarn:
		l.Warn(msg, args...)
	case LevelError:
		l.Error(msg, args...)
	}
}

// orderedFields flattens fields into slog key/value pairs with a stable order.
func orderedFields(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	seen := make(map[string]bool, len(priorityKeys))
	for _, k := range priorityKeys {
		if v, ok := fields[k]; ok {
			if k == "args" {
				v = FormatValue(v)
			}
			args = append(args, k, v)
			seen[k] = true
		}
	}

	rest := make([]string, 0, len(fields)-len(seen))
	for k := range fields {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		args = append(args, k, fields[k])
	}
	return args
}

// NewSlogLogger creates a Logger that uses log/slog
func NewSlogLogger(logger *slog.Logger) Logger {
	return &slogLogger{logger: logger}
}

// FormatValue renders a log field value; strings are quoted, slices are
// printed element by element. Exported for the adapters.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("'%s'", val)
	case []interface{}:
		strs := make([]string, 0, len(val))
		for _, item := range val {
			strs = append(strs, FormatValue(item))
		}
		return fmt.Sprintf("[%s]", strings.Join(strs, ", "))
	default:
		return fmt.Sprintf("%v", val)
	}
}

var (
	loggerMu      sync.RWMutex
	currentLogger Logger = &slogLogger{logger: nil}
	debug         atomic.Bool
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

func activeLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return currentLogger
}

// SetLogger sets the global logger. nil restores the slog default.
func SetLogger(l Logger) {
	if l == nil {
		l = &slogLogger{logger: nil}
	}
	loggerMu.Lock()
	currentLogger = l
	loggerMu.Unlock()
}

// SetDebugMode enables or disables debug mode (SQL tracing and LogDebug).
func SetDebugMode(enabled bool) {
	debug.Store(enabled)
	if enabled {
		// 如果全局 slog 还不支持 Debug 级别，则强制设置一个输出到标准输出的 Debug 级别 slog
		if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
	}
}

// IsDebugEnabled returns true if debug mode is enabled
func IsDebugEnabled() bool {
	return debug.Load()
}

// cleanSQL removes newlines, tabs and multiple spaces from SQL string
func cleanSQL(sql string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(sql, " "))
}

// LogSQL logs SQL statement, parameters and execution time in debug mode
func LogSQL(dbName string, sql string, args []interface{}, duration time.Duration) {
	if !debug.Load() {
		return
	}
	fields := map[string]interface{}{
		"db":       dbName,
		"sql":      cleanSQL(sql),
		"duration": duration.String(),
	}
	if len(args) > 0 {
		fields["args"] = args
	}
	activeLogger().Log(LevelDebug, "SQL log", fields)
}

// LogSQLError logs a failed statement regardless of debug mode.
func LogSQLError(dbName string, sql string, args []interface{}, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"db":       dbName,
		"sql":      cleanSQL(sql),
		"duration": duration.String(),
		// 自动修复错误信息的编码问题
		"error": fixStringEncoding(err.Error()),
	}
	if len(args) > 0 {
		fields["args"] = args
	}
	activeLogger().Log(LevelError, "SQL failed log", fields)
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// LogInfo logs info message
func LogInfo(msg string, fields ...map[string]interface{}) {
	activeLogger().Log(LevelInfo, msg, firstFields(fields))
}

// LogWarn logs warning message
func LogWarn(msg string, fields ...map[string]interface{}) {
	activeLogger().Log(LevelWarn, msg, firstFields(fields))
}

// LogError logs error message
func LogError(msg string, fields ...map[string]interface{}) {
	activeLogger().Log(LevelError, msg, firstFields(fields))
}

// LogDebug logs debug message
func LogDebug(msg string, fields ...map[string]interface{}) {
	if debug.Load() {
		activeLogger().Log(LevelDebug, msg, firstFields(fields))
	}
}

// Sync flushes any buffered log entries
func Sync() {
	if s, ok := activeLogger().(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
}

func slogLevelOf(level string) slog.Level {
	switch ParseLogLevel(level) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// InitLogger initializes the global slog logger with a specific level to console
func InitLogger(level string) {
	initSlog(level, os.Stdout)
}

// InitLoggerWithFile initializes the logger to both console and a file using slog
func InitLoggerWithFile(level string, filePath string) error {
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return wrapError(err, ErrCodeConfigurationInvalid, "failed to open log file '%s'", filePath)
	}
	initSlog(level, io.MultiWriter(os.Stdout, file))
	return nil
}

func initSlog(level string, w io.Writer) {
	lvl := slogLevelOf(level)
	if lvl == slog.LevelDebug {
		debug.Store(true)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})))
	// Reset currentLogger to use the new global default
	SetLogger(nil)
}

// 驱动错误信息编码修复（部分数据库在 Windows 下返回 GBK 等本地编码）

var (
	encodingOnce     sync.Once
	encodingDetector *errorTextDecoder
)

type errorTextDecoder struct {
	order     []string
	encodings map[string]encoding.Encoding
}

func newErrorTextDecoder() *errorTextDecoder {
	return &errorTextDecoder{
		// 按优先级尝试常见编码
		order: []string{"GBK", "Big5", "GB18030", "Shift_JIS", "EUC-JP", "EUC-KR", "Windows-1252"},
		encodings: map[string]encoding.Encoding{
			"GBK":          simplifiedchinese.GBK,
			"GB18030":      simplifiedchinese.GB18030,
			"Big5":         traditionalchinese.Big5,
			"Shift_JIS":    japanese.ShiftJIS,
			"EUC-JP":       japanese.EUCJP,
			"EUC-KR":       korean.EUCKR,
			"Windows-1252": charmap.Windows1252,
		},
	}
}

func (d *errorTextDecoder) decode(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	data := []byte(text)
	for _, name := range d.order {
		decoded, err := d.encodings[name].NewDecoder().Bytes(data)
		if err != nil || !utf8.Valid(decoded) {
			continue
		}
		if plausible(string(decoded), name) {
			return string(decoded)
		}
	}
	return text
}

// plausible rejects decodings dominated by replacement runes or, for the
// CJK encodings, decodings without a single ideograph.
func plausible(text, enc string) bool {
	total, invalid, cjk := 0, 0, 0
	for _, r := range text {
		total++
		switch {
		case r == utf8.RuneError:
			invalid++
		case r >= 0x4E00 && r <= 0x9FFF:
			cjk++
		}
	}
	if total == 0 || float64(invalid)/float64(total) > 0.1 {
		return false
	}
	switch enc {
	case "GBK", "GB18030", "Big5":
		return cjk > 0
	default:
		return true
	}
}

// fixStringEncoding repairs driver error text that is not valid UTF-8.
func fixStringEncoding(text string) string {
	encodingOnce.Do(func() { encodingDetector = newErrorTextDecoder() })
	return encodingDetector.decode(text)
}
