package dbmap

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the database configuration
type Config struct {
	Name            string        // Name used in logs and metrics (default: driver name)
	Driver          DriverType    // Database driver type (mysql, postgres, sqlite3, oracle, sqlserver)
	DSN             string        // Data source name; "pooling=false" disables pooling and is stripped before opening
	PoolSize        int           // Pooled connections, not counting the backup connection
	MaxIdle         int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	QueryTimeout    time.Duration // Default query timeout (0 means no timeout)
	AcquireTimeout  time.Duration // Wait for a pooled connection before falling back to the backup

	// 连接监控配置
	MonitorNormalInterval time.Duration // 正常检查间隔（0表示禁用监控）
	MonitorErrorInterval  time.Duration // 故障检查间隔（默认10秒）

	// Dialect overrides the driver's preset enclosers and last-insert-id fragment.
	Dialect *DialectOverride
}

// withDefaults returns a copy with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = string(c.Driver)
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = c.PoolSize
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.MonitorNormalInterval > 0 && c.MonitorErrorInterval == 0 {
		c.MonitorErrorInterval = DefaultMonitorErrorInterval
	}
	return c
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	if !IsValidDriver(c.Driver) {
		return newError(ErrCodeConfigurationInvalid, "unsupported driver '%s'", c.Driver)
	}
	if strings.TrimSpace(c.DSN) == "" {
		return newError(ErrCodeConfigurationInvalid, "dsn cannot be empty")
	}
	if c.PoolSize < 1 {
		return newError(ErrCodeConfigurationInvalid, "pool size must be >= 1, got %d", c.PoolSize)
	}
	if c.MaxIdle < 0 {
		return newError(ErrCodeConfigurationInvalid, "max idle must be >= 0, got %d", c.MaxIdle)
	}
	if c.ConnMaxLifetime < 0 {
		return newError(ErrCodeConfigurationInvalid, "connection max lifetime must be >= 0")
	}
	if c.QueryTimeout < 0 {
		return newError(ErrCodeConfigurationInvalid, "query timeout must be >= 0")
	}
	if c.AcquireTimeout <= 0 {
		return newError(ErrCodeConfigurationInvalid, "acquire timeout must be > 0")
	}
	if c.MonitorNormalInterval < 0 || c.MonitorErrorInterval < 0 {
		return newError(ErrCodeConfigurationInvalid, "monitor intervals must be >= 0")
	}
	return nil
}

// splitPoolingOption removes every "pooling=..." option from dsn and
// reports whether one of them disabled pooling. Options are separated by
// ';', '&' or '?'. A dsn without the option is returned unchanged.
func splitPoolingOption(dsn string) (string, bool) {
	type segment struct {
		sep  byte
		text string
	}
	var segs []segment
	start, sep := 0, byte(0)
	for i := 0; i <= len(dsn); i++ {
		if i < len(dsn) && dsn[i] != ';' && dsn[i] != '&' && dsn[i] != '?' {
			continue
		}
		segs = append(segs, segment{sep: sep, text: dsn[start:i]})
		if i < len(dsn) {
			sep = dsn[i]
			start = i + 1
		}
	}

	disabled, dropped := false, false
	out := make([]segment, 0, len(segs))
	carry := byte(0xff) // separator inherited from a dropped segment
	for _, s := range segs {
		k, v, ok := strings.Cut(s.text, "=")
		if ok && strings.EqualFold(strings.TrimSpace(k), "pooling") {
			dropped = true
			if strings.EqualFold(strings.TrimSpace(v), "false") {
				disabled = true
			}
			if carry == 0xff {
				carry = s.sep
			}
			continue
		}
		if carry != 0xff {
			if carry == 0 || carry == '?' {
				s.sep = carry
			}
			carry = 0xff
		}
		out = append(out, s)
	}
	if !dropped {
		return dsn, false
	}

	var b strings.Builder
	for i, s := range out {
		if s.sep != 0 && (i > 0 || s.sep == '?') {
			b.WriteByte(s.sep)
		}
		b.WriteString(s.text)
	}
	return strings.TrimRight(b.String(), ";&?"), disabled
}

// FileConfig is the TOML layout read by LoadConfigFile.
//
//	[database]
//	driver = "sqlite3"
//	dsn = "file:app.db?cache=shared"
//	pool_size = 10
//	acquire_timeout = "2s"
//
//	[logging]
//	level = "info"
//
//	[templates]
//	dirs = ["sql"]
//
//	[mappings.Employee]
//	EmployeeId = "EmployeeId"
//	LastName = "LastName"
type FileConfig struct {
	Database  DatabaseSection              `toml:"database"`
	Dialect   *DialectOverride             `toml:"dialect"`
	Logging   LoggingSection               `toml:"logging"`
	Templates TemplatesSection             `toml:"templates"`
	Mappings  map[string]map[string]string `toml:"mappings"`

	// 按文件中出现的顺序
	entityOrder  []string
	mappingOrder map[string][]string
}

// DatabaseSection is the [database] table.
type DatabaseSection struct {
	Name                  string        `toml:"name"`
	Driver                string        `toml:"driver"`
	DSN                   string        `toml:"dsn"`
	PoolSize              int           `toml:"pool_size"`
	MaxIdle               int           `toml:"max_idle"`
	ConnMaxLifetime       time.Duration `toml:"conn_max_lifetime"`
	QueryTimeout          time.Duration `toml:"query_timeout"`
	AcquireTimeout        time.Duration `toml:"acquire_timeout"`
	MonitorNormalInterval time.Duration `toml:"monitor_normal_interval"`
	MonitorErrorInterval  time.Duration `toml:"monitor_error_interval"`
}

// LoggingSection is the [logging] table.
type LoggingSection struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
	Debug bool   `toml:"debug"`
}

// TemplatesSection is the [templates] table.
type TemplatesSection struct {
	Files     []string `toml:"files"`
	Dirs      []string `toml:"dirs"`
	CacheSize int      `toml:"cache_size"`
}

// LoadConfigFile decodes a TOML configuration file.
func LoadConfigFile(path string) (*FileConfig, error) {
	fc := &FileConfig{}
	md, err := toml.DecodeFile(path, fc)
	if err != nil {
		return nil, wrapError(err, ErrCodeConfigurationInvalid, "failed to decode config '%s'", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		LogWarn("unknown configuration keys ignored", map[string]interface{}{
			"path": path,
			"keys": undecoded,
		})
	}

	fc.mappingOrder = make(map[string][]string, len(fc.Mappings))
	for _, k := range md.Keys() {
		if len(k) < 2 || k[0] != "mappings" {
			continue
		}
		if _, ok := fc.mappingOrder[k[1]]; !ok {
			fc.entityOrder = append(fc.entityOrder, k[1])
			fc.mappingOrder[k[1]] = nil
		}
		if len(k) == 3 {
			fc.mappingOrder[k[1]] = append(fc.mappingOrder[k[1]], k[2])
		}
	}

	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return fc, nil
}

// Config converts the [database] and [dialect] tables, applying defaults.
func (fc *FileConfig) Config() Config {
	db := fc.Database
	return Config{
		Name:                  db.Name,
		Driver:                DriverType(strings.ToLower(db.Driver)),
		DSN:                   db.DSN,
		PoolSize:              db.PoolSize,
		MaxIdle:               db.MaxIdle,
		ConnMaxLifetime:       db.ConnMaxLifetime,
		QueryTimeout:          db.QueryTimeout,
		AcquireTimeout:        db.AcquireTimeout,
		MonitorNormalInterval: db.MonitorNormalInterval,
		MonitorErrorInterval:  db.MonitorErrorInterval,
		Dialect:               fc.Dialect,
	}.withDefaults()
}

// Validate checks the database section.
func (fc *FileConfig) Validate() error {
	cfg := fc.Config()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if fc.Templates.CacheSize < 0 {
		return newError(ErrCodeConfigurationInvalid, "template cache size must be >= 0")
	}
	return nil
}

// EntityMappings returns the [mappings.*] tables in file order.
func (fc *FileConfig) EntityMappings() []EntityMapping {
	out := make([]EntityMapping, 0, len(fc.entityOrder))
	for _, key := range fc.entityOrder {
		props := fc.mappingOrder[key]
		ent := EntityMapping{Key: key, Columns: make([]ColumnMapping, 0, len(props))}
		for _, prop := range props {
			ent.Columns = append(ent.Columns, ColumnMapping{Property: prop, Column: fc.Mappings[key][prop]})
		}
		out = append(out, ent)
	}
	return out
}
