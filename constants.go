package dbmap

import "time"

// 连接池相关常量
const (
	// DefaultPoolSize 默认连接池大小（不含备用连接）
	DefaultPoolSize = 10

	// DefaultAcquireTimeout 从连接池获取连接的最长等待时间
	// 超时即视为连接池耗尽，回退到备用连接
	DefaultAcquireTimeout = 2 * time.Second

	// DefaultConnMaxLifetime 连接最大生命周期
	DefaultConnMaxLifetime = time.Hour
)

// 连接监控相关常量
const (
	DefaultMonitorNormalInterval = 60 * time.Second
	DefaultMonitorErrorInterval  = 10 * time.Second
	monitorPingTimeout           = 3 * time.Second
)

// 模板相关常量
const (
	// DefaultTemplateCacheSize 已解析模板的 LRU 缓存容量
	DefaultTemplateCacheSize = 512
)

// 元名称前缀
const (
	autoParamToken       = "#"
	namedParamPrefix     = "@"
	unprotectedLitPrefix = "%UL%"
	literalPrefix        = "%"
	qualifierSeparator   = ":"
	autoParamNamePrefix  = "@p"
)
