package dbmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ConnState is the lifecycle state of a connection handle.
type ConnState int32

const (
	ConnUnopened ConnState = iota
	ConnOpen
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnUnopened:
		return "unopened"
	case ConnOpen:
		return "open"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn pins one native connection. IsBackup is fixed at creation; the
// backup handle is shared by every caller that falls back to it and is
// never closed by Close.
type Conn struct {
	pool     *ConnectionPool
	isBackup bool

	mu    sync.Mutex // guards raw across reopen
	raw   *sql.Conn
	state atomic.Int32
}

// IsBackup reports whether this is the pool's backup connection.
func (c *Conn) IsBackup() bool { return c.isBackup }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

func (c *Conn) native() (*sql.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ConnState(c.state.Load()) != ConnOpen || c.raw == nil {
		return nil, newError(ErrCodeConnectionClosed, "connection is %s", c.State())
	}
	return c.raw, nil
}

// ensureOpen opens an unopened or closed pooled handle with a fresh
// native connection. The backup handle is open for the pool's lifetime.
func (c *Conn) ensureOpen(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ConnState(c.state.Load()) == ConnOpen && c.raw != nil {
		return nil
	}
	if c.isBackup {
		return newError(ErrCodeConnectionClosed, "backup connection was released with its pool")
	}
	raw, err := c.pool.openNative(ctx)
	if err != nil {
		return wrapError(err, ErrCodeConnectionCreationFailed, "failed to reopen connection on '%s'", c.pool.name)
	}
	c.raw = raw
	c.state.Store(int32(ConnOpen))
	return nil
}

// Close returns a pooled handle to the native pool. It is a no-op for the
// backup connection and for handles that are already closed.
func (c *Conn) Close() error {
	if c == nil || c.isBackup {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ConnState(c.state.Load()) != ConnOpen {
		return nil
	}
	c.state.Store(int32(ConnClosed))
	raw := c.raw
	c.raw = nil
	if err := raw.Close(); err != nil && err != sql.ErrConnDone {
		return wrapError(err, ErrCodeExecutionFailed, "failed to close connection")
	}
	return nil
}

// release closes the backup's native connection when the pool shuts down.
func (c *Conn) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ConnState(c.state.Load()) != ConnOpen {
		return nil
	}
	c.state.Store(int32(ConnClosed))
	raw := c.raw
	c.raw = nil
	return raw.Close()
}

// ConnectionPool hands out pooled connections and owns the single backup
// connection used when the native pool is exhausted or pooling is disabled.
type ConnectionPool struct {
	name            string
	cfg             Config
	db              *sql.DB
	poolingDisabled bool

	// initMu guards backup creation only; backupMu serializes every
	// execution on the backup connection.
	initMu   sync.Mutex
	backup   atomic.Pointer[Conn]
	backupMu sync.Mutex
	// backupTx is the open transaction holding backupMu, if any
	backupTx atomic.Pointer[Tx]

	fallbacks       atomic.Int64
	acquireFailures atomic.Int64
	closed          atomic.Bool

	monitor *connectionMonitor
}

// NewConnectionPool opens the native pool described by cfg. No connection
// is made until the first Acquire.
func NewConnectionPool(cfg Config) (*ConnectionPool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dsn, disabled := splitPoolingOption(cfg.DSN)
	db, err := sql.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, wrapError(err, ErrCodeConnectionCreationFailed, "failed to open '%s' driver", cfg.Driver)
	}
	return newConnectionPool(db, cfg, disabled), nil
}

// NewConnectionPoolWithConnector builds a pool over a driver.Connector
// (custom drivers, instrumented connectors, tests). Pooling is disabled
// when cfg.DSN carries "pooling=false"; the DSN is not otherwise used.
func NewConnectionPoolWithConnector(connector driver.Connector, cfg Config) (*ConnectionPool, error) {
	if cfg.Driver == "" {
		cfg.Driver = SQLite3
	}
	cfg = cfg.withDefaults()
	if cfg.DSN == "" {
		cfg.DSN = "connector"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	_, disabled := splitPoolingOption(cfg.DSN)
	return newConnectionPool(sql.OpenDB(connector), cfg, disabled), nil
}

func newConnectionPool(db *sql.DB, cfg Config, poolingDisabled bool) *ConnectionPool {
	// 备用连接单独占用一个名额：N 个池化连接 + 1 个备用连接
	maxOpen := cfg.PoolSize + 1
	if poolingDisabled {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	maxIdle := cfg.MaxIdle
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	p := &ConnectionPool{
		name:            cfg.Name,
		cfg:             cfg,
		db:              db,
		poolingDisabled: poolingDisabled,
	}

	if cfg.MonitorNormalInterval > 0 {
		p.monitor = newConnectionMonitor(db, cfg.Name, cfg.MonitorNormalInterval, cfg.MonitorErrorInterval)
		p.monitor.Start()
	}

	LogDebug("connection pool created", map[string]interface{}{
		"db":               cfg.Name,
		"driver":           string(cfg.Driver),
		"pool_size":        cfg.PoolSize,
		"pooling_disabled": poolingDisabled,
	})
	return p
}

// Name returns the configured pool name.
func (p *ConnectionPool) Name() string { return p.name }

// PoolingDisabled reports whether the DSN turned pooling off.
func (p *ConnectionPool) PoolingDisabled() bool { return p.poolingDisabled }

// DB exposes the native pool.
func (p *ConnectionPool) DB() *sql.DB { return p.db }

// Backup returns the backup connection, or nil before the first successful
// acquisition.
func (p *ConnectionPool) Backup() *Conn { return p.backup.Load() }

// Acquire returns a usable connection handle. The first native connection
// ever opened becomes the backup; later requests get pooled handles, and
// fall back to the backup when the native pool cannot serve them within
// AcquireTimeout. ConnectionCreationFailed is returned only when no backup
// exists yet.
func (p *ConnectionPool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, newError(ErrCodeConnectionClosed, "connection pool '%s' is closed", p.name)
	}
	if p.poolingDisabled {
		if b := p.backup.Load(); b != nil {
			return b, nil
		}
		return p.createBackup(ctx)
	}
	return p.acquire(ctx, true)
}

func (p *ConnectionPool) acquire(ctx context.Context, mayRecurse bool) (*Conn, error) {
	raw, err := p.openNative(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(ctx.Err(), ErrCodeConnectionCreationFailed, "acquire on '%s' cancelled", p.name)
		}
		if b := p.backup.Load(); b != nil {
			p.fallbacks.Add(1)
			LogDebug("connection pool exhausted, using backup connection", map[string]interface{}{
				"db":    p.name,
				"error": err.Error(),
			})
			return b, nil
		}
		p.acquireFailures.Add(1)
		return nil, wrapError(err, ErrCodeConnectionCreationFailed, "no connection obtainable from '%s'", p.name)
	}

	if p.backup.Load() == nil {
		p.initMu.Lock()
		if p.backup.Load() == nil {
			b := newOpenConn(p, raw, true)
			p.backup.Store(b)
			p.initMu.Unlock()
			LogInfo("backup connection created", map[string]interface{}{"db": p.name})
			if !mayRecurse {
				return b, nil
			}
			return p.acquire(ctx, false)
		}
		p.initMu.Unlock()
	}
	return newOpenConn(p, raw, false), nil
}

// createBackup is the pooling-disabled path: the only connection is the
// backup, created once under initMu.
func (p *ConnectionPool) createBackup(ctx context.Context) (*Conn, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()
	if b := p.backup.Load(); b != nil {
		return b, nil
	}
	raw, err := p.openNative(ctx)
	if err != nil {
		p.acquireFailures.Add(1)
		return nil, wrapError(err, ErrCodeConnectionCreationFailed, "no connection obtainable from '%s'", p.name)
	}
	b := newOpenConn(p, raw, true)
	p.backup.Store(b)
	LogInfo("backup connection created", map[string]interface{}{"db": p.name, "pooling_disabled": true})
	return b, nil
}

func newOpenConn(p *ConnectionPool, raw *sql.Conn, isBackup bool) *Conn {
	c := &Conn{pool: p, raw: raw, isBackup: isBackup}
	c.state.Store(int32(ConnOpen))
	return c
}

// openNative pins a native connection, giving up after AcquireTimeout.
func (p *ConnectionPool) openNative(ctx context.Context) (*sql.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()
	return p.db.Conn(actx)
}

// lockFor takes the backup execution lock when c is the backup and returns
// the matching unlock.
func (p *ConnectionPool) lockFor(c *Conn) func() {
	if !c.isBackup {
		return func() {}
	}
	p.backupMu.Lock()
	return p.backupMu.Unlock
}

// checkBackupFree fails when c is the backup and an open transaction owns
// its lock. backupMu is not reentrant, so waiting from inside that
// transaction would never return.
func (p *ConnectionPool) checkBackupFree(c *Conn) error {
	if c.isBackup && p.backupTx.Load() != nil {
		return newError(ErrCodeConnectionClosed, "backup connection of '%s' is held by an open transaction", p.name)
	}
	return nil
}

// Ping checks the native pool.
func (p *ConnectionPool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return wrapError(err, ErrCodeConnectionCreationFailed, "ping '%s' failed", p.name)
	}
	return nil
}

// Close stops the monitor, releases the backup connection and closes the
// native pool. Pooled handles still held by callers become unusable.
func (p *ConnectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.monitor.Stop()

	if t := p.backupTx.Load(); t != nil {
		LogWarn("rolling back open transaction on backup connection", map[string]interface{}{"db": p.name})
		t.Rollback()
	}

	var firstErr error
	if b := p.backup.Load(); b != nil {
		// 等待正在使用备用连接的语句结束
		p.backupMu.Lock()
		firstErr = b.release()
		p.backupMu.Unlock()
	}
	if err := p.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return wrapError(firstErr, ErrCodeExecutionFailed, "failed to close pool '%s'", p.name)
	}
	return nil
}

// PoolStats represents connection pool statistics
type PoolStats struct {
	DBName          string `json:"db_name"`
	Driver          string `json:"driver"`
	PoolSize        int    `json:"pool_size"`
	PoolingDisabled bool   `json:"pooling_disabled"`
	BackupCreated   bool   `json:"backup_created"`
	// Maximum number of open native connections, backup included
	MaxOpenConnections int `json:"max_open_connections"`
	// Current number of open connections (in use + idle)
	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
	// Total number of connections waited for
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
	// Total number of connections closed due to MaxIdleConns / MaxLifetime
	MaxIdleClosed     int64 `json:"max_idle_closed"`
	MaxLifetimeClosed int64 `json:"max_lifetime_closed"`
	// Acquisitions served by the backup because the native pool was exhausted
	BackupFallbacks int64 `json:"backup_fallbacks"`
	// Acquisitions that failed with no backup to fall back to
	AcquireFailures int64 `json:"acquire_failures"`
}

// Stats returns a snapshot of the pool statistics.
func (p *ConnectionPool) Stats() *PoolStats {
	s := p.db.Stats()
	return &PoolStats{
		DBName:             p.name,
		Driver:             string(p.cfg.Driver),
		PoolSize:           p.cfg.PoolSize,
		PoolingDisabled:    p.poolingDisabled,
		BackupCreated:      p.backup.Load() != nil,
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
		MaxIdleClosed:      s.MaxIdleClosed,
		MaxLifetimeClosed:  s.MaxLifetimeClosed,
		BackupFallbacks:    p.fallbacks.Load(),
		AcquireFailures:    p.acquireFailures.Load(),
	}
}

// String returns a human-readable string representation of the pool stats
func (ps *PoolStats) String() string {
	if ps == nil {
		return "PoolStats: nil"
	}
	return fmt.Sprintf(
		"PoolStats[%s/%s]: Open=%d (InUse=%d, Idle=%d), MaxOpen=%d, Backup=%t, Fallbacks=%d, Failures=%d",
		ps.DBName, ps.Driver,
		ps.OpenConnections, ps.InUse, ps.Idle,
		ps.MaxOpenConnections, ps.BackupCreated, ps.BackupFallbacks, ps.AcquireFailures,
	)
}
