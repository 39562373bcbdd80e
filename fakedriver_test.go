package dbmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeConnector is an in-memory driver.Connector. Queries return result;
// every statement is recorded and the number of statements running at the
// same time is tracked.
type fakeConnector struct {
	failOpen  atomic.Bool
	failExec  atomic.Bool
	execDelay time.Duration

	opened  atomic.Int32
	active  atomic.Int32
	overlap atomic.Int32 // 最大并发执行数

	mu        sync.Mutex
	statement []string
	columns   []string
	rows      [][]driver.Value
	commits   int
	rollbacks int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{
		columns: []string{"value"},
		rows:    [][]driver.Value{{int64(1)}},
	}
}

func (c *fakeConnector) setResult(columns []string, rows ...[]driver.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.columns = columns
	c.rows = rows
}

func (c *fakeConnector) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statement...)
}

func (c *fakeConnector) Connect(ctx context.Context) (driver.Conn, error) {
	if c.failOpen.Load() {
		return nil, errors.New("fake: connection refused")
	}
	c.opened.Add(1)
	return &fakeConn{c: c}, nil
}

func (c *fakeConnector) Driver() driver.Driver { return fakeDriver{c} }

type fakeDriver struct{ c *fakeConnector }

func (d fakeDriver) Open(name string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

type fakeConn struct{ c *fakeConnector }

func (fc *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("fake: prepare not supported")
}

func (fc *fakeConn) Close() error { return nil }

func (fc *fakeConn) Begin() (driver.Tx, error) { return &fakeTx{c: fc.c}, nil }

func (fc *fakeConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return &fakeTx{c: fc.c}, nil
}

func (fc *fakeConn) track(query string) func() {
	c := fc.c
	c.mu.Lock()
	c.statement = append(c.statement, query)
	c.mu.Unlock()

	n := c.active.Add(1)
	for {
		peak := c.overlap.Load()
		if n <= peak || c.overlap.CompareAndSwap(peak, n) {
			break
		}
	}
	if c.execDelay > 0 {
		time.Sleep(c.execDelay)
	}
	return func() { c.active.Add(-1) }
}

func (fc *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	defer fc.track(query)()
	if fc.c.failExec.Load() {
		return nil, errors.New("fake: exec failed")
	}
	return driver.RowsAffected(1), nil
}

func (fc *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	defer fc.track(query)()
	if fc.c.failExec.Load() {
		return nil, errors.New("fake: query failed")
	}
	c := fc.c
	c.mu.Lock()
	defer c.mu.Unlock()
	return &fakeRows{columns: c.columns, rows: c.rows}, nil
}

// CheckNamedValue accepts every argument unchanged.
func (fc *fakeConn) CheckNamedValue(nv *driver.NamedValue) error { return nil }

type fakeTx struct{ c *fakeConnector }

func (t *fakeTx) Commit() error {
	t.c.mu.Lock()
	t.c.commits++
	t.c.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback() error {
	t.c.mu.Lock()
	t.c.rollbacks++
	t.c.mu.Unlock()
	return nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

// newFakePool opens a pool over a fresh fake connector.
func newFakePool(t interface{ Cleanup(func()) }, cfg Config) (*ConnectionPool, *fakeConnector) {
	fc := newFakeConnector()
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 50 * time.Millisecond
	}
	p, err := NewConnectionPoolWithConnector(fc, cfg)
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { p.Close() })
	return p, fc
}

func hasStatement(stmts []string, substr string) bool {
	for _, s := range stmts {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
