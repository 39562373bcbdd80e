package dbmap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireFallsBackToBackupWhenExhausted(t *testing.T) {
	p, _ := newFakePool(t, Config{PoolSize: 2})
	ctx := context.Background()

	var held []*Conn
	for i := 0; i < 2; i++ {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		assert.False(t, c.IsBackup(), "request %d", i+1)
		held = append(held, c)
	}
	require.NotNil(t, p.Backup())

	// 第 N+1 个请求拿到备用连接
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, c.IsBackup())
	assert.Same(t, p.Backup(), c)
	assert.EqualValues(t, 1, p.Stats().BackupFallbacks)

	// 归还一个池化连接后重新获得池化连接
	require.NoError(t, held[0].Close())
	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, c.IsBackup())
	c.Close()
	held[1].Close()
}

func TestBackupIsNeverClosedByCaller(t *testing.T) {
	p, _ := newFakePool(t, Config{DSN: "pooling=false"})

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, c.IsBackup())

	require.NoError(t, c.Close())
	assert.Equal(t, ConnOpen, c.State())
	_, err = c.native()
	assert.NoError(t, err)
}

func TestPoolingDisabledAlwaysReturnsBackup(t *testing.T) {
	p, fc := newFakePool(t, Config{DSN: "server=x;pooling=false"})
	require.True(t, p.PoolingDisabled())

	var wg sync.WaitGroup
	conns := make([]*Conn, 10)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range conns {
		assert.Same(t, conns[0], c)
		assert.True(t, c.IsBackup())
	}
	assert.EqualValues(t, 1, fc.opened.Load())
	assert.Equal(t, 1, p.Stats().MaxOpenConnections)
}

func TestAcquireFailsWithoutBackup(t *testing.T) {
	p, fc := newFakePool(t, Config{PoolSize: 1})
	fc.failOpen.Store(true)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConnectionCreationFailed))
	assert.Nil(t, p.Backup())
	assert.EqualValues(t, 1, p.Stats().AcquireFailures)
}

func TestAcquireUsesBackupWhenOpenFails(t *testing.T) {
	p, fc := newFakePool(t, Config{PoolSize: 1})

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	// 关闭空闲连接，迫使下一次获取重新建连
	p.DB().SetMaxIdleConns(0)

	fc.failOpen.Store(true)
	c, err = p.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsBackup())
}

func TestAcquireCancelledContext(t *testing.T) {
	p, _ := newFakePool(t, Config{PoolSize: 1})
	first, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer first.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Acquire(ctx)
	assert.True(t, IsCode(err, ErrCodeConnectionCreationFailed))
}

func TestAcquireAfterClose(t *testing.T) {
	p, _ := newFakePool(t, Config{})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background())
	assert.True(t, IsCode(err, ErrCodeConnectionClosed))
}

func TestPooledConnReopensAfterClose(t *testing.T) {
	p, _ := newFakePool(t, Config{PoolSize: 2})
	ctx := context.Background()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, ConnClosed, c.State())
	_, err = c.native()
	assert.True(t, IsCode(err, ErrCodeConnectionClosed))

	require.NoError(t, c.ensureOpen(ctx))
	assert.Equal(t, ConnOpen, c.State())
	c.Close()
}

func TestBackupExecutionsDoNotOverlap(t *testing.T) {
	p, fc := newFakePool(t, Config{DSN: "pooling=false"})
	fc.execDelay = 5 * time.Millisecond
	ex := NewExecutor(p, Dialect{Bind: BindQuestion})
	stmt := &PreparedStatement{text: "UPDATE t SET a = 1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			_, err = ex.ExecuteNonQuery(context.Background(), c, stmt, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, fc.overlap.Load())
	assert.Len(t, fc.statements(), 8)
}

func TestPooledExecutionsOverlap(t *testing.T) {
	const n = 4
	p, fc := newFakePool(t, Config{PoolSize: n})
	fc.execDelay = 50 * time.Millisecond
	ex := NewExecutor(p, Dialect{Bind: BindQuestion})
	stmt := &PreparedStatement{text: "UPDATE t SET a = 1"}

	conns := make([]*Conn, n)
	for i := range conns {
		conns[i] = acquire(t, p)
		require.False(t, conns[i].IsBackup())
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			<-start
			_, err := ex.ExecuteNonQuery(context.Background(), c, stmt, nil)
			assert.NoError(t, err)
		}(c)
	}
	close(start)
	wg.Wait()

	assert.Greater(t, fc.overlap.Load(), int32(1))
	assert.Len(t, fc.statements(), n)
}

func TestPoolStats(t *testing.T) {
	p, _ := newFakePool(t, Config{Name: "main", PoolSize: 3})
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer c.Close()

	s := p.Stats()
	assert.Equal(t, "main", s.DBName)
	assert.Equal(t, "sqlite3", s.Driver)
	assert.Equal(t, 3, s.PoolSize)
	assert.Equal(t, 4, s.MaxOpenConnections)
	assert.True(t, s.BackupCreated)
	assert.Equal(t, 2, s.InUse)
	assert.Contains(t, s.String(), "PoolStats[main/sqlite3]")

	var nilStats *PoolStats
	assert.Equal(t, "PoolStats: nil", nilStats.String())
}

func TestConnectionMonitorTracksHealth(t *testing.T) {
	pinger := &flakyPinger{}
	m := newConnectionMonitor(pinger, "main", 10*time.Millisecond, 5*time.Millisecond)
	m.Start()
	m.Start()
	defer m.Stop()

	pinger.setFailing(true)
	assert.Eventually(t, func() bool { return !m.Healthy() }, time.Second, 5*time.Millisecond)
	pinger.setFailing(false)
	assert.Eventually(t, m.Healthy, time.Second, 5*time.Millisecond)
}

type flakyPinger struct {
	mu      sync.Mutex
	failing bool
}

func (f *flakyPinger) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyPinger) PingContext(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return context.DeadlineExceeded
	}
	return nil
}
