package dbmap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionCommit(t *testing.T) {
	p, fc := newFakePool(t, Config{PoolSize: 2})
	ex := NewExecutor(p, Dialect{Bind: BindQuestion})

	tx, err := p.Begin(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, TxActive, tx.State())
	assert.False(t, tx.Conn().IsBackup())

	_, err = ex.ExecuteNonQuery(context.Background(), tx, &PreparedStatement{text: "UPDATE t SET a = 1"}, nil)
	require.NoError(t, err)

	require.NoError(t, tx.Commit(true))
	assert.Equal(t, TxCommitted, tx.State())
	assert.Equal(t, ConnClosed, tx.Conn().State())
	assert.Equal(t, 1, fc.commits)

	err = tx.Commit(true)
	assert.True(t, IsCode(err, ErrCodeTransactionCommitFailed))
	err = tx.Rollback()
	assert.True(t, IsCode(err, ErrCodeTransactionRollbackFailed))
}

func TestTransactionCommitKeepsConnection(t *testing.T) {
	p, _ := newFakePool(t, Config{PoolSize: 2})
	c := acquire(t, p)

	tx, err := p.Begin(context.Background(), c, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(false))
	assert.Equal(t, ConnOpen, c.State())
}

func TestTransactionRollbackLeavesConnectionOpen(t *testing.T) {
	p, fc := newFakePool(t, Config{PoolSize: 2})
	c := acquire(t, p)

	tx, err := p.Begin(context.Background(), c, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, TxRolledBack, tx.State())
	assert.Equal(t, ConnOpen, c.State())
	assert.Equal(t, 1, fc.rollbacks)
}

func TestTransactionOnNilHandle(t *testing.T) {
	var tx *Tx
	assert.NoError(t, tx.Commit(true))
	assert.NoError(t, tx.Rollback())
}

func TestBeginReopensClosedConnection(t *testing.T) {
	p, _ := newFakePool(t, Config{PoolSize: 2})
	c := acquire(t, p)
	require.NoError(t, c.Close())

	tx, err := p.Begin(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Equal(t, ConnOpen, c.State())
	require.NoError(t, tx.Rollback())
}

func TestBeginFailsWhenNoConnection(t *testing.T) {
	p, fc := newFakePool(t, Config{PoolSize: 1})
	fc.failOpen.Store(true)

	_, err := p.Begin(context.Background(), nil, nil)
	assert.True(t, IsCode(err, ErrCodeConnectionCreationFailed))
}

func TestBackupTransactionHoldsExecutionLock(t *testing.T) {
	p, _ := newFakePool(t, Config{DSN: "pooling=false"})
	ex := NewExecutor(p, Dialect{Bind: BindQuestion})

	tx, err := p.Begin(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, tx.Conn().IsBackup())

	// 事务内的语句不能因自身持有的锁而阻塞
	_, err = ex.ExecuteNonQuery(context.Background(), tx, &PreparedStatement{text: "UPDATE t SET a = 1"}, nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := p.Acquire(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		_, err = ex.ExecuteNonQuery(context.Background(), c, &PreparedStatement{text: "UPDATE t SET b = 2"}, nil)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
		t.Fatal("statement on the backup ran while its transaction was active")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(true))
	assert.Equal(t, ConnOpen, tx.Conn().State())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("statement on the backup still blocked after commit")
	}
}

func TestBackupLockReleasedAfterRollback(t *testing.T) {
	p, _ := newFakePool(t, Config{DSN: "pooling=false"})

	tx, err := p.Begin(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	tx2, err := p.Begin(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Same(t, tx.Conn(), tx2.Conn())
	require.NoError(t, tx2.Rollback())
}
