package dbmap

import (
	"context"
	"database/sql"
	"sync"
)

// TxState is the lifecycle state of a transaction handle.
type TxState int32

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

// Tx is a transaction bound to exactly one connection handle. A
// transaction on the backup connection holds the backup execution lock
// from Begin until Commit or Rollback.
type Tx struct {
	pool *ConnectionPool
	conn *Conn
	raw  *sql.Tx
	db   *DB // set when begun through DB.Begin

	mu     sync.Mutex
	state  TxState
	unlock func()
}

// Begin opens c if needed and starts a native transaction on it. A nil c
// acquires a connection from the pool first.
func (p *ConnectionPool) Begin(ctx context.Context, c *Conn, opts *sql.TxOptions) (*Tx, error) {
	if c == nil {
		var err error
		if c, err = p.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.ensureOpen(ctx); err != nil {
		return nil, err
	}
	if err := p.checkBackupFree(c); err != nil {
		return nil, err
	}

	unlock := p.lockFor(c)
	native, err := c.native()
	if err != nil {
		unlock()
		return nil, err
	}
	raw, err := native.BeginTx(ctx, opts)
	if err != nil {
		unlock()
		return nil, wrapError(err, ErrCodeTransactionBeginFailed, "failed to begin transaction on '%s'", p.name)
	}

	LogDebug("transaction started", map[string]interface{}{
		"db":     p.name,
		"backup": c.isBackup,
	})
	tx := &Tx{pool: p, conn: c, raw: raw, state: TxActive, unlock: unlock}
	if c.isBackup {
		p.backupTx.Store(tx)
	}
	return tx, nil
}

// Conn returns the connection the transaction runs on.
func (t *Tx) Conn() *Conn { return t.conn }

// State returns the current lifecycle state.
func (t *Tx) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// finish moves an active transaction to state and releases the backup
// lock. It reports false when the transaction had already finished.
func (t *Tx) finish(state TxState, native func() error) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TxActive {
		return false, nil
	}
	err := native()
	t.state = state
	if t.conn.isBackup {
		t.pool.backupTx.CompareAndSwap(t, nil)
	}
	t.unlock()
	return true, err
}

// Commit commits the transaction and, when closeConnection is set, closes
// the underlying connection (a no-op for the backup). Commit on a nil
// handle does nothing.
func (t *Tx) Commit(closeConnection bool) error {
	if t == nil {
		return nil
	}
	active, err := t.finish(TxCommitted, t.raw.Commit)
	if !active {
		return newError(ErrCodeTransactionCommitFailed, "transaction already %s", t.stateName())
	}
	if closeConnection {
		if cerr := t.conn.Close(); cerr != nil && err == nil {
			LogWarn("failed to close connection after commit", map[string]interface{}{
				"db":    t.pool.name,
				"error": cerr.Error(),
			})
		}
	}
	if err != nil {
		return wrapError(err, ErrCodeTransactionCommitFailed, "failed to commit transaction on '%s'", t.pool.name)
	}
	return nil
}

// Rollback rolls the transaction back and leaves the connection open.
// Rollback on a nil handle does nothing.
func (t *Tx) Rollback() error {
	if t == nil {
		return nil
	}
	active, err := t.finish(TxRolledBack, t.raw.Rollback)
	if !active {
		return newError(ErrCodeTransactionRollbackFailed, "transaction already %s", t.stateName())
	}
	if err != nil {
		return wrapError(err, ErrCodeTransactionRollbackFailed, "failed to roll back transaction on '%s'", t.pool.name)
	}
	return nil
}

func (t *Tx) stateName() string {
	switch t.State() {
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "active"
	}
}
