package dbmap

import (
	"context"
	"database/sql"
	"time"
)

// Target is where a statement runs: a *Conn or a *Tx.
type Target interface {
	target() (*Conn, *Tx)
}

func (c *Conn) target() (*Conn, *Tx) { return c, nil }
func (t *Tx) target() (*Conn, *Tx) {
	if t == nil {
		return nil, nil
	}
	return t.conn, t
}

// sqlExecutor 是 *sql.Conn 与 *sql.Tx 的公共方法
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Executor runs prepared statements. Every call on the backup connection
// is serialized by the pool's backup lock for its whole duration; pooled
// connections run unlocked.
type Executor struct {
	pool         *ConnectionPool
	dialect      Dialect
	queryTimeout time.Duration
}

// NewExecutor binds an executor to pool using dialect for parameter
// binding and generated-id retrieval.
func NewExecutor(pool *ConnectionPool, dialect Dialect) *Executor {
	return &Executor{pool: pool, dialect: dialect, queryTimeout: pool.cfg.QueryTimeout}
}

// run resolves the target, applies the locking rules and hands the native
// executor to fn.
func (e *Executor) run(ctx context.Context, t Target, fn func(ctx context.Context, q sqlExecutor) error) error {
	if t == nil {
		return newError(ErrCodeConnectionClosed, "no connection or transaction supplied")
	}
	conn, tx := t.target()
	if conn == nil {
		return newError(ErrCodeConnectionClosed, "no connection or transaction supplied")
	}

	var q sqlExecutor
	if tx != nil {
		// 事务在备用连接上时，Begin 已持有锁，且锁不可重入
		q = tx.raw
	} else {
		unlock := e.pool.lockFor(conn)
		defer unlock()
		native, err := conn.native()
		if err != nil {
			return err
		}
		q = native
	}

	if e.queryTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.queryTimeout)
			defer cancel()
		}
	}
	return fn(ctx, q)
}

func (e *Executor) bind(stmt *PreparedStatement, params []BoundParameter) (string, []interface{}, error) {
	return e.dialect.bindParameters(stmt.text, params)
}

func (e *Executor) failed(text string, args []interface{}, start time.Time, err error, what string) error {
	LogSQLError(e.pool.name, text, args, time.Since(start), err)
	return wrapError(err, ErrCodeExecutionFailed, "%s failed", what)
}

func (e *Executor) done(op string, start time.Time, err error) {
	observeStatement(e.pool.name, op, start, err)
}

// ExecuteReader runs a query and materializes every row.
func (e *Executor) ExecuteReader(ctx context.Context, t Target, stmt *PreparedStatement, params []BoundParameter) ([]*Record, error) {
	text, args, err := e.bind(stmt, params)
	if err != nil {
		return nil, err
	}
	var records []*Record
	begin := time.Now()
	err = e.run(ctx, t, func(ctx context.Context, q sqlExecutor) error {
		start := time.Now()
		rows, err := q.QueryContext(ctx, text, args...)
		if err != nil {
			return e.failed(text, args, start, err, "reader")
		}
		defer rows.Close()
		if records, err = scanRecords(rows); err != nil {
			return e.failed(text, args, start, err, "reader")
		}
		LogSQL(e.pool.name, text, args, time.Since(start))
		return nil
	})
	e.done("reader", begin, err)
	return records, err
}

// ExecuteScalar returns the first column of the first row, nil when the
// result is empty.
func (e *Executor) ExecuteScalar(ctx context.Context, t Target, stmt *PreparedStatement, params []BoundParameter) (interface{}, error) {
	text, args, err := e.bind(stmt, params)
	if err != nil {
		return nil, err
	}
	var value interface{}
	begin := time.Now()
	err = e.run(ctx, t, func(ctx context.Context, q sqlExecutor) error {
		start := time.Now()
		v, err := scalar(ctx, q, text, args)
		if err != nil {
			return e.failed(text, args, start, err, "scalar")
		}
		value = v
		LogSQL(e.pool.name, text, args, time.Since(start))
		return nil
	})
	e.done("scalar", begin, err)
	return value, err
}

// ExecuteNonQuery returns the number of rows affected.
func (e *Executor) ExecuteNonQuery(ctx context.Context, t Target, stmt *PreparedStatement, params []BoundParameter) (int64, error) {
	text, args, err := e.bind(stmt, params)
	if err != nil {
		return 0, err
	}
	var affected int64
	begin := time.Now()
	err = e.run(ctx, t, func(ctx context.Context, q sqlExecutor) error {
		start := time.Now()
		res, err := q.ExecContext(ctx, text, args...)
		if err != nil {
			return e.failed(text, args, start, err, "non-query")
		}
		if affected, err = res.RowsAffected(); err != nil {
			return e.failed(text, args, start, err, "rows affected")
		}
		LogSQL(e.pool.name, text, args, time.Since(start))
		return nil
	})
	e.done("non_query", begin, err)
	return affected, err
}

// ExecuteNonQueryReturningGeneratedID runs an insert followed by the
// dialect's last-insert-id query and parses the result as an int64.
func (e *Executor) ExecuteNonQueryReturningGeneratedID(ctx context.Context, t Target, stmt *PreparedStatement, params []BoundParameter) (int64, error) {
	if e.dialect.LastInsertID == "" {
		return 0, newError(ErrCodeExecutionFailed, "dialect has no last-insert-id query")
	}
	text, args, err := e.bind(stmt, params)
	if err != nil {
		return 0, err
	}

	var raw interface{}
	begin := time.Now()
	err = e.run(ctx, t, func(ctx context.Context, q sqlExecutor) error {
		start := time.Now()
		if e.dialect.SeparateLastInsertID {
			// 同一连接上执行，保证 last insert id 的会话作用域
			if _, err := q.ExecContext(ctx, text, args...); err != nil {
				return e.failed(text, args, start, err, "insert")
			}
			v, err := scalar(ctx, q, e.dialect.LastInsertID, nil)
			if err != nil {
				return e.failed(e.dialect.LastInsertID, nil, start, err, "last insert id")
			}
			raw = v
		} else {
			text = text + e.dialect.LastInsertID
			v, err := scalar(ctx, q, text, args)
			if err != nil {
				return e.failed(text, args, start, err, "insert")
			}
			raw = v
		}
		LogSQL(e.pool.name, text, args, time.Since(start))
		return nil
	})
	e.done("insert_id", begin, err)
	if err != nil {
		return 0, err
	}

	id, convErr := toInt64(raw)
	if convErr != nil {
		return 0, &Error{
			Code:   ErrCodeLastInsertIdNotNumber,
			Detail: "generated id " + FormatValue(bytesToString(raw)) + " is not a 64-bit integer",
			Cause:  convErr,
		}
	}
	return id, nil
}

// scalar reads the first column of the first row of the first result set
// that has one.
func scalar(ctx context.Context, q sqlExecutor, text string, args []interface{}) (interface{}, error) {
	rows, err := q.QueryContext(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for {
		if rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				return nil, err
			}
			vals := make([]interface{}, len(cols))
			ptrs := make([]interface{}, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, err
			}
			if len(vals) == 0 {
				return nil, nil
			}
			return processDBValue(vals[0], ""), nil
		}
		if !rows.NextResultSet() {
			break
		}
	}
	return nil, rows.Err()
}
