package dbmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"strings"
)

// Request describes one call of the high-level API. Fields are property
// meta-names (possibly "Table:Prop"), Where holds meta-names for the
// remaining template slots and Values are consumed in order by "#" and
// "@name" tokens.
type Request struct {
	Key      string
	Template string
	Fields   []string
	Where    []string
	Values   []interface{}
}

// DB ties one connection pool to its mappings, templates and dialect.
// Multiple DB values may coexist; there is no process-wide registry.
type DB struct {
	name      string
	dialect   Dialect
	pool      *ConnectionPool
	builder   *StatementBuilder
	executor  *Executor
	mappings  MappingSource
	templates TemplateSource
	accessor  FieldAccessor
}

// Option customizes a DB at open time.
type Option func(*DB)

// WithAccessor replaces the default reflection-based field accessor.
func WithAccessor(a FieldAccessor) Option {
	return func(db *DB) {
		if a != nil {
			db.accessor = a
		}
	}
}

// Open opens a database with the given sources. A nil templates source
// gets an empty registry.
func Open(cfg Config, mappings MappingSource, templates TemplateSource, opts ...Option) (*DB, error) {
	pool, err := NewConnectionPool(cfg)
	if err != nil {
		return nil, err
	}
	return newDB(pool, mappings, templates, opts)
}

// OpenWithConnector is Open over an existing driver.Connector.
func OpenWithConnector(connector driver.Connector, cfg Config, mappings MappingSource, templates TemplateSource, opts ...Option) (*DB, error) {
	pool, err := NewConnectionPoolWithConnector(connector, cfg)
	if err != nil {
		return nil, err
	}
	return newDB(pool, mappings, templates, opts)
}

func newDB(pool *ConnectionPool, mappings MappingSource, templates TemplateSource, opts []Option) (*DB, error) {
	if mappings == nil {
		pool.Close()
		return nil, newError(ErrCodeConfigurationInvalid, "mapping source is required")
	}
	if templates == nil {
		templates = NewTemplateRegistry(DefaultTemplateCacheSize)
	}
	dialect := pool.cfg.Dialect.apply(DialectFor(pool.cfg.Driver))
	db := &DB{
		name:      pool.name,
		dialect:   dialect,
		pool:      pool,
		builder:   NewStatementBuilder(mappings, templates, dialect),
		executor:  NewExecutor(pool, dialect),
		mappings:  mappings,
		templates: templates,
		accessor:  DefaultAccessor,
	}
	for _, opt := range opts {
		opt(db)
	}

	LogInfo("数据库已就绪", map[string]interface{}{
		"db":      db.name,
		"driver":  string(pool.cfg.Driver),
		"pooling": !pool.poolingDisabled,
	})
	return db, nil
}

// OpenFile loads a TOML configuration and opens the database it describes:
// logging is initialized first, then mappings and templates are loaded.
// Relative template paths are resolved against the configuration file.
func OpenFile(path string, opts ...Option) (*DB, error) {
	fc, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}

	switch {
	case fc.Logging.File != "":
		if err := InitLoggerWithFile(fc.Logging.Level, resolvePath(path, fc.Logging.File)); err != nil {
			return nil, wrapError(err, ErrCodeConfigurationInvalid, "failed to open log file")
		}
	case fc.Logging.Level != "":
		InitLogger(fc.Logging.Level)
	}
	if fc.Logging.Debug {
		SetDebugMode(true)
	}

	mappings, err := NewMappingRegistry(fc.EntityMappings()...)
	if err != nil {
		return nil, err
	}

	cacheSize := fc.Templates.CacheSize
	if cacheSize == 0 {
		cacheSize = DefaultTemplateCacheSize
	}
	templates := NewTemplateRegistry(cacheSize)
	for _, f := range fc.Templates.Files {
		if err := templates.LoadFile(resolvePath(path, f)); err != nil {
			return nil, err
		}
	}
	for _, d := range fc.Templates.Dirs {
		if err := templates.LoadDir(resolvePath(path, d)); err != nil {
			return nil, err
		}
	}

	return Open(fc.Config(), mappings, templates, opts...)
}

func resolvePath(configPath, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// Name returns the database name used in logs and metrics.
func (db *DB) Name() string { return db.name }

// Pool returns the connection pool.
func (db *DB) Pool() *ConnectionPool { return db.pool }

// Builder returns the statement builder.
func (db *DB) Builder() *StatementBuilder { return db.builder }

// Executor returns the executor.
func (db *DB) Executor() *Executor { return db.executor }

// Dialect returns the effective dialect.
func (db *DB) Dialect() Dialect { return db.dialect }

// Mappings returns the mapping source.
func (db *DB) Mappings() MappingSource { return db.mappings }

// Stats returns a snapshot of the pool statistics.
func (db *DB) Stats() *PoolStats { return db.pool.Stats() }

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error { return db.pool.Ping(ctx) }

// Close closes the pool and its backup connection.
func (db *DB) Close() error { return db.pool.Close() }

// Begin acquires a connection and starts a transaction on it. The
// connection is returned to the pool by Commit(true); after Rollback the
// caller closes it through tx.Conn().Close().
func (db *DB) Begin(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.pool.Begin(ctx, nil, opts)
	if err != nil {
		return nil, err
	}
	tx.db = db
	return tx, nil
}

// Transaction runs fn inside a transaction. It commits when fn returns
// nil and rolls back on error or panic; the connection is always
// released.
func (db *DB) Transaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			tx.conn.Close()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !IsCode(rbErr, ErrCodeTransactionRollbackFailed) {
			LogWarn("rollback after failure failed", map[string]interface{}{
				"db":    db.name,
				"error": rbErr.Error(),
			})
		}
		tx.conn.Close()
		return err
	}
	if tx.State() != TxActive {
		// fn 已自行提交或回滚
		tx.conn.Close()
		return nil
	}
	return tx.Commit(true)
}

// withTarget runs fn on tx when given, otherwise on a freshly acquired
// connection that is closed afterwards (a no-op for the backup).
func (db *DB) withTarget(ctx context.Context, tx *Tx, fn func(Target) error) error {
	if tx != nil {
		if tx.State() != TxActive {
			return newError(ErrCodeConnectionClosed, "transaction already %s", tx.stateName())
		}
		return fn(tx)
	}
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := db.pool.checkBackupFree(conn); err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			LogWarn("failed to release connection", map[string]interface{}{
				"db":    db.name,
				"error": cerr.Error(),
			})
		}
	}()
	return fn(conn)
}

// Select runs a SELECT template. With Fields, slot 0 is the column list;
// without, every slot comes from Where.
func (db *DB) Select(ctx context.Context, req Request) ([]*Record, error) {
	return db.selectRecords(ctx, nil, req)
}

// SelectSingle returns the first row or nil.
func (db *DB) SelectSingle(ctx context.Context, req Request) (*Record, error) {
	return first(db.selectRecords(ctx, nil, req))
}

// Count runs a SELECT template whose first column is a count.
func (db *DB) Count(ctx context.Context, req Request) (int64, error) {
	return db.count(ctx, nil, req)
}

// Insert runs an INSERT template and returns the rows affected.
func (db *DB) Insert(ctx context.Context, req Request) (int64, error) {
	return db.insert(ctx, nil, req, false)
}

// InsertReturningID runs an INSERT template and returns the generated id.
func (db *DB) InsertReturningID(ctx context.Context, req Request) (int64, error) {
	return db.insert(ctx, nil, req, true)
}

// Update runs an UPDATE template. With Fields, slot 0 is the assignment
// list and the first len(Fields) values are the new column values.
func (db *DB) Update(ctx context.Context, req Request) (int64, error) {
	return db.update(ctx, nil, req)
}

// Delete runs a DELETE template.
func (db *DB) Delete(ctx context.Context, req Request) (int64, error) {
	return db.deleteRows(ctx, nil, req)
}

func (t *Tx) owner() (*DB, error) {
	if t == nil || t.db == nil {
		return nil, newError(ErrCodeConfigurationInvalid, "transaction was not started through DB.Begin")
	}
	return t.db, nil
}

// Select is DB.Select inside the transaction.
func (t *Tx) Select(ctx context.Context, req Request) ([]*Record, error) {
	db, err := t.owner()
	if err != nil {
		return nil, err
	}
	return db.selectRecords(ctx, t, req)
}

// SelectSingle is DB.SelectSingle inside the transaction.
func (t *Tx) SelectSingle(ctx context.Context, req Request) (*Record, error) {
	db, err := t.owner()
	if err != nil {
		return nil, err
	}
	return first(db.selectRecords(ctx, t, req))
}

// Count is DB.Count inside the transaction.
func (t *Tx) Count(ctx context.Context, req Request) (int64, error) {
	db, err := t.owner()
	if err != nil {
		return 0, err
	}
	return db.count(ctx, t, req)
}

// Insert is DB.Insert inside the transaction.
func (t *Tx) Insert(ctx context.Context, req Request) (int64, error) {
	db, err := t.owner()
	if err != nil {
		return 0, err
	}
	return db.insert(ctx, t, req, false)
}

// InsertReturningID is DB.InsertReturningID inside the transaction.
func (t *Tx) InsertReturningID(ctx context.Context, req Request) (int64, error) {
	db, err := t.owner()
	if err != nil {
		return 0, err
	}
	return db.insert(ctx, t, req, true)
}

// Update is DB.Update inside the transaction.
func (t *Tx) Update(ctx context.Context, req Request) (int64, error) {
	db, err := t.owner()
	if err != nil {
		return 0, err
	}
	return db.update(ctx, t, req)
}

// Delete is DB.Delete inside the transaction.
func (t *Tx) Delete(ctx context.Context, req Request) (int64, error) {
	db, err := t.owner()
	if err != nil {
		return 0, err
	}
	return db.deleteRows(ctx, t, req)
}

func first(records []*Record, err error) (*Record, error) {
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (db *DB) buildSelect(req Request) (*PreparedStatement, []BoundParameter, error) {
	if len(req.Fields) == 0 {
		return db.builder.FillWherePlaceholders(KindSelect, req.Key, req.Template, req.Where, req.Values)
	}
	return db.builder.FillPlaceholders(KindSelect, req.Key, req.Template, req.Fields, req.Where, req.Values)
}

func (db *DB) selectRecords(ctx context.Context, tx *Tx, req Request) ([]*Record, error) {
	stmt, params, err := db.buildSelect(req)
	if err != nil {
		return nil, err
	}
	var records []*Record
	err = db.withTarget(ctx, tx, func(t Target) error {
		records, err = db.executor.ExecuteReader(ctx, t, stmt, params)
		return err
	})
	return records, err
}

func (db *DB) count(ctx context.Context, tx *Tx, req Request) (int64, error) {
	stmt, params, err := db.builder.FillWherePlaceholders(KindSelect, req.Key, req.Template, req.Where, req.Values)
	if err != nil {
		return 0, err
	}
	var raw interface{}
	err = db.withTarget(ctx, tx, func(t Target) error {
		raw, err = db.executor.ExecuteScalar(ctx, t, stmt, params)
		return err
	})
	if err != nil || raw == nil {
		return 0, err
	}
	n, convErr := toInt64(raw)
	if convErr != nil {
		return 0, wrapError(convErr, ErrCodeExecutionFailed, "count result %s is not an integer", FormatValue(bytesToString(raw)))
	}
	return n, nil
}

func (db *DB) insert(ctx context.Context, tx *Tx, req Request, returnID bool) (int64, error) {
	fields, err := db.builder.InsertColumns(req.Key, req.Fields)
	if err != nil {
		return 0, err
	}
	where := req.Where
	if len(where) == 0 {
		where = make([]string, len(req.Values))
		for i := range where {
			where[i] = autoParamToken
		}
	}
	stmt, params, err := db.builder.FillPlaceholders(KindInsert, req.Key, req.Template, fields, where, req.Values)
	if err != nil {
		return 0, err
	}

	var n int64
	err = db.withTarget(ctx, tx, func(t Target) error {
		if returnID {
			n, err = db.executor.ExecuteNonQueryReturningGeneratedID(ctx, t, stmt, params)
		} else {
			n, err = db.executor.ExecuteNonQuery(ctx, t, stmt, params)
		}
		return err
	})
	return n, err
}

func (db *DB) update(ctx context.Context, tx *Tx, req Request) (int64, error) {
	var (
		stmt   *PreparedStatement
		params []BoundParameter
		err    error
	)
	if len(req.Fields) > 0 {
		stmt, params, err = db.builder.FillAssignmentPlaceholders(KindUpdate, req.Key, req.Template, req.Fields, req.Where, req.Values)
	} else {
		stmt, params, err = db.builder.FillWherePlaceholders(KindUpdate, req.Key, req.Template, req.Where, req.Values)
	}
	if err != nil {
		return 0, err
	}
	return db.nonQuery(ctx, tx, req, stmt, params)
}

func (db *DB) deleteRows(ctx context.Context, tx *Tx, req Request) (int64, error) {
	stmt, params, err := db.builder.FillWherePlaceholders(KindDelete, req.Key, req.Template, req.Where, req.Values)
	if err != nil {
		return 0, err
	}
	return db.nonQuery(ctx, tx, req, stmt, params)
}

func (db *DB) nonQuery(ctx context.Context, tx *Tx, req Request, stmt *PreparedStatement, params []BoundParameter) (int64, error) {
	var n int64
	err := db.withTarget(ctx, tx, func(t Target) error {
		var err error
		n, err = db.executor.ExecuteNonQuery(ctx, t, stmt, params)
		return err
	})
	if err == nil && n == 0 {
		LogWarn("statement affected no rows", map[string]interface{}{
			"db":       db.name,
			"key":      req.Key,
			"template": req.Template,
		})
	}
	return n, err
}

// fieldColumn is one requested property and the result column it reads.
type fieldColumn struct {
	property string
	column   string
}

// columnsFor maps the requested fields to result column names. Without
// fields every mapped property of key is expected only when present.
func (db *DB) columnsFor(key string, fields []string) ([]fieldColumn, bool, error) {
	if len(fields) == 0 {
		cols, err := db.mappings.Columns(key)
		if err != nil {
			return nil, false, err
		}
		out := make([]fieldColumn, len(cols))
		for i, cm := range cols {
			out[i] = fieldColumn{property: cm.Property, column: cm.Column}
		}
		return out, false, nil
	}

	out := make([]fieldColumn, 0, len(fields))
	for _, f := range fields {
		entity, prop := key, f
		if i := strings.Index(f, qualifierSeparator); i >= 0 {
			entity, prop = f[:i], f[i+1:]
		}
		col, err := db.mappings.Column(entity, prop)
		if err != nil {
			return nil, false, err
		}
		out = append(out, fieldColumn{property: prop, column: col})
	}
	return out, true, nil
}

// mapRecord writes rec into dst through the accessor. Required columns
// must be present in the row.
func (db *DB) mapRecord(rec *Record, cols []fieldColumn, required bool, dst interface{}) error {
	for _, fc := range cols {
		v, ok := rec.lookup(fc.column)
		if !ok {
			if required {
				return newError(ErrCodeColumnNotInResultSet, "column '%s' for property '%s' not in result set", fc.column, fc.property)
			}
			continue
		}
		if err := db.accessor.SetField(dst, fc.property, v); err != nil {
			return err
		}
	}
	return nil
}

// SelectInto runs a SELECT request and maps each row into a new T through
// the database's field accessor. tx may be nil.
func SelectInto[T any](ctx context.Context, db *DB, tx *Tx, req Request) ([]T, error) {
	cols, required, err := db.columnsFor(req.Key, req.Fields)
	if err != nil {
		return nil, err
	}
	records, err := db.selectRecords(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(records))
	for i, rec := range records {
		if err := db.mapRecord(rec, cols, required, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// SelectSingleInto is SelectInto for at most one row; found is false when
// the result is empty.
func SelectSingleInto[T any](ctx context.Context, db *DB, tx *Tx, req Request) (result T, found bool, err error) {
	cols, required, err := db.columnsFor(req.Key, req.Fields)
	if err != nil {
		return result, false, err
	}
	rec, err := first(db.selectRecords(ctx, tx, req))
	if err != nil || rec == nil {
		return result, false, err
	}
	if err := db.mapRecord(rec, cols, required, &result); err != nil {
		return result, false, err
	}
	return result, true, nil
}

// ValuesOf reads the named properties of obj in order, ready to be passed
// as Request.Values.
func (db *DB) ValuesOf(obj interface{}, properties ...string) ([]interface{}, error) {
	values := make([]interface{}, len(properties))
	for i, p := range properties {
		v, err := db.accessor.GetField(obj, p)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

func (db *DB) String() string {
	return fmt.Sprintf("DB{name=%s, driver=%s}", db.name, db.pool.cfg.Driver)
}
