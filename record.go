package dbmap

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Record is one result row. Column lookups are case-insensitive; the
// original column names and their order are kept.
type Record struct {
	columns     map[string]interface{} // 原始键名 -> 值
	lowerKeyMap map[string]string      // 小写键名 -> 原始键名
	keys        []string               // 保存字段顺序
	mu          sync.RWMutex
}

// NewRecord creates a new empty Record
func NewRecord() *Record {
	return &Record{
		columns:     make(map[string]interface{}),
		lowerKeyMap: make(map[string]string),
	}
}

func newRecordWithCap(n int) *Record {
	return &Record{
		columns:     make(map[string]interface{}, n),
		lowerKeyMap: make(map[string]string, n),
		keys:        make([]string, 0, n),
	}
}

// Set sets a column value. An existing column matching case-insensitively
// keeps its original name.
func (r *Record) Set(column string, value interface{}) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	value = derefPointer(value)
	lowerKey := strings.ToLower(column)
	if existingKey, exists := r.lowerKeyMap[lowerKey]; exists {
		r.columns[existingKey] = value
		return r
	}
	r.setDirect(column, value)
	return r
}

// setDirect 不加锁直接写入，仅用于扫描新建的 Record
func (r *Record) setDirect(column string, value interface{}) {
	r.columns[column] = value
	r.lowerKeyMap[strings.ToLower(column)] = column
	r.keys = append(r.keys, column)
}

func (r *Record) lookup(column string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	actualKey, exists := r.lowerKeyMap[strings.ToLower(column)]
	if !exists {
		return nil, false
	}
	return r.columns[actualKey], true
}

// Get gets a column value, nil when absent.
func (r *Record) Get(column string) interface{} {
	v, _ := r.lookup(column)
	return v
}

// Has reports whether the column is present.
func (r *Record) Has(column string) bool {
	_, ok := r.lookup(column)
	return ok
}

// MustGet returns ColumnNotInResultSet when the column is absent.
func (r *Record) MustGet(column string) (interface{}, error) {
	v, ok := r.lookup(column)
	if !ok {
		return nil, newError(ErrCodeColumnNotInResultSet, "column '%s' not in result set", column)
	}
	return v, nil
}

// GetString returns the column as a string ("" when absent or nil).
func (r *Record) GetString(column string) string {
	switch v := bytesToString(r.Get(column)).(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.Format("2006-01-02 15:04:05")
	default:
		return FormatValue(v)
	}
}

// GetInt64 returns the column as an int64 (0 when absent or not numeric).
func (r *Record) GetInt64(column string) int64 {
	n, _ := toInt64(r.Get(column))
	return n
}

// GetInt returns the column as an int.
func (r *Record) GetInt(column string) int {
	return int(r.GetInt64(column))
}

// GetFloat returns the column as a float64.
func (r *Record) GetFloat(column string) float64 {
	f, _ := toFloat64(r.Get(column))
	return f
}

// GetBool returns the column as a bool.
func (r *Record) GetBool(column string) bool {
	b, _ := toBool(r.Get(column))
	return b
}

// GetTime returns the column as a time.Time.
func (r *Record) GetTime(column string) time.Time {
	t, _ := toTime(r.Get(column))
	return t
}

// GetBytes returns the column as raw bytes.
func (r *Record) GetBytes(column string) []byte {
	switch v := r.Get(column).(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// Keys returns the column names in result order.
func (r *Record) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of columns.
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// ToMap copies the record into a plain map.
func (r *Record) ToMap() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := make(map[string]interface{}, len(r.columns))
	for k, v := range r.columns {
		m[k] = v
	}
	return m
}

// MarshalJSON 按列顺序输出
func (r *Record) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.columns[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String 返回 JSON 格式的字符串
func (r *Record) String() string {
	data, err := r.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(data)
}

func isNumericType(dbType string) bool {
	for _, t := range []string{"DECIMAL", "NUMERIC", "NUMBER", "MONEY", "SMALLMONEY", "DEC", "FIXED"} {
		if strings.Contains(dbType, t) {
			return true
		}
	}
	return false
}

func isBinaryType(dbType string) bool {
	for _, t := range []string{"BLOB", "BINARY", "VARBINARY", "BYTEA", "IMAGE", "RAW"} {
		if strings.Contains(dbType, t) {
			return true
		}
	}
	return false
}

// processDBValue 将 []byte 转为字符串（二进制列除外），避免持有驱动缓冲区
func processDBValue(val interface{}, dbType string) interface{} {
	b, ok := val.([]byte)
	if !ok {
		return val
	}
	if isBinaryType(dbType) {
		bCopy := make([]byte, len(b))
		copy(bCopy, b)
		return bCopy
	}
	if isNumericType(dbType) && len(b) == 0 {
		return nil
	}
	return string(b)
}

// scanRecords materializes every row; the reusable scan buffers follow the
// column count of the result.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	dbTypes := make([]string, len(columns))
	if columnTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range columnTypes {
			dbTypes[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	numCols := len(columns)
	values := make([]interface{}, numCols)
	valuePtrs := make([]interface{}, numCols)
	for i := range columns {
		valuePtrs[i] = &values[i]
	}

	var results []*Record
	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		rec := newRecordWithCap(numCols)
		for i, col := range columns {
			rec.setDirect(col, processDBValue(values[i], dbTypes[i]))
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
