package dbmap

import (
	"database/sql"
	"strconv"
	"strings"
)

// DriverType represents the database driver type
type DriverType string

const (
	// MySQL database driver
	MySQL DriverType = "mysql"
	// PostgreSQL database driver
	PostgreSQL DriverType = "postgres"
	// SQLite3 database driver
	SQLite3 DriverType = "sqlite3"
	// Oracle database driver
	Oracle DriverType = "oracle"
	// SQL Server database driver
	SQLServer DriverType = "sqlserver"
)

// SupportedDrivers returns a list of all supported database drivers
func SupportedDrivers() []DriverType {
	return []DriverType{MySQL, PostgreSQL, SQLite3, Oracle, SQLServer}
}

// IsValidDriver checks if the given driver is supported
func IsValidDriver(driver DriverType) bool {
	for _, d := range SupportedDrivers() {
		if d == driver {
			return true
		}
	}
	return false
}

// BindStyle is how @name markers in built SQL reach the driver.
type BindStyle int

const (
	// BindNamed passes sql.Named arguments and leaves the text untouched.
	BindNamed BindStyle = iota
	// BindQuestion rewrites each marker to '?'.
	BindQuestion
	// BindDollar rewrites each marker to $1, $2, ...
	BindDollar
	// BindColon rewrites each marker to :1, :2, ...
	BindColon
)

// Dialect carries the provider-specific values the core needs.
type Dialect struct {
	FieldOpen  string
	FieldClose string
	// LastInsertID is the "select last insert id" fragment. Empty means the
	// provider has no such query.
	LastInsertID string
	// SeparateLastInsertID runs LastInsertID as its own statement on the same
	// connection instead of appending it to the insert.
	SeparateLastInsertID bool
	Bind                 BindStyle
}

// DialectFor returns the preset for driver.
func DialectFor(driver DriverType) Dialect {
	switch driver {
	case MySQL:
		return Dialect{FieldOpen: "`", FieldClose: "`", LastInsertID: "SELECT LAST_INSERT_ID()", SeparateLastInsertID: true, Bind: BindQuestion}
	case PostgreSQL:
		return Dialect{FieldOpen: `"`, FieldClose: `"`, LastInsertID: "SELECT lastval()", SeparateLastInsertID: true, Bind: BindDollar}
	case SQLServer:
		return Dialect{FieldOpen: "[", FieldClose: "]", LastInsertID: "; SELECT CAST(SCOPE_IDENTITY() AS BIGINT)", Bind: BindNamed}
	case Oracle:
		return Dialect{FieldOpen: `"`, FieldClose: `"`, Bind: BindColon}
	default:
		// SQLite: last_insert_rowid() is per connection, the pinned handle keeps it valid
		return Dialect{FieldOpen: "[", FieldClose: "]", LastInsertID: "SELECT last_insert_rowid()", SeparateLastInsertID: true, Bind: BindNamed}
	}
}

// DialectOverride is the optional [dialect] configuration section. Empty
// fields keep the driver preset.
type DialectOverride struct {
	FieldOpen    string `toml:"field_open"`
	FieldClose   string `toml:"field_close"`
	LastInsertID string `toml:"last_insert_id"`
	Separate     *bool  `toml:"separate_last_insert_id"`
}

func (o *DialectOverride) apply(d Dialect) Dialect {
	if o == nil {
		return d
	}
	if o.FieldOpen != "" {
		d.FieldOpen = o.FieldOpen
	}
	if o.FieldClose != "" {
		d.FieldClose = o.FieldClose
	}
	if o.LastInsertID != "" {
		d.LastInsertID = o.LastInsertID
	}
	if o.Separate != nil {
		d.SeparateLastInsertID = *o.Separate
	}
	return d
}

// bindParameters turns the built SQL text and its ordered parameters into
// the driver-ready text and argument list.
//
// Markers inside quoted strings, quoted identifiers and bracketed
// identifiers are left alone, as is the @@ system-variable prefix. A marker
// matches the longest known parameter name that ends where the name run
// ends or right before a '-', so "@p0-1" binds @p0 and keeps "-1".
func (d Dialect) bindParameters(text string, params []BoundParameter) (string, []interface{}, error) {
	if len(params) == 0 {
		return text, nil, nil
	}

	values := make(map[string]interface{}, len(params))
	for _, p := range params {
		if _, ok := values[p.Name]; !ok {
			values[p.Name] = p.Value
		}
	}

	var (
		legal map[string]string
		args  = make([]interface{}, 0, len(params))
	)
	if d.Bind == BindNamed {
		legal = legalParamNames(params)
		seen := make(map[string]bool, len(params))
		for _, p := range params {
			if seen[p.Name] {
				continue
			}
			seen[p.Name] = true
			args = append(args, sql.Named(strings.TrimPrefix(legal[p.Name], namedParamPrefix), values[p.Name]))
		}
	}

	var b strings.Builder
	b.Grow(len(text) + 8)
	var quote byte // 0, '\'', '"', '`' or ']'

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if quote != 0 {
			b.WriteByte(ch)
			if ch == quote {
				// '' 转义
				if quote == '\'' && i+1 < len(text) && text[i+1] == '\'' {
					b.WriteByte('\'')
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch ch {
		case '\'', '"', '`':
			quote = ch
			b.WriteByte(ch)
			continue
		case '[':
			quote = ']'
			b.WriteByte(ch)
			continue
		case '@':
			if i+1 < len(text) && text[i+1] == '@' {
				b.WriteString("@@")
				i++
				continue
			}
			end := i + 1
			for end < len(text) && isParamNameByte(text[end]) {
				end++
			}
			if end == i+1 {
				b.WriteByte(ch)
				continue
			}
			name, ok := matchParamName(text[i:end], values)
			if !ok {
				if d.Bind == BindNamed {
					// 模板自带的变量（如 T-SQL 的 DECLARE @x）原样保留
					b.WriteString(text[i:end])
					i = end - 1
					continue
				}
				return "", nil, newError(ErrCodeParameterValueMissing, "no value bound for parameter '%s'", text[i:end])
			}
			switch d.Bind {
			case BindNamed:
				b.WriteString(legal[name])
			case BindDollar:
				args = append(args, values[name])
				b.WriteString("$" + strconv.Itoa(len(args)))
			case BindColon:
				args = append(args, values[name])
				b.WriteString(":" + strconv.Itoa(len(args)))
			default:
				args = append(args, values[name])
				b.WriteByte('?')
			}
			i += len(name) - 1
			continue
		}
		b.WriteByte(ch)
	}
	return b.String(), args, nil
}

// matchParamName returns the longest known name among run and its prefixes
// ending right before a '-'.
func matchParamName(run string, values map[string]interface{}) (string, bool) {
	if _, ok := values[run]; ok {
		return run, true
	}
	for k := len(run) - 1; k > 1; k-- {
		if run[k] != '-' {
			continue
		}
		if _, ok := values[run[:k]]; ok {
			return run[:k], true
		}
	}
	return "", false
}

// legalParamNames maps every parameter name to one drivers accept as a
// named argument: '-' becomes '_', with a numeric suffix on collision.
func legalParamNames(params []BoundParameter) map[string]string {
	legal := make(map[string]string, len(params))
	used := make(map[string]bool, len(params))
	for _, p := range params {
		if !strings.Contains(p.Name, "-") {
			legal[p.Name] = p.Name
			used[p.Name] = true
		}
	}
	for _, p := range params {
		if _, ok := legal[p.Name]; ok {
			continue
		}
		base := strings.ReplaceAll(p.Name, "-", "_")
		name := base
		for n := 1; used[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		legal[p.Name] = name
		used[name] = true
	}
	return legal
}

func isParamNameByte(c byte) bool {
	return c == '_' || c == '-' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
