// Package sqlite registers github.com/mattn/go-sqlite3 (cgo) under the
// "sqlite3" driver name.
//
//	import _ "github.com/zzguang83325/dbmap/drivers/sqlite"
package sqlite

import (
	_ "github.com/mattn/go-sqlite3" // SQLite驱动
)
