// Package oracle registers the pure-Go Oracle driver (go-ora) under the
// "oracle" driver name.
//
//	import _ "github.com/zzguang83325/dbmap/drivers/oracle"
//
// Oracle has no session-scoped last-insert-id query; configure
// [dialect].last_insert_id or avoid InsertReturningID.
package oracle

import (
	_ "github.com/sijms/go-ora/v2" // Oracle驱动
)
