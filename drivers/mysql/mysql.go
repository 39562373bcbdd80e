// Package mysql registers the MySQL driver (github.com/go-sql-driver/mysql)
// under the "mysql" driver name.
//
//	import _ "github.com/zzguang83325/dbmap/drivers/mysql"
//
// dbmap resolves generated ids on MySQL with SELECT LAST_INSERT_ID() on the
// same connection, so no DSN option is needed for that.
package mysql

import (
	_ "github.com/go-sql-driver/mysql" // MySQL驱动
)
