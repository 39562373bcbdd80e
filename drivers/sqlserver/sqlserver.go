// Package sqlserver registers github.com/denisenkom/go-mssqldb under the
// "sqlserver" driver name.
//
//	import _ "github.com/zzguang83325/dbmap/drivers/sqlserver"
//
// Generated ids are read with SCOPE_IDENTITY() appended to the insert
// batch, which keeps them scoped to the statement's session.
package sqlserver

import (
	_ "github.com/denisenkom/go-mssqldb" // SQL Server驱动
)
