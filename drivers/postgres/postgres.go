// Package postgres registers the pgx stdlib driver under the "postgres"
// driver name.
//
//	import _ "github.com/zzguang83325/dbmap/drivers/postgres"
package postgres

import (
	"database/sql"

	"github.com/jackc/pgx/v5/stdlib"
)

func init() {
	// 注册pgx驱动为"postgres"名称
	sql.Register("postgres", stdlib.GetDefaultDriver())
}
