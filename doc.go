/*
Package dbmap is a small, database-agnostic data-access layer built around
named SQL templates and entity meta-names.

Statements are written once per operation as templates with numbered slots
and filled at call time with meta-names that resolve through a mapping of
entity properties to columns:

	#              next auto-named parameter (@p0, @p1, ...)
	@name          a named parameter
	%UL%text       raw text, inserted verbatim
	%text          a sanitized literal, enclosed like an identifier
	Table:Prop     a column of another entity, [Table].[Col]
	Prop           a column of the request entity, [Col]

Supported databases are MySQL, PostgreSQL, SQLite, SQL Server and Oracle;
import the matching package under drivers/ to register the driver.

Basic Usage:

	db, err := dbmap.OpenFile("dbmap.toml")
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// SELECT {0} FROM [Employee] WHERE {1} = {2}
	rows, err := db.Select(ctx, dbmap.Request{
		Key:      "Employee",
		Template: "SelectEmployees",
		Fields:   []string{"LastName", "FirstName"},
		Where:    []string{"EmployeeId", "#"},
		Values:   []interface{}{5},
	})

Every pool keeps one backup connection. When the native pool is exhausted,
or pooling is disabled with "pooling=false" in the DSN, requests share the
backup and their executions on it are serialized.
*/
package dbmap
