package sqlstore

import "database/sql"

// DBTX is the subset of database/sql operations the store needs. It is
// satisfied by both *sql.DB and *sql.Tx, so the store runs on whatever
// session the caller's transaction scope supplies.
type DBTX interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// ConnectionProvider supplies the session for each operation. The store
// never begins, commits or rolls back transactions itself.
type ConnectionProvider func() DBTX

type dialect interface {
	// rewrite adapts `?` placeholders to the driver's parameter syntax.
	rewrite(q string) string
	createEntryTable(db DBTX, table string) error
	createTimestampIndex(db DBTX, table string) error
}
