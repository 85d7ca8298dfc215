package sqlstore

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// mysql duplicate-key error numbers
const (
	mysqlDuplicateEntry        = 1062
	mysqlCantWriteDuplicateKey = 1022
	mysqlDuplicateEntryWithKey = 1586
)

// SQLErrorCodesResolver classifies driver errors by their integrity
// constraint metadata: SQL state class 23 for PostgreSQL, the duplicate-key
// error numbers for MySQL.
type SQLErrorCodesResolver struct{}

func (SQLErrorCodesResolver) IsDuplicateKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry, mysqlCantWriteDuplicateKey, mysqlDuplicateEntryWithKey:
			return true
		}
	}
	return false
}
