package sqlstore

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPostgresRewrite(t *testing.T) {
	d := postgresDialect{}
	assert.Equal(t,
		"INSERT INTO t (a, b, c) VALUES ($1, $2, $3)",
		d.rewrite("INSERT INTO t (a, b, c) VALUES (?, ?, ?)"))
	assert.Equal(t,
		"SELECT * FROM t WHERE a = $1 AND b >= $2 LIMIT $3 OFFSET $4",
		d.rewrite("SELECT * FROM t WHERE a = ? AND b >= ? LIMIT ? OFFSET ?"))
	assert.Equal(t, "SELECT 1", d.rewrite("SELECT 1"))
}

func TestMySQLRewriteIsIdentity(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? LIMIT ?"
	assert.Equal(t, q, mysqlDialect{}.rewrite(q))
}

func TestResolverClassifiesPostgresErrors(t *testing.T) {
	r := SQLErrorCodesResolver{}
	assert.True(t, r.IsDuplicateKeyViolation(&pq.Error{Code: "23505"}))
	assert.True(t, r.IsDuplicateKeyViolation(
		errors.Wrap(&pq.Error{Code: "23000"}, "unable to persist an event entry")))
	assert.False(t, r.IsDuplicateKeyViolation(&pq.Error{Code: "42601"}))
}

func TestResolverClassifiesMySQLErrors(t *testing.T) {
	r := SQLErrorCodesResolver{}
	assert.True(t, r.IsDuplicateKeyViolation(&mysql.MySQLError{Number: 1062}))
	assert.True(t, r.IsDuplicateKeyViolation(
		errors.Wrap(&mysql.MySQLError{Number: 1586}, "unable to persist an event entry")))
	assert.False(t, r.IsDuplicateKeyViolation(&mysql.MySQLError{Number: 1040}))
}

func TestResolverIgnoresOtherErrors(t *testing.T) {
	r := SQLErrorCodesResolver{}
	assert.False(t, r.IsDuplicateKeyViolation(nil))
	assert.False(t, r.IsDuplicateKeyViolation(errors.New("connection refused")))
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	_, err := New(nil, Options{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewAppliesDefaultTables(t *testing.T) {
	s, err := New(nil, Options{Driver: "postgres"})
	assert.NoError(t, err)
	assert.Equal(t, DefaultEventsTable, s.eventsTable)
	assert.Equal(t, DefaultSnapshotsTable, s.snapshotsTable)
}

func TestColumnMapping(t *testing.T) {
	assert.Equal(t, "time_stamp", columnFor("timeStamp"))
	assert.Equal(t, "payload_type", columnFor("type"))
	assert.Equal(t, "aggregate_identifier", columnFor("aggregateIdentifier"))
	assert.Equal(t, "sequence_number", columnFor("sequenceNumber"))
	assert.Equal(t, "custom_column", columnFor("custom_column"))
}
