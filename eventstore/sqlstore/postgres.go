package sqlstore

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

type postgresDialect struct{}

func (postgresDialect) createEntryTable(db DBTX, table string) error {
	_, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s
			(
				event_identifier     VARCHAR(255) NOT NULL UNIQUE,
				aggregate_identifier VARCHAR(255) NOT NULL,
				sequence_number      BIGINT       NOT NULL,
				time_stamp           BIGINT       NOT NULL,
				payload_type         VARCHAR(255) NOT NULL,
				payload_revision     VARCHAR(255) NOT NULL DEFAULT '',
				payload              BYTEA        NOT NULL,
				meta_data            BYTEA        NOT NULL,
				PRIMARY KEY (aggregate_identifier, sequence_number)
			);
	`, table))
	return err
}

func (postgresDialect) createTimestampIndex(db DBTX, table string) error {
	_, err := db.Exec(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS index_%s_time_stamp ON %s(time_stamp);", table, table))
	return err
}

func (postgresDialect) rewrite(q string) string {
	counter := 1
	for i := strings.Index(q, "?"); i >= 0; i = strings.Index(q, "?") {
		q = strings.Replace(q, "?", fmt.Sprintf("$%d", counter), 1)
		counter++
	}
	return q
}
