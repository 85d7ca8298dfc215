package sqlstore

import (
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

func (mysqlDialect) createEntryTable(db DBTX, table string) error {
	_, err := db.Exec(fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s
			(
				event_identifier     VARCHAR(255) NOT NULL UNIQUE,
				aggregate_identifier VARCHAR(255) NOT NULL,
				sequence_number      BIGINT       NOT NULL,
				time_stamp           BIGINT       NOT NULL,
				payload_type         VARCHAR(255) NOT NULL,
				payload_revision     VARCHAR(255) NOT NULL DEFAULT '',
				payload              BLOB         NOT NULL,
				meta_data            BLOB         NOT NULL,
				PRIMARY KEY (aggregate_identifier, sequence_number)
			);
	`, table))
	return err
}

func (d mysqlDialect) createTimestampIndex(db DBTX, table string) error {
	indexName := fmt.Sprintf("index_%s_time_stamp", table)
	existed, err := d.isIndexExisted(db, table, indexName)
	if err != nil {
		return err
	}
	if !existed {
		_, err = db.Exec(fmt.Sprintf("CREATE INDEX %s ON %s(time_stamp);", indexName, table))
	}
	return err
}

func (mysqlDialect) isIndexExisted(db DBTX, tableName, indexName string) (bool, error) {
	row := db.QueryRow(fmt.Sprintf(`
						SELECT COUNT(*)
						FROM information_schema.statistics
						WHERE TABLE_SCHEMA = DATABASE()
							AND TABLE_NAME = '%s'
							AND INDEX_NAME = '%s';`, tableName, indexName))
	var counter uint64
	if err := row.Scan(&counter); err != nil {
		return false, err
	}
	return counter >= 1, nil
}

func (mysqlDialect) rewrite(q string) string {
	return q
}
