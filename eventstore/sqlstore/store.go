// Package sqlstore persists event entries in a relational database through
// database/sql, with PostgreSQL and MySQL dialects.
package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/snowflk/mnemodb/eventstore"
	"github.com/snowflk/mnemodb/eventstore/criteria"
)

const entryColumns = "event_identifier, aggregate_identifier, sequence_number, time_stamp, payload_type, payload_revision, payload, meta_data"

const (
	DefaultEventsTable    = "domain_event_entry"
	DefaultSnapshotsTable = "snapshot_event_entry"
)

type Options struct {
	// Driver is "postgres" or "mysql".
	Driver string
	// EventsTable and SnapshotsTable override the entity-set names.
	EventsTable    string
	SnapshotsTable string
}

// Store is a direct-SQL event entry store. It implements
// eventstore.EventEntryStore and acts as its own persistence exception
// resolver.
type Store struct {
	provider       ConnectionProvider
	d              dialect
	resolver       SQLErrorCodesResolver
	eventsTable    string
	snapshotsTable string
}

// New creates a store that obtains its session from the given provider on
// every operation.
func New(provider ConnectionProvider, options Options) (*Store, error) {
	var d dialect
	switch options.Driver {
	case "postgres":
		d = postgresDialect{}
	case "mysql":
		d = mysqlDialect{}
	default:
		return nil, errors.Errorf("unsupported driver %q", options.Driver)
	}
	s := &Store{
		provider:       provider,
		d:              d,
		eventsTable:    options.EventsTable,
		snapshotsTable: options.SnapshotsTable,
	}
	if s.eventsTable == "" {
		s.eventsTable = DefaultEventsTable
	}
	if s.snapshotsTable == "" {
		s.snapshotsTable = DefaultSnapshotsTable
	}
	return s, nil
}

// NewWithDB creates a store bound to a single *sql.DB.
func NewWithDB(db *sql.DB, options Options) (*Store, error) {
	return New(func() DBTX { return db }, options)
}

// CreateSchema creates both entry tables and the timestamp indices.
func (s *Store) CreateSchema() error {
	db := s.provider()
	for _, table := range []string{s.eventsTable, s.snapshotsTable} {
		if err := s.d.createEntryTable(db, table); err != nil {
			return errors.Wrapf(err, "failed to create table %s", table)
		}
		if err := s.d.createTimestampIndex(db, table); err != nil {
			return errors.Wrapf(err, "failed to index table %s", table)
		}
	}
	return nil
}

// IsDuplicateKeyViolation lets the store serve as the default persistence
// exception resolver of the facade.
func (s *Store) IsDuplicateKeyViolation(err error) bool {
	return s.resolver.IsDuplicateKeyViolation(err)
}

func (s *Store) PersistEvent(entry *eventstore.DomainEventEntry) error {
	return s.persist(s.eventsTable, "an event", entry)
}

func (s *Store) PersistSnapshot(entry *eventstore.DomainEventEntry) error {
	return s.persist(s.snapshotsTable, "a snapshot", entry)
}

func (s *Store) persist(table, kind string, e *eventstore.DomainEventEntry) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", table, entryColumns)
	_, err := s.provider().Exec(s.d.rewrite(q),
		e.EventIdentifier,
		e.AggregateIdentifier,
		int64(e.SequenceNumber),
		e.Timestamp,
		e.PayloadType,
		e.PayloadRevision,
		e.Payload,
		e.MetaData,
	)
	if err != nil {
		return errors.Wrapf(err, "unable to persist %s entry to %s", kind, table)
	}
	return nil
}

func (s *Store) FetchAggregateStream(aggregateID string, firstSequenceNumber uint64, batchSize int) (eventstore.EntryCursor, error) {
	if batchSize < 1 {
		batchSize = eventstore.DefaultBatchSize
	}
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE aggregate_identifier = ? AND sequence_number >= ? ORDER BY sequence_number ASC LIMIT ?",
		entryColumns, s.eventsTable)
	nextSeq := int64(firstSequenceNumber)
	done := false
	return eventstore.NewBatchCursor(func() ([]*eventstore.DomainEventEntry, error) {
		if done {
			return nil, nil
		}
		batch, err := s.queryEntries(q, aggregateID, nextSeq, batchSize)
		if err != nil {
			return nil, err
		}
		if len(batch) < batchSize {
			done = true
		}
		if len(batch) > 0 {
			nextSeq = int64(batch[len(batch)-1].SequenceNumber) + 1
		}
		return batch, nil
	}), nil
}

func (s *Store) LoadLastSnapshotEvent(aggregateID string) (*eventstore.DomainEventEntry, error) {
	q := fmt.Sprintf(
		"SELECT %s FROM %s WHERE aggregate_identifier = ? ORDER BY sequence_number DESC LIMIT 1",
		entryColumns, s.snapshotsTable)
	batch, err := s.queryEntries(q, aggregateID)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	return batch[0], nil
}

func (s *Store) PruneSnapshots(aggregateID string, mostRecentToKeep int) error {
	db := s.provider()
	q := fmt.Sprintf(
		"SELECT sequence_number FROM %s WHERE aggregate_identifier = ? ORDER BY sequence_number DESC LIMIT 1 OFFSET ?",
		s.snapshotsTable)
	var threshold int64
	err := db.QueryRow(s.d.rewrite(q), aggregateID, mostRecentToKeep).Scan(&threshold)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "unable to locate prune threshold in %s", s.snapshotsTable)
	}
	q = fmt.Sprintf("DELETE FROM %s WHERE aggregate_identifier = ? AND sequence_number <= ?", s.snapshotsTable)
	if _, err := db.Exec(s.d.rewrite(q), aggregateID, threshold); err != nil {
		return errors.Wrapf(err, "unable to prune snapshots from %s", s.snapshotsTable)
	}
	return nil
}

func (s *Store) Visit(c criteria.Criteria, batchSize int) (eventstore.EntryCursor, error) {
	if batchSize < 1 {
		batchSize = eventstore.DefaultBatchSize
	}
	var where string
	var whereArgs []interface{}
	if c != nil {
		var sb strings.Builder
		c.ParseInto(columnFor, &sb, &whereArgs)
		where = " WHERE " + sb.String()
	}
	q := fmt.Sprintf(
		"SELECT %s FROM %s%s ORDER BY time_stamp ASC, aggregate_identifier ASC, sequence_number ASC LIMIT ? OFFSET ?",
		entryColumns, s.eventsTable, where)

	offset := 0
	done := false
	return eventstore.NewBatchCursor(func() ([]*eventstore.DomainEventEntry, error) {
		if done {
			return nil, nil
		}
		args := append(append([]interface{}{}, whereArgs...), batchSize, offset)
		batch, err := s.queryEntries(q, args...)
		if err != nil {
			return nil, err
		}
		if len(batch) < batchSize {
			done = true
		}
		offset += len(batch)
		return batch, nil
	}), nil
}

// CountSnapshots reports how many snapshot rows an aggregate currently has.
func (s *Store) CountSnapshots(aggregateID string) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE aggregate_identifier = ?", s.snapshotsTable)
	var count int
	err := s.provider().QueryRow(s.d.rewrite(q), aggregateID).Scan(&count)
	return count, err
}

// queryEntries runs a SELECT over entry columns and materializes the full
// result before returning, closing the rows on every path. This is what
// keeps the cursor contract: no statement or result set outlives a batch.
func (s *Store) queryEntries(q string, args ...interface{}) ([]*eventstore.DomainEventEntry, error) {
	rows, err := s.provider().Query(s.d.rewrite(q), args...)
	if err != nil {
		return nil, errors.Wrap(err, "event entry query failed")
	}
	defer rows.Close()

	entries := make([]*eventstore.DomainEventEntry, 0)
	for rows.Next() {
		var e eventstore.DomainEventEntry
		var seq int64
		if err := rows.Scan(
			&e.EventIdentifier,
			&e.AggregateIdentifier,
			&seq,
			&e.Timestamp,
			&e.PayloadType,
			&e.PayloadRevision,
			&e.Payload,
			&e.MetaData,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan event entry")
		}
		e.SequenceNumber = uint64(seq)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "event entry iteration failed")
	}
	return entries, nil
}

func columnFor(property string) string {
	switch property {
	case criteria.PropertyTimestamp:
		return "time_stamp"
	case criteria.PropertyType:
		return "payload_type"
	case criteria.PropertyAggregateIdentifier:
		return "aggregate_identifier"
	case criteria.PropertySequenceNumber:
		return "sequence_number"
	}
	return property
}
