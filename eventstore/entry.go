package eventstore

import (
	"time"

	"github.com/pkg/errors"

	"github.com/snowflk/mnemodb/eventstore/criteria"
	"github.com/snowflk/mnemodb/eventstore/serialization"
)

// DefaultBatchSize is the prefetch size of entry cursors.
const DefaultBatchSize = 100

// DomainEventEntry is the persisted form of an event message. The same shape
// is used for domain rows and snapshot rows; they live in separate entity
// sets. Entries are immutable once written.
type DomainEventEntry struct {
	EventIdentifier     string
	AggregateIdentifier string
	SequenceNumber      uint64
	// Timestamp is epoch milliseconds, resolved from the event's instant
	// at row construction time.
	Timestamp       int64
	PayloadType     string
	PayloadRevision string
	Payload         []byte
	MetaData        []byte
}

// PropertyValue exposes entry columns to the criteria engine.
func (e *DomainEventEntry) PropertyValue(name string) (interface{}, error) {
	switch name {
	case criteria.PropertyTimestamp:
		return e.Timestamp, nil
	case criteria.PropertyType:
		return e.PayloadType, nil
	case criteria.PropertyAggregateIdentifier:
		return e.AggregateIdentifier, nil
	case criteria.PropertySequenceNumber:
		return e.SequenceNumber, nil
	}
	return nil, errors.Errorf("unknown event entry property %q", name)
}

// EntryCursor is a forward-only cursor over persisted entries, delivered in
// lazily fetched batches. Close releases all backing resources; a cursor
// that ran to exhaustion has already released them.
type EntryCursor interface {
	Next() bool
	Entry() *DomainEventEntry
	Err() error
	Close() error
}

// EventEntryStore abstracts the physical backend holding event entries.
// Every operation runs on the session supplied by the caller's transaction
// scope; the store never begins or ends transactions itself.
type EventEntryStore interface {
	// PersistEvent inserts one domain row. An integrity violation on
	// either uniqueness invariant surfaces as a backend error the
	// persistence exception resolver can classify.
	PersistEvent(entry *DomainEventEntry) error

	// PersistSnapshot inserts one snapshot row, with the same violation
	// semantics as PersistEvent.
	PersistSnapshot(entry *DomainEventEntry) error

	// FetchAggregateStream returns an ascending cursor over the domain
	// rows of one aggregate, starting at firstSequenceNumber.
	FetchAggregateStream(aggregateID string, firstSequenceNumber uint64, batchSize int) (EntryCursor, error)

	// LoadLastSnapshotEvent returns the snapshot row with the highest
	// sequence number for the aggregate, or nil when none exists.
	LoadLastSnapshotEvent(aggregateID string) (*DomainEventEntry, error)

	// PruneSnapshots deletes all but the newest mostRecentToKeep
	// snapshots of the aggregate.
	PruneSnapshots(aggregateID string, mostRecentToKeep int) error

	// Visit returns a cursor over all domain rows matching c (nil matches
	// everything), ordered by timestamp, then aggregate identifier, then
	// sequence number.
	Visit(c criteria.Criteria, batchSize int) (EntryCursor, error)
}

// EventEntryFactory builds persisted rows from event messages and owns the
// instant-to-long timestamp conversion.
type EventEntryFactory interface {
	CreateDomainEventEntry(msg *DomainEventMessage, payload, metaData serialization.SerializedObject) *DomainEventEntry
	CreateSnapshotEventEntry(msg *DomainEventMessage, payload, metaData serialization.SerializedObject) *DomainEventEntry
	ResolveDateTimeValue(t time.Time) int64
}

// DefaultEventEntryFactory stores timestamps as epoch milliseconds.
type DefaultEventEntryFactory struct{}

func (f DefaultEventEntryFactory) CreateDomainEventEntry(msg *DomainEventMessage, payload, metaData serialization.SerializedObject) *DomainEventEntry {
	return f.newEntry(msg, payload, metaData)
}

func (f DefaultEventEntryFactory) CreateSnapshotEventEntry(msg *DomainEventMessage, payload, metaData serialization.SerializedObject) *DomainEventEntry {
	return f.newEntry(msg, payload, metaData)
}

func (f DefaultEventEntryFactory) ResolveDateTimeValue(t time.Time) int64 {
	return epochMillis(t)
}

func (f DefaultEventEntryFactory) newEntry(msg *DomainEventMessage, payload, metaData serialization.SerializedObject) *DomainEventEntry {
	return &DomainEventEntry{
		EventIdentifier:     msg.EventIdentifier(),
		AggregateIdentifier: msg.AggregateIdentifier(),
		SequenceNumber:      msg.SequenceNumber(),
		Timestamp:           f.ResolveDateTimeValue(msg.Timestamp()),
		PayloadType:         payload.Type.Name,
		PayloadRevision:     payload.Type.Revision,
		Payload:             payload.Data,
		MetaData:            metaData.Data,
	}
}

func epochMillis(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}

func timeFromMillis(ms int64) time.Time {
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}
