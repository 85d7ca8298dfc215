// Package eventstore implements an append-only event store for
// event-sourced aggregates: transactional appends with optimistic
// concurrency control, snapshot-aware ordered replays, and criteria-filtered
// visitation of the global timeline.
package eventstore

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/snowflk/mnemodb/eventstore/criteria"
	"github.com/snowflk/mnemodb/eventstore/serialization"
	"github.com/snowflk/mnemodb/eventstore/upcasting"
)

// EventStore is the public surface of the engine. It is safe for concurrent
// use once configured; configuration happens at construction time.
type EventStore struct {
	entryStore EventEntryStore
	serializer serialization.Serializer
	factory    EventEntryFactory
	chain      upcasting.UpcasterChain
	resolver   PersistenceExceptionResolver

	batchSize            int
	maxSnapshotsArchived int
}

type Option func(*EventStore)

// WithBatchSize sets the prefetch size of read cursors.
func WithBatchSize(n int) Option {
	return func(s *EventStore) {
		if n >= 1 {
			s.batchSize = n
		}
	}
}

// WithMaxSnapshotsArchived caps the number of snapshots kept per aggregate.
// Zero means unbounded.
func WithMaxSnapshotsArchived(n int) Option {
	return func(s *EventStore) { s.maxSnapshotsArchived = n }
}

// WithUpcasterChain installs the chain applied to rows at read time.
func WithUpcasterChain(chain upcasting.UpcasterChain) Option {
	return func(s *EventStore) {
		if chain == nil {
			chain = upcasting.Identity()
		}
		s.chain = chain
	}
}

// WithPersistenceExceptionResolver overrides the translator for integrity
// violations. Passing nil disables translation entirely, letting backend
// errors pass through.
func WithPersistenceExceptionResolver(r PersistenceExceptionResolver) Option {
	return func(s *EventStore) { s.resolver = r }
}

// WithEventEntryFactory overrides how rows are built from messages.
func WithEventEntryFactory(f EventEntryFactory) Option {
	return func(s *EventStore) { s.factory = f }
}

// New creates an event store over the given entry store. When the entry
// store itself knows how to classify duplicate-key violations, it becomes
// the default persistence exception resolver.
func New(entryStore EventEntryStore, serializer serialization.Serializer, opts ...Option) *EventStore {
	s := &EventStore{
		entryStore: entryStore,
		serializer: serializer,
		factory:    DefaultEventEntryFactory{},
		chain:      upcasting.Identity(),
		batchSize:  DefaultBatchSize,
	}
	if r, ok := entryStore.(PersistenceExceptionResolver); ok {
		s.resolver = r
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewCriteriaBuilder returns a fresh criteria builder scoped to the entry
// store's column vocabulary.
func (s *EventStore) NewCriteriaBuilder() *criteria.Builder {
	return criteria.NewBuilder()
}

// AppendEvents persists the given events in order. The caller's transaction
// must roll back when an error is returned partway; partial appends are not
// allowed to become visible.
func (s *EventStore) AppendEvents(events ...*DomainEventMessage) error {
	for _, event := range events {
		entry, err := s.buildEntry(event, true)
		if err != nil {
			return err
		}
		if err := s.entryStore.PersistEvent(entry); err != nil {
			if s.resolver != nil && s.resolver.IsDuplicateKeyViolation(err) {
				return &ConcurrencyError{
					Message: fmt.Sprintf(
						"concurrent modification detected: an event for aggregate %s at sequence number %d is already present",
						event.AggregateIdentifier(), event.SequenceNumber()),
					Cause: err,
				}
			}
			return err
		}
	}
	return nil
}

// AppendSnapshotEvent persists one snapshot row and prunes old snapshots
// when a cap is configured.
func (s *EventStore) AppendSnapshotEvent(event *DomainEventMessage) error {
	entry, err := s.buildEntry(event, false)
	if err != nil {
		return err
	}
	if err := s.entryStore.PersistSnapshot(entry); err != nil {
		if s.resolver != nil && s.resolver.IsDuplicateKeyViolation(err) {
			return &ConcurrencyError{
				Message: fmt.Sprintf(
					"a snapshot for aggregate %s at sequence number %d is already present",
					event.AggregateIdentifier(), event.SequenceNumber()),
				Cause: err,
			}
		}
		return err
	}
	if s.maxSnapshotsArchived > 0 {
		return s.entryStore.PruneSnapshots(event.AggregateIdentifier(), s.maxSnapshotsArchived)
	}
	return nil
}

func (s *EventStore) buildEntry(event *DomainEventMessage, domain bool) (*DomainEventEntry, error) {
	payloadValue, err := event.Payload()
	if err != nil {
		return nil, err
	}
	metaValue, err := event.MetaData()
	if err != nil {
		return nil, err
	}
	payload, err := s.serializer.Serialize(payloadValue)
	if err != nil {
		return nil, err
	}
	metaData, err := s.serializer.Serialize(map[string]interface{}(metaValue))
	if err != nil {
		return nil, err
	}
	if domain {
		return s.factory.CreateDomainEventEntry(event, payload, metaData), nil
	}
	return s.factory.CreateSnapshotEventEntry(event, payload, metaData), nil
}

// ReadEvents replays the aggregate's full stream. When a usable snapshot
// exists, it is emitted first and streaming continues after its sequence
// number; a snapshot that fails to reify is treated as absent.
func (s *EventStore) ReadEvents(aggregateID string) (*DomainEventStream, error) {
	snapshot, err := s.loadSnapshotMessage(aggregateID)
	if err != nil {
		return nil, err
	}
	var firstSeq uint64
	if snapshot != nil {
		firstSeq = snapshot.SequenceNumber() + 1
	}
	return s.assembleStream(aggregateID, snapshot, firstSeq, math.MaxUint64)
}

// ReadEventsFrom replays events with sequence numbers at or above firstSeq,
// ignoring snapshots entirely.
func (s *EventStore) ReadEventsFrom(aggregateID string, firstSeq uint64) (*DomainEventStream, error) {
	return s.assembleStream(aggregateID, nil, firstSeq, math.MaxUint64)
}

// ReadEventsBetween replays events with sequence numbers in
// [firstSeq, lastSeq] inclusive, ignoring snapshots entirely.
func (s *EventStore) ReadEventsBetween(aggregateID string, firstSeq, lastSeq uint64) (*DomainEventStream, error) {
	return s.assembleStream(aggregateID, nil, firstSeq, lastSeq)
}

func (s *EventStore) assembleStream(aggregateID string, snapshot *DomainEventMessage, firstSeq, lastSeq uint64) (*DomainEventStream, error) {
	cursor, err := s.entryStore.FetchAggregateStream(aggregateID, firstSeq, s.batchSize)
	if err != nil {
		return nil, err
	}
	stream := newDomainEventStream(snapshot, cursor, s.serializer, s.chain, lastSeq)
	if stream.err != nil {
		err := stream.err
		stream.Close()
		return nil, err
	}
	if !stream.HasNext() {
		stream.Close()
		return nil, &EventStreamNotFoundError{AggregateIdentifier: aggregateID}
	}
	return stream, nil
}

// loadSnapshotMessage loads the newest snapshot and reifies it eagerly.
// Storage errors propagate; reification failures fall back to a full replay.
func (s *EventStore) loadSnapshotMessage(aggregateID string) (msg *DomainEventMessage, err error) {
	entry, loadErr := s.entryStore.LoadLastSnapshotEvent(aggregateID)
	if loadErr != nil {
		return nil, loadErr
	}
	if entry == nil {
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Warnf("snapshot for aggregate %s at sequence %d could not be reconstructed (%v), replaying full stream",
				aggregateID, entry.SequenceNumber, r)
			msg, err = nil, nil
		}
	}()

	msgs, buildErr := upcastAndDeserialize(entry, s.serializer, upcasting.Identity(), false)
	if buildErr != nil || len(msgs) == 0 {
		log.Warnf("snapshot for aggregate %s at sequence %d could not be reconstructed (%v), replaying full stream",
			aggregateID, entry.SequenceNumber, buildErr)
		return nil, nil
	}
	snapshot := msgs[0]
	if _, buildErr = snapshot.Payload(); buildErr != nil {
		log.Warnf("snapshot for aggregate %s at sequence %d could not be deserialized (%v), replaying full stream",
			aggregateID, entry.SequenceNumber, buildErr)
		return nil, nil
	}
	if _, buildErr = snapshot.MetaData(); buildErr != nil {
		log.Warnf("snapshot metadata for aggregate %s at sequence %d could not be deserialized (%v), replaying full stream",
			aggregateID, entry.SequenceNumber, buildErr)
		return nil, nil
	}
	return snapshot, nil
}

// VisitEvents visits every domain row in timestamp order.
func (s *EventStore) VisitEvents(visitor EventVisitor) error {
	return s.VisitEventsMatching(nil, visitor)
}

// VisitEventsMatching visits every domain row matching the criteria, in
// timestamp order. Each row produces one visit per upcaster output; payload
// reification is deferred, so rows with unresolvable types are still
// visited.
func (s *EventStore) VisitEventsMatching(c criteria.Criteria, visitor EventVisitor) error {
	cursor, err := s.entryStore.Visit(c, s.batchSize)
	if err != nil {
		return err
	}
	defer cursor.Close()

	for cursor.Next() {
		msgs, err := upcastAndDeserialize(cursor.Entry(), s.serializer, s.chain, true)
		if err != nil {
			return err
		}
		for _, msg := range msgs {
			if err := visitor.DoWithEvent(msg); err != nil {
				return err
			}
		}
	}
	return cursor.Err()
}
