package testsuite

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/snowflk/mnemodb/eventstore"
	"github.com/snowflk/mnemodb/eventstore/serialization"
	"github.com/snowflk/mnemodb/eventstore/upcasting"
)

func (s *EventStoreSuite) TestStoreAndLoadEvents() {
	aggregateID1 := uuid.New().String()
	aggregateID2 := uuid.New().String()
	s.Require().NoError(s.store.AppendEvents(s.generateEvents(aggregateID1, 0, 10)...))
	s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessageWithMetaData(
		aggregateID2, 0, "other payload", eventstore.MetaData{"key": "Value"})))

	stream, err := s.store.ReadEvents(aggregateID1)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Assert().Len(msgs, 10)
	for i, msg := range msgs {
		s.Assert().Equal(aggregateID1, msg.AggregateIdentifier())
		s.Assert().Equal(uint64(i), msg.SequenceNumber())
		payload, err := msg.Payload()
		s.Require().NoError(err)
		s.Assert().Equal(stubStateChanged{Message: "changed"}, payload)
	}

	other, err := s.store.ReadEvents(aggregateID2)
	s.Require().NoError(err)
	otherMsgs := s.drain(other)
	s.Require().Len(otherMsgs, 1)
	withMeta := otherMsgs[0]

	md, err := withMeta.MetaData()
	s.Require().NoError(err)
	s.Assert().Equal("Value", md["key"])

	altered := withMeta.WithMetaData(eventstore.MetaData{"key2": "value"})
	alteredMD, err := altered.MetaData()
	s.Require().NoError(err)
	s.Assert().NotContains(alteredMD, "key")
	s.Assert().Contains(alteredMD, "key2")

	combined, err := withMeta.AndMetaData(eventstore.MetaData{"key2": "value"})
	s.Require().NoError(err)
	combinedMD, err := combined.MetaData()
	s.Require().NoError(err)
	s.Assert().Contains(combinedMD, "key")
	s.Assert().Contains(combinedMD, "key2")
}

func (s *EventStoreSuite) TestLoadLargeAmountOfEvents() {
	s.loadLargeAmountOfEvents(s.store)
}

func (s *EventStoreSuite) TestLoadLargeAmountOfEventsInSmallBatches() {
	s.loadLargeAmountOfEvents(s.newStore(eventstore.WithBatchSize(10)))
}

func (s *EventStoreSuite) loadLargeAmountOfEvents(store *eventstore.EventStore) {
	aggregateID := "id"
	for i := 0; i < 110; i++ {
		s.Require().NoError(store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "Mock contents")))
	}
	stream, err := store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 110)
	for i, msg := range msgs {
		s.Assert().Equal(uint64(i), msg.SequenceNumber())
	}
}

func (s *EventStoreSuite) TestLoadLargeAmountOfEventsWithSnapshot() {
	aggregateID := "id"
	for i := 0; i < 110; i++ {
		s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "Mock contents")))
	}
	s.Require().NoError(s.store.AppendSnapshotEvent(
		eventstore.NewDomainEventMessage(aggregateID, 30, "Mock contents")))

	stream, err := s.store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 80)
	expected := uint64(30)
	for _, msg := range msgs {
		s.Assert().Equal(expected, msg.SequenceNumber())
		expected++
	}
}

func (s *EventStoreSuite) TestLoadWithSnapshotEvent() {
	aggregateID := "id"
	for i := 0; i < 4; i++ {
		s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "payload")))
	}
	s.Require().NoError(s.store.AppendSnapshotEvent(eventstore.NewDomainEventMessage(aggregateID, 3, "snapshot")))
	s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, 4, "payload")))

	stream, err := s.store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 2)

	first, err := msgs[0].Payload()
	s.Require().NoError(err)
	s.Assert().Equal("snapshot", first)
	s.Assert().Equal(uint64(3), msgs[0].SequenceNumber())

	second, err := msgs[1].Payload()
	s.Require().NoError(err)
	s.Assert().Equal("payload", second)
	s.Assert().Equal(uint64(4), msgs[1].SequenceNumber())
}

func (s *EventStoreSuite) TestInsertDuplicateSnapshot() {
	s.Require().NoError(s.store.AppendSnapshotEvent(eventstore.NewDomainEventMessage("id1", 1, "test")))
	err := s.store.AppendSnapshotEvent(eventstore.NewDomainEventMessage("id1", 1, "test"))
	s.Require().Error(err)
	s.Assert().True(eventstore.IsConcurrencyError(err))
	s.Assert().Contains(err.Error(), "snapshot")
}

func (s *EventStoreSuite) TestStoreDuplicateEvent() {
	s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage("123", 0, "Mock contents")))
	err := s.store.AppendEvents(eventstore.NewDomainEventMessage("123", 0, "Mock contents"))
	s.Require().Error(err)
	s.Assert().True(eventstore.IsConcurrencyError(err))
}

func (s *EventStoreSuite) TestStoreDuplicateEventNoResolver() {
	store := s.newStore(eventstore.WithPersistenceExceptionResolver(nil))
	s.Require().NoError(store.AppendEvents(eventstore.NewDomainEventMessage("123", 0, "Mock contents")))
	err := store.AppendEvents(eventstore.NewDomainEventMessage("123", 0, "Mock contents"))
	s.Require().Error(err)
	s.Assert().False(eventstore.IsConcurrencyError(err))
	s.Assert().Contains(strings.ToLower(err.Error()), "persist an event")
}

func (s *EventStoreSuite) TestLoadNonExistent() {
	_, err := s.store.ReadEvents(uuid.New().String())
	s.Require().Error(err)
	s.Assert().True(eventstore.IsEventStreamNotFound(err))
}

func (s *EventStoreSuite) TestReadPartialStreamWithoutEnd() {
	aggregateID := uuid.New().String()
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "Mock contents")))
	}
	s.Require().NoError(s.store.AppendSnapshotEvent(eventstore.NewDomainEventMessage(aggregateID, 3, "Mock contents")))

	stream, err := s.store.ReadEventsFrom(aggregateID, 2)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 3)
	for i, msg := range msgs {
		s.Assert().Equal(uint64(i+2), msg.SequenceNumber())
	}
}

func (s *EventStoreSuite) TestReadPartialStreamWithEnd() {
	aggregateID := uuid.New().String()
	for i := 0; i < 5; i++ {
		s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "Mock contents")))
	}
	s.Require().NoError(s.store.AppendSnapshotEvent(eventstore.NewDomainEventMessage(aggregateID, 3, "Mock contents")))

	stream, err := s.store.ReadEventsBetween(aggregateID, 2, 3)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 2)
	s.Assert().Equal(uint64(2), msgs[0].SequenceNumber())
	s.Assert().Equal(uint64(3), msgs[1].SequenceNumber())
}

func (s *EventStoreSuite) TestVisitAllEvents() {
	s.Require().NoError(s.store.AppendEvents(s.createEvents(77)...))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(23)...))

	visitor := &countingVisitor{}
	s.Require().NoError(s.store.VisitEvents(visitor))
	s.Assert().Len(visitor.visited, 100)
}

func (s *EventStoreSuite) TestVisitorErrorAbortsVisitation() {
	s.Require().NoError(s.store.AppendEvents(s.createEvents(10)...))

	visited := 0
	err := s.store.VisitEvents(eventstore.EventVisitorFunc(func(*eventstore.DomainEventMessage) error {
		visited++
		if visited == 3 {
			return errors.New("stop here")
		}
		return nil
	}))
	s.Require().Error(err)
	s.Assert().Equal(3, visited)
}

func (s *EventStoreSuite) TestVisitAllEventsIncludesUnknownEventType() {
	s.Require().NoError(s.store.AppendEvents(s.createEvents(10)...))
	s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage("test", 0, "test")))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(10)...))

	// the string event upcasts to two instances, one of an unknown type
	store := s.newStore(eventstore.WithUpcasterChain(upcasting.NewChain(stringFanOutUpcaster{})))
	visitor := &countingVisitor{}
	s.Require().NoError(store.VisitEvents(visitor))
	s.Require().Len(visitor.visited, 22)

	unknown := 0
	for _, msg := range visitor.visited {
		if _, err := msg.Payload(); err != nil {
			s.Assert().True(serialization.IsUnknownSerializedType(err))
			unknown++
		}
	}
	s.Assert().Equal(1, unknown)
}

func (s *EventStoreSuite) TestVisitEventsAfterTimestamp() {
	onePM := s.appendTimestampedEvents()

	visitor := &countingVisitor{}
	builder := s.store.NewCriteriaBuilder()
	s.Require().NoError(s.store.VisitEventsMatching(
		builder.Property("timeStamp").GreaterThan(onePM), visitor))
	s.Assert().Len(visitor.visited, 13+14)
}

func (s *EventStoreSuite) TestVisitEventsOnOrAfterTimestamp() {
	onePM := s.appendTimestampedEvents()

	visitor := &countingVisitor{}
	builder := s.store.NewCriteriaBuilder()
	s.Require().NoError(s.store.VisitEventsMatching(
		builder.Property("timeStamp").GreaterThanEquals(onePM), visitor))
	s.Assert().Len(visitor.visited, 12+13+14)
}

func (s *EventStoreSuite) TestVisitEventsBetweenTimestamps() {
	onePM := s.appendTimestampedEvents()
	twoPM := time.Date(2011, 12, 18, 14, 0, 0, 0, time.UTC)

	visitor := &countingVisitor{}
	builder := s.store.NewCriteriaBuilder()
	s.Require().NoError(s.store.VisitEventsMatching(
		builder.Property("timeStamp").GreaterThanEquals(onePM).
			And(builder.Property("timeStamp").LessThanEquals(twoPM)),
		visitor))
	s.Assert().Len(visitor.visited, 12+13)
}

// appendTimestampedEvents persists 11/12/13/14 events just before one, at
// one, at two, and just after two o'clock, and returns one o'clock.
func (s *EventStoreSuite) appendTimestampedEvents() time.Time {
	eventstore.SetClock(eventstore.FixedClock(time.Date(2011, 12, 18, 12, 59, 59, 999000000, time.UTC)))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(11)...))

	onePM := time.Date(2011, 12, 18, 13, 0, 0, 0, time.UTC)
	eventstore.SetClock(eventstore.FixedClock(onePM))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(12)...))

	eventstore.SetClock(eventstore.FixedClock(time.Date(2011, 12, 18, 14, 0, 0, 0, time.UTC)))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(13)...))

	eventstore.SetClock(eventstore.FixedClock(time.Date(2011, 12, 18, 14, 0, 0, 1000000, time.UTC)))
	s.Require().NoError(s.store.AppendEvents(s.createEvents(14)...))

	eventstore.ResetClock()
	return onePM
}

func (s *EventStoreSuite) TestVisitEventsByAggregateIdentifier() {
	aggregateID := uuid.New().String()
	s.Require().NoError(s.store.AppendEvents(s.createEvents(7)...))
	s.Require().NoError(s.store.AppendEvents(s.generateEvents(aggregateID, 0, 4)...))

	visitor := &countingVisitor{}
	builder := s.store.NewCriteriaBuilder()
	s.Require().NoError(s.store.VisitEventsMatching(
		builder.Property("aggregateIdentifier").Equals(aggregateID), visitor))
	s.Require().Len(visitor.visited, 4)
	for _, msg := range visitor.visited {
		s.Assert().Equal(aggregateID, msg.AggregateIdentifier())
	}
}

func (s *EventStoreSuite) TestStoreAndLoadEventsWithUpcaster() {
	aggregateID := uuid.New().String()
	s.Require().NoError(s.store.AppendEvents(s.generateEvents(aggregateID, 0, 10)...))

	store := s.newStore(eventstore.WithUpcasterChain(upcasting.NewChain(duplicatingUpcaster{})))
	stream, err := store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	msgs := s.drain(stream)
	s.Require().Len(msgs, 20)
	for i := 0; i < 20; i += 2 {
		s.Assert().Equal(msgs[i].SequenceNumber(), msgs[i+1].SequenceNumber())
		s.Assert().Equal(msgs[i].AggregateIdentifier(), msgs[i+1].AggregateIdentifier())
		left, err := msgs[i].MetaData()
		s.Require().NoError(err)
		right, err := msgs[i+1].MetaData()
		s.Require().NoError(err)
		s.Assert().Equal(left, right)
	}
}

func (s *EventStoreSuite) TestPrunesSnapshotsWhenCapExceeded() {
	store := s.newStore(eventstore.WithMaxSnapshotsArchived(1))
	for i := 0; i < 4; i++ {
		s.Require().NoError(store.AppendEvents(eventstore.NewDomainEventMessage("id", uint64(i), "payload")))
	}
	s.Require().NoError(store.AppendSnapshotEvent(eventstore.NewDomainEventMessage("id", 3, "snapshot")))
	s.Require().NoError(store.AppendEvents(eventstore.NewDomainEventMessage("id", 4, "payload")))
	s.Require().NoError(store.AppendSnapshotEvent(eventstore.NewDomainEventMessage("id", 4, "snapshot")))

	last, err := s.entryStore.LoadLastSnapshotEvent("id")
	s.Require().NoError(err)
	s.Require().NotNil(last)
	s.Assert().Equal(uint64(4), last.SequenceNumber)

	if counter, ok := s.entryStore.(interface {
		CountSnapshots(aggregateID string) (int, error)
	}); ok {
		count, err := counter.CountSnapshots("id")
		s.Require().NoError(err)
		s.Assert().Equal(1, count)
	}
}

func (s *EventStoreSuite) TestEntireStreamReadOnUnserializableSnapshot() {
	aggregateID := "id"
	for i := 0; i < 110; i++ {
		s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, uint64(i), "Mock contents")))
	}
	s.Require().NoError(s.entryStore.PersistSnapshot(s.rawEntry(aggregateID, 30, "failingType")))

	stream, err := s.store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	head, err := stream.Peek()
	s.Require().NoError(err)
	s.Assert().Equal(uint64(0), head.SequenceNumber())
	s.Assert().Len(s.drain(stream), 110)
}

func (s *EventStoreSuite) TestUnknownSerializedTypeCausesError() {
	aggregateID := "unknown-payload"
	s.Require().NoError(s.entryStore.PersistEvent(s.rawEntry(aggregateID, 0, "unknown")))

	_, err := s.store.ReadEvents(aggregateID)
	s.Require().Error(err)
	s.Assert().True(serialization.IsUnknownSerializedType(err))
}

func (s *EventStoreSuite) TestUnknownSerializedTypeMidStream() {
	aggregateID := "unknown-tail"
	s.Require().NoError(s.store.AppendEvents(eventstore.NewDomainEventMessage(aggregateID, 0, "Mock contents")))
	s.Require().NoError(s.entryStore.PersistEvent(s.rawEntry(aggregateID, 1, "unknown")))

	stream, err := s.store.ReadEvents(aggregateID)
	s.Require().NoError(err)
	defer stream.Close()

	_, err = stream.Next()
	s.Require().NoError(err)
	s.Require().True(stream.HasNext())
	_, err = stream.Next()
	s.Require().Error(err)
	s.Assert().True(serialization.IsUnknownSerializedType(err))
}

type duplicatingUpcaster struct{}

func (duplicatingUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == stubType
}

func (duplicatingUpcaster) Upcast(obj serialization.SerializedObject, _ upcasting.Context) ([]serialization.SerializedObject, error) {
	return []serialization.SerializedObject{obj, obj}, nil
}

type stringFanOutUpcaster struct{}

func (stringFanOutUpcaster) CanUpcast(t serialization.SerializedType) bool {
	return t.Name == serialization.StringTypeName
}

func (stringFanOutUpcaster) Upcast(obj serialization.SerializedObject, _ upcasting.Context) ([]serialization.SerializedObject, error) {
	return []serialization.SerializedObject{
		obj,
		{Type: serialization.SerializedType{Name: "unknownType", Revision: "2"}, Data: obj.Data},
	}, nil
}
