// Package testsuite contains a backend-agnostic test suite for event entry
// stores. Every backend runs this suite against its own provider, so all of
// them are held to the same contract.
package testsuite

import (
	"testing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/snowflk/mnemodb/eventstore"
	"github.com/snowflk/mnemodb/eventstore/serialization"
)

// Provider builds a fresh, empty entry store. The returned cleanup function
// is called after each test.
type Provider func(t *testing.T) (eventstore.EventEntryStore, func())

type EventStoreSuite struct {
	suite.Suite
	provider   Provider
	entryStore eventstore.EventEntryStore
	cleanup    func()
	serializer *serialization.JSONSerializer
	store      *eventstore.EventStore
}

func New(provider Provider) *EventStoreSuite {
	return &EventStoreSuite{provider: provider}
}

const stubType = "test.StubStateChanged"

type stubStateChanged struct {
	Message string `json:"message"`
}

func (s *EventStoreSuite) SetupTest() {
	s.entryStore, s.cleanup = s.provider(s.T())
	s.serializer = serialization.NewJSONSerializer()
	s.serializer.Register(stubType, "", stubStateChanged{})
	s.store = eventstore.New(s.entryStore, s.serializer)
}

func (s *EventStoreSuite) TearDownTest() {
	eventstore.ResetClock()
	if s.cleanup != nil {
		s.cleanup()
	}
	log.Info("Tear down")
}

// newStore rebuilds the facade over the same entry store with different
// configuration.
func (s *EventStoreSuite) newStore(opts ...eventstore.Option) *eventstore.EventStore {
	return eventstore.New(s.entryStore, s.serializer, opts...)
}

func (s *EventStoreSuite) generateEvents(aggregateID string, offset uint64, count int) []*eventstore.DomainEventMessage {
	events := make([]*eventstore.DomainEventMessage, 0, count)
	for i := 0; i < count; i++ {
		events = append(events, eventstore.NewDomainEventMessage(
			aggregateID, offset+uint64(i), stubStateChanged{Message: "changed"}))
	}
	return events
}

func (s *EventStoreSuite) createEvents(count int) []*eventstore.DomainEventMessage {
	return s.generateEvents(uuid.New().String(), 0, count)
}

// drain consumes a stream completely, touching payload and metadata the way
// a replaying aggregate would.
func (s *EventStoreSuite) drain(stream *eventstore.DomainEventStream) []*eventstore.DomainEventMessage {
	defer stream.Close()
	var msgs []*eventstore.DomainEventMessage
	for stream.HasNext() {
		msg, err := stream.Next()
		s.Require().NoError(err)
		_, err = msg.Payload()
		s.Require().NoError(err)
		_, err = msg.MetaData()
		s.Require().NoError(err)
		msgs = append(msgs, msg)
	}
	return msgs
}

type countingVisitor struct {
	visited []*eventstore.DomainEventMessage
}

func (v *countingVisitor) DoWithEvent(msg *eventstore.DomainEventMessage) error {
	v.visited = append(v.visited, msg)
	return nil
}

// rawEntry builds a persisted row directly, bypassing the facade. Used to
// plant rows with payload types the serializer cannot resolve.
func (s *EventStoreSuite) rawEntry(aggregateID string, seq uint64, typeName string) *eventstore.DomainEventEntry {
	payload, err := s.serializer.Serialize("this ain't gonna work")
	s.Require().NoError(err)
	metaData, err := s.serializer.Serialize(map[string]interface{}{})
	s.Require().NoError(err)
	msg := eventstore.NewDomainEventMessage(aggregateID, seq, "this ain't gonna work")
	entry := eventstore.DefaultEventEntryFactory{}.CreateDomainEventEntry(msg, payload, metaData)
	entry.PayloadType = typeName
	entry.PayloadRevision = "0"
	return entry
}
