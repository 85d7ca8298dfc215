package eventstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/snowflk/mnemodb/eventstore/serialization"
)

// MetaData is the additional information attached to an event message.
// It is treated as immutable once attached; the merge helpers copy.
type MetaData map[string]interface{}

func (m MetaData) copyWith(other MetaData) MetaData {
	merged := make(MetaData, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// DomainEventMessage is an immutable record of a state change of an
// aggregate. Messages read back from the store carry their payload and
// metadata in serialized form and reify them on first access.
type DomainEventMessage struct {
	eventIdentifier     string
	aggregateIdentifier string
	sequenceNumber      uint64
	timestamp           time.Time
	payloadType         serialization.SerializedType

	payload         interface{}
	payloadResolved bool
	metaData        MetaData
	metaResolved    bool

	serializer         serialization.Serializer
	serializedPayload  serialization.SerializedObject
	serializedMetaData serialization.SerializedObject
}

// NewDomainEventMessage creates a message for a fresh state change, stamped
// with the process clock and a generated event identifier.
func NewDomainEventMessage(aggregateID string, sequenceNumber uint64, payload interface{}) *DomainEventMessage {
	return NewDomainEventMessageWithMetaData(aggregateID, sequenceNumber, payload, nil)
}

func NewDomainEventMessageWithMetaData(aggregateID string, sequenceNumber uint64, payload interface{}, metaData MetaData) *DomainEventMessage {
	if metaData == nil {
		metaData = MetaData{}
	}
	return &DomainEventMessage{
		eventIdentifier:     uuid.New().String(),
		aggregateIdentifier: aggregateID,
		sequenceNumber:      sequenceNumber,
		timestamp:           clockNow(),
		payload:             payload,
		payloadResolved:     true,
		metaData:            metaData,
		metaResolved:        true,
	}
}

func (m *DomainEventMessage) EventIdentifier() string     { return m.eventIdentifier }
func (m *DomainEventMessage) AggregateIdentifier() string { return m.aggregateIdentifier }
func (m *DomainEventMessage) SequenceNumber() uint64      { return m.sequenceNumber }
func (m *DomainEventMessage) Timestamp() time.Time        { return m.timestamp }

// PayloadType is the serialized type of the payload. For messages read from
// the store this reflects the type after upcasting.
func (m *DomainEventMessage) PayloadType() serialization.SerializedType { return m.payloadType }

// Payload reifies the payload. Deserialization happens on first access;
// the result is remembered. The message is not safe for concurrent use.
func (m *DomainEventMessage) Payload() (interface{}, error) {
	if m.payloadResolved {
		return m.payload, nil
	}
	if m.serializer == nil {
		return nil, errors.New("message has no payload source")
	}
	v, err := m.serializer.Deserialize(m.serializedPayload)
	if err != nil {
		return nil, err
	}
	m.payload = v
	m.payloadResolved = true
	return v, nil
}

// MetaData reifies the metadata, deserializing it on first access.
func (m *DomainEventMessage) MetaData() (MetaData, error) {
	if m.metaResolved {
		return m.metaData, nil
	}
	if m.serializer == nil {
		return nil, errors.New("message has no metadata source")
	}
	v, err := m.serializer.Deserialize(m.serializedMetaData)
	if err != nil {
		return nil, err
	}
	md, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("metadata deserialized to unexpected type %T", v)
	}
	m.metaData = MetaData(md)
	m.metaResolved = true
	return m.metaData, nil
}

// WithMetaData returns a copy of the message whose metadata is replaced
// entirely by the given mapping.
func (m *DomainEventMessage) WithMetaData(metaData MetaData) *DomainEventMessage {
	clone := *m
	clone.metaData = MetaData{}.copyWith(metaData)
	clone.metaResolved = true
	return &clone
}

// AndMetaData returns a copy of the message with the given entries merged
// into the existing metadata. Existing metadata is resolved first.
func (m *DomainEventMessage) AndMetaData(metaData MetaData) (*DomainEventMessage, error) {
	existing, err := m.MetaData()
	if err != nil {
		return nil, err
	}
	clone := *m
	clone.metaData = existing.copyWith(metaData)
	clone.metaResolved = true
	return &clone, nil
}
