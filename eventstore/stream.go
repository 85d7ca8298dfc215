package eventstore

import (
	"github.com/snowflk/mnemodb/eventstore/serialization"
	"github.com/snowflk/mnemodb/eventstore/upcasting"
)

// DomainEventStream is a forward-only, single-pass sequence of domain event
// messages produced by a read. It is finite, not restartable and must not be
// shared across goroutines.
type DomainEventStream struct {
	cursor     EntryCursor
	serializer serialization.Serializer
	chain      upcasting.UpcasterChain
	lastSeq    uint64

	pending []*DomainEventMessage
	next    *DomainEventMessage
	err     error
	done    bool
	closed  bool
}

func newDomainEventStream(snapshot *DomainEventMessage, cursor EntryCursor, serializer serialization.Serializer, chain upcasting.UpcasterChain, lastSeq uint64) *DomainEventStream {
	s := &DomainEventStream{
		cursor:     cursor,
		serializer: serializer,
		chain:      chain,
		lastSeq:    lastSeq,
	}
	if snapshot != nil {
		s.next = snapshot
	} else {
		s.advance()
	}
	return s
}

// HasNext reports whether another message, or a pending consumption error,
// is available.
func (s *DomainEventStream) HasNext() bool {
	return !s.done && (s.next != nil || s.err != nil)
}

// Next returns the next message in sequence-number order. Once Next returns
// an error the stream is exhausted. At the end of the stream Next returns
// ErrEndOfStream.
func (s *DomainEventStream) Next() (*DomainEventMessage, error) {
	if s.err != nil {
		err := s.err
		s.err = nil
		s.done = true
		s.Close()
		return nil, err
	}
	if s.done || s.next == nil {
		return nil, ErrEndOfStream
	}
	msg := s.next
	s.next = nil
	s.advance()
	return msg, nil
}

// Peek returns the next message without consuming it.
func (s *DomainEventStream) Peek() (*DomainEventMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done || s.next == nil {
		return nil, ErrEndOfStream
	}
	return s.next, nil
}

// Close releases the backing cursor. Closing an exhausted stream is a no-op.
func (s *DomainEventStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cursor.Close()
}

// advance prefetches the next message: it drains the fan-out queue of the
// current row first, then pulls the next row from the cursor.
func (s *DomainEventStream) advance() {
	if len(s.pending) > 0 {
		s.next, s.pending = s.pending[0], s.pending[1:]
		return
	}
	for s.cursor.Next() {
		entry := s.cursor.Entry()
		if entry.SequenceNumber > s.lastSeq {
			s.done = true
			s.Close()
			return
		}
		msgs, err := upcastAndDeserialize(entry, s.serializer, s.chain, false)
		if err != nil {
			s.err = err
			return
		}
		if len(msgs) == 0 {
			// the upcaster filtered this row out entirely
			continue
		}
		s.next, s.pending = msgs[0], msgs[1:]
		return
	}
	if err := s.cursor.Err(); err != nil {
		s.err = err
		return
	}
	s.done = true
	s.Close()
}

// upcastAndDeserialize runs a row through the upcaster chain and wraps each
// output in a message whose payload and metadata reify lazily. With
// skipUnknown false, outputs whose type cannot be resolved fail immediately;
// with skipUnknown true the unresolved payload is deferred to consumption,
// which is what lets a global visitation tolerate unknown types.
func upcastAndDeserialize(entry *DomainEventEntry, serializer serialization.Serializer, chain upcasting.UpcasterChain, skipUnknown bool) ([]*DomainEventMessage, error) {
	ctx := upcasting.Context{
		EventIdentifier:     entry.EventIdentifier,
		AggregateIdentifier: entry.AggregateIdentifier,
		SequenceNumber:      entry.SequenceNumber,
		Timestamp:           timeFromMillis(entry.Timestamp),
	}
	outputs, err := chain.Upcast(serialization.SerializedObject{
		Type: serialization.SerializedType{Name: entry.PayloadType, Revision: entry.PayloadRevision},
		Data: entry.Payload,
	}, ctx)
	if err != nil {
		return nil, err
	}

	msgs := make([]*DomainEventMessage, 0, len(outputs))
	for _, obj := range outputs {
		if !skipUnknown {
			if _, err := serializer.ClassForType(obj.Type); err != nil {
				return nil, err
			}
		}
		msgs = append(msgs, &DomainEventMessage{
			eventIdentifier:     entry.EventIdentifier,
			aggregateIdentifier: entry.AggregateIdentifier,
			sequenceNumber:      entry.SequenceNumber,
			timestamp:           timeFromMillis(entry.Timestamp),
			payloadType:         obj.Type,
			serializer:          serializer,
			serializedPayload:   obj,
			serializedMetaData: serialization.SerializedObject{
				Type: serialization.SerializedType{Name: serialization.MetaDataTypeName},
				Data: entry.MetaData,
			},
		})
	}
	return msgs, nil
}
