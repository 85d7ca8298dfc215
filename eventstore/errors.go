package eventstore

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConcurrencyError signals that an append collided with an already persisted
// row for the same (aggregateIdentifier, sequenceNumber). The caller
// typically reloads the aggregate and retries.
type ConcurrencyError struct {
	Message string
	Cause   error
}

func (e *ConcurrencyError) Error() string { return e.Message }

func (e *ConcurrencyError) Unwrap() error { return e.Cause }

// IsConcurrencyError reports whether err is, or wraps, a ConcurrencyError.
func IsConcurrencyError(err error) bool {
	var target *ConcurrencyError
	return errors.As(err, &target)
}

// EventStreamNotFoundError signals a read for an aggregate without a single
// domain event or snapshot.
type EventStreamNotFoundError struct {
	AggregateIdentifier string
}

func (e *EventStreamNotFoundError) Error() string {
	return fmt.Sprintf("aggregate %s does not have an event stream", e.AggregateIdentifier)
}

// IsEventStreamNotFound reports whether err is, or wraps, an
// EventStreamNotFoundError.
func IsEventStreamNotFound(err error) bool {
	var target *EventStreamNotFoundError
	return errors.As(err, &target)
}

// ErrEndOfStream is returned by DomainEventStream.Next when the stream is
// exhausted.
var ErrEndOfStream = errors.New("end of event stream")

// PersistenceExceptionResolver decides whether a low-level backend error
// represents a uniqueness violation on an event entry. When no resolver is
// configured on the event store, integrity errors pass through untranslated.
type PersistenceExceptionResolver interface {
	IsDuplicateKeyViolation(err error) bool
}
