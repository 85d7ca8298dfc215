// Package upcasting transforms stored serialized payloads into their current
// revision before deserialization. A single stored event may fan out into
// several events, or be filtered away entirely.
package upcasting

import (
	"time"

	"github.com/snowflk/mnemodb/eventstore/serialization"
)

// Context carries the identity of the row an upcaster is working on.
// Fan-out outputs inherit this identity: they share the original event's
// aggregate, sequence number, timestamp and metadata.
type Context struct {
	EventIdentifier     string
	AggregateIdentifier string
	SequenceNumber      uint64
	Timestamp           time.Time
}

// Upcaster migrates payloads of the type/revision tuples it accepts to zero
// or more output payloads.
type Upcaster interface {
	CanUpcast(t serialization.SerializedType) bool
	Upcast(obj serialization.SerializedObject, ctx Context) ([]serialization.SerializedObject, error)
}

// UpcasterChain runs a serialized payload through the configured upcasters.
// Chains are applied lazily, when a row is consumed from a cursor.
type UpcasterChain interface {
	Upcast(obj serialization.SerializedObject, ctx Context) ([]serialization.SerializedObject, error)
}

type identityChain struct{}

func (identityChain) Upcast(obj serialization.SerializedObject, _ Context) ([]serialization.SerializedObject, error) {
	return []serialization.SerializedObject{obj}, nil
}

// Identity returns the chain that leaves every payload untouched.
func Identity() UpcasterChain {
	return identityChain{}
}

type chain struct {
	upcasters []Upcaster
}

// NewChain builds a chain that feeds payloads through the given upcasters in
// order. Payloads an upcaster does not accept pass through unchanged.
func NewChain(upcasters ...Upcaster) UpcasterChain {
	return &chain{upcasters: upcasters}
}

func (c *chain) Upcast(obj serialization.SerializedObject, ctx Context) ([]serialization.SerializedObject, error) {
	current := []serialization.SerializedObject{obj}
	for _, up := range c.upcasters {
		next := make([]serialization.SerializedObject, 0, len(current))
		for _, o := range current {
			if !up.CanUpcast(o.Type) {
				next = append(next, o)
				continue
			}
			outputs, err := up.Upcast(o, ctx)
			if err != nil {
				return nil, err
			}
			next = append(next, outputs...)
		}
		current = next
	}
	return current, nil
}
