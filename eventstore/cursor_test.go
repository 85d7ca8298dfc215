package eventstore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCursorDrainsBatches(t *testing.T) {
	batches := [][]*DomainEventEntry{
		{{SequenceNumber: 0}, {SequenceNumber: 1}},
		{{SequenceNumber: 2}},
	}
	calls := 0
	c := NewBatchCursor(func() ([]*DomainEventEntry, error) {
		if calls >= len(batches) {
			return nil, nil
		}
		batch := batches[calls]
		calls++
		return batch, nil
	})
	defer c.Close()

	var seqs []uint64
	for c.Next() {
		seqs = append(seqs, c.Entry().SequenceNumber)
	}
	require.NoError(t, c.Err())
	assert.Equal(t, []uint64{0, 1, 2}, seqs)
	// exhaustion is remembered, fetch is not called again
	assert.False(t, c.Next())
	assert.Equal(t, 3, calls)
}

func TestBatchCursorEmpty(t *testing.T) {
	c := NewBatchCursor(func() ([]*DomainEventEntry, error) { return nil, nil })
	defer c.Close()
	assert.False(t, c.Next())
	assert.NoError(t, c.Err())
}

func TestBatchCursorSurfacesFetchError(t *testing.T) {
	boom := errors.New("connection lost")
	c := NewBatchCursor(func() ([]*DomainEventEntry, error) { return nil, boom })
	defer c.Close()
	assert.False(t, c.Next())
	assert.Equal(t, boom, c.Err())
}

func TestBatchCursorClosedStopsIteration(t *testing.T) {
	c := NewBatchCursor(func() ([]*DomainEventEntry, error) {
		return []*DomainEventEntry{{SequenceNumber: 0}}, nil
	})
	require.True(t, c.Next())
	require.NoError(t, c.Close())
	assert.False(t, c.Next())
}
