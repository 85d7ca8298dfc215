package eventstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageStampsIdentityAndClock(t *testing.T) {
	at := time.Date(2011, 12, 18, 13, 0, 0, 0, time.UTC)
	SetClock(FixedClock(at))
	defer ResetClock()

	msg := NewDomainEventMessage("agg-1", 3, "payload")
	assert.NotEmpty(t, msg.EventIdentifier())
	assert.Equal(t, "agg-1", msg.AggregateIdentifier())
	assert.Equal(t, uint64(3), msg.SequenceNumber())
	assert.Equal(t, at, msg.Timestamp())

	other := NewDomainEventMessage("agg-1", 4, "payload")
	assert.NotEqual(t, msg.EventIdentifier(), other.EventIdentifier())
}

func TestWithMetaDataReplaces(t *testing.T) {
	msg := NewDomainEventMessageWithMetaData("agg-1", 0, "payload", MetaData{"a": 1})
	replaced := msg.WithMetaData(MetaData{"b": 2})

	md, err := replaced.MetaData()
	require.NoError(t, err)
	assert.Equal(t, MetaData{"b": 2}, md)

	// the original is untouched
	md, err = msg.MetaData()
	require.NoError(t, err)
	assert.Equal(t, MetaData{"a": 1}, md)
}

func TestAndMetaDataMerges(t *testing.T) {
	msg := NewDomainEventMessageWithMetaData("agg-1", 0, "payload", MetaData{"a": 1})
	merged, err := msg.AndMetaData(MetaData{"a": 9, "b": 2})
	require.NoError(t, err)

	md, err := merged.MetaData()
	require.NoError(t, err)
	assert.Equal(t, MetaData{"a": 9, "b": 2}, md)
}

func TestEntryFactoryConvertsInstantToMillis(t *testing.T) {
	at := time.Date(2011, 12, 18, 12, 59, 59, 999000000, time.UTC)
	f := DefaultEventEntryFactory{}
	assert.Equal(t, at.UnixNano()/int64(time.Millisecond), f.ResolveDateTimeValue(at))
	assert.Equal(t, at, timeFromMillis(f.ResolveDateTimeValue(at)))
}
