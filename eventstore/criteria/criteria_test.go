package criteria

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityColumns(property string) string { return property }

func render(t *testing.T, c Criteria) (string, []interface{}) {
	t.Helper()
	var sb strings.Builder
	var args []interface{}
	c.ParseInto(identityColumns, &sb, &args)
	return sb.String(), args
}

type rowStub map[string]interface{}

func (r rowStub) PropertyValue(name string) (interface{}, error) {
	return r[name], nil
}

func TestComparisonRendersPlaceholder(t *testing.T) {
	b := NewBuilder()
	where, args := render(t, b.Property("sequenceNumber").GreaterThan(5))
	assert.Equal(t, "sequenceNumber > ?", where)
	assert.Equal(t, []interface{}{int64(5)}, args)
}

func TestComparisonNormalizesTime(t *testing.T) {
	b := NewBuilder()
	at := time.Date(2011, 12, 18, 13, 0, 0, 0, time.UTC)
	where, args := render(t, b.Property("timeStamp").GreaterThanEquals(at))
	assert.Equal(t, "timeStamp >= ?", where)
	require.Len(t, args, 1)
	assert.Equal(t, at.UnixNano()/int64(time.Millisecond), args[0])
}

func TestConjunctionRendersNestedGroups(t *testing.T) {
	b := NewBuilder()
	c := b.Property("timeStamp").GreaterThan(int64(10)).
		And(b.Property("timeStamp").LessThanEquals(int64(20))).
		Or(b.Property("type").Equals("audit"))
	where, args := render(t, c)
	assert.Equal(t, "((timeStamp > ?) AND (timeStamp <= ?)) OR (type = ?)", where)
	assert.Equal(t, []interface{}{int64(10), int64(20), "audit"}, args)
}

func TestMembershipRendersInList(t *testing.T) {
	b := NewBuilder()
	where, args := render(t, b.Property("type").In("a", "b", "c"))
	assert.Equal(t, "type IN (?, ?, ?)", where)
	assert.Equal(t, []interface{}{"a", "b", "c"}, args)
}

func TestNullChecksRenderWithoutArgs(t *testing.T) {
	b := NewBuilder()
	where, args := render(t, b.Property("type").IsNull())
	assert.Equal(t, "type IS NULL", where)
	assert.Empty(t, args)

	where, args = render(t, b.Property("type").IsNotNull())
	assert.Equal(t, "type IS NOT NULL", where)
	assert.Empty(t, args)
}

func TestMatchComparisons(t *testing.T) {
	b := NewBuilder()
	row := rowStub{"sequenceNumber": uint64(7), "type": "audit"}

	for _, tc := range []struct {
		criteria Criteria
		expected bool
	}{
		{b.Property("sequenceNumber").Equals(7), true},
		{b.Property("sequenceNumber").NotEquals(7), false},
		{b.Property("sequenceNumber").LessThan(8), true},
		{b.Property("sequenceNumber").LessThanEquals(7), true},
		{b.Property("sequenceNumber").GreaterThan(7), false},
		{b.Property("sequenceNumber").GreaterThanEquals(8), false},
		{b.Property("type").Equals("audit"), true},
		{b.Property("type").Equals("other"), false},
	} {
		matched, err := tc.criteria.Match(row)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, matched)
	}
}

func TestMatchNormalizesTimeOperand(t *testing.T) {
	b := NewBuilder()
	at := time.Date(2011, 12, 18, 13, 0, 0, 0, time.UTC)
	row := rowStub{"timeStamp": at.UnixNano() / int64(time.Millisecond)}

	matched, err := b.Property("timeStamp").GreaterThanEquals(at).Match(row)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = b.Property("timeStamp").GreaterThan(at).Match(row)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchConjunctionsShortCircuit(t *testing.T) {
	b := NewBuilder()
	row := rowStub{"sequenceNumber": int64(3)}

	// the right-hand side would fail on the missing column, but AND never
	// evaluates it
	matched, err := b.Property("sequenceNumber").GreaterThan(5).
		And(b.Property("absent").Equals(1)).Match(row)
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = b.Property("sequenceNumber").LessThan(5).
		Or(b.Property("absent").Equals(1)).Match(row)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatchMembership(t *testing.T) {
	b := NewBuilder()
	row := rowStub{"type": "b"}

	matched, err := b.Property("type").In("a", "b").Match(row)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = b.Property("type").In("x", "y").Match(row)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestMatchNullChecks(t *testing.T) {
	b := NewBuilder()
	row := rowStub{"type": "audit"}

	matched, err := b.Property("absent").IsNull().Match(row)
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = b.Property("type").IsNotNull().Match(row)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestMatchRejectsMixedTypes(t *testing.T) {
	b := NewBuilder()
	row := rowStub{"type": "audit"}
	_, err := b.Property("type").LessThan(5).Match(row)
	assert.Error(t, err)
}
