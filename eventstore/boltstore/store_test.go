package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/snowflk/mnemodb/eventstore"
	"github.com/snowflk/mnemodb/eventstore/boltstore"
	"github.com/snowflk/mnemodb/eventstore/testsuite"
)

func TestBoltStore(t *testing.T) {
	suite.Run(t, testsuite.New(func(t *testing.T) (eventstore.EventEntryStore, func()) {
		store, err := boltstore.Open(filepath.Join(t.TempDir(), "events.db"))
		require.NoError(t, err)
		return store, func() {
			require.NoError(t, store.Close())
		}
	}))
}

func TestOpenRejectsBadPath(t *testing.T) {
	_, err := boltstore.Open(filepath.Join(t.TempDir(), "missing", "events.db"))
	require.Error(t, err)
}

func TestLoadLastSnapshotEventEmpty(t *testing.T) {
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	entry, err := store.LoadLastSnapshotEvent("nobody")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestFetchAggregateStreamEmpty(t *testing.T) {
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	cursor, err := store.FetchAggregateStream("nobody", 0, 10)
	require.NoError(t, err)
	defer cursor.Close()
	require.False(t, cursor.Next())
	require.NoError(t, cursor.Err())
}
