// Package boltstore persists event entries in an embedded bbolt database.
// The timeline bucket keeps a secondary ordering by timestamp so global
// visitation scans in timestamp order without touching every aggregate
// range; criteria are evaluated in-process.
package boltstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/snowflk/mnemodb/eventstore"
	"github.com/snowflk/mnemodb/eventstore/criteria"
)

var (
	bucketEvents    = []byte("events")
	bucketSnapshots = []byte("snapshots")
	bucketEventIDs  = []byte("event_ids")
	bucketTimeline  = []byte("timeline")
)

const (
	snapshotCacheRetention = 30 * time.Minute
	snapshotCacheCleanup   = 10 * time.Minute
)

// ErrDuplicateEntry is the integrity violation the store raises when either
// uniqueness invariant is broken. It plays the role a SQL state 23xxx error
// plays for the relational backend.
var ErrDuplicateEntry = errors.New("duplicate event entry")

// Store is an embedded event entry store. It implements
// eventstore.EventEntryStore and acts as its own persistence exception
// resolver.
type Store struct {
	db *bbolt.DB
	// lastSnapshots caches the newest snapshot per aggregate. Pruning
	// never removes the newest snapshot, so only a new snapshot append
	// invalidates an entry.
	lastSnapshots *cache.Cache
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open bolt database")
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketEvents, bucketSnapshots, bucketEventIDs, bucketTimeline} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}
	return &Store{
		db:            db,
		lastSnapshots: cache.New(snapshotCacheRetention, snapshotCacheCleanup),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicateKeyViolation lets the store serve as the default persistence
// exception resolver of the facade.
func (s *Store) IsDuplicateKeyViolation(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func (s *Store) PersistEvent(entry *eventstore.DomainEventEntry) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := entryKey(entry.AggregateIdentifier, entry.SequenceNumber)
		events := tx.Bucket(bucketEvents)
		if events.Get(key) != nil {
			return ErrDuplicateEntry
		}
		if err := s.claimEventID(tx, entry.EventIdentifier); err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := events.Put(key, data); err != nil {
			return err
		}
		return tx.Bucket(bucketTimeline).Put(
			timelineKey(entry.Timestamp, entry.AggregateIdentifier, entry.SequenceNumber), key)
	})
	if err != nil {
		return errors.Wrapf(err, "unable to persist an event entry to %s", bucketEvents)
	}
	return nil
}

func (s *Store) PersistSnapshot(entry *eventstore.DomainEventEntry) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		key := entryKey(entry.AggregateIdentifier, entry.SequenceNumber)
		snapshots := tx.Bucket(bucketSnapshots)
		if snapshots.Get(key) != nil {
			return ErrDuplicateEntry
		}
		if err := s.claimEventID(tx, entry.EventIdentifier); err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return snapshots.Put(key, data)
	})
	if err != nil {
		return errors.Wrapf(err, "unable to persist a snapshot entry to %s", bucketSnapshots)
	}
	s.lastSnapshots.Delete(entry.AggregateIdentifier)
	return nil
}

func (s *Store) claimEventID(tx *bbolt.Tx, eventID string) error {
	ids := tx.Bucket(bucketEventIDs)
	if ids.Get([]byte(eventID)) != nil {
		return ErrDuplicateEntry
	}
	return ids.Put([]byte(eventID), []byte{1})
}

func (s *Store) FetchAggregateStream(aggregateID string, firstSequenceNumber uint64, batchSize int) (eventstore.EntryCursor, error) {
	if batchSize < 1 {
		batchSize = eventstore.DefaultBatchSize
	}
	prefix := aggregatePrefix(aggregateID)
	nextSeq := firstSequenceNumber
	done := false
	return eventstore.NewBatchCursor(func() ([]*eventstore.DomainEventEntry, error) {
		if done {
			return nil, nil
		}
		batch := make([]*eventstore.DomainEventEntry, 0, batchSize)
		err := s.db.View(func(tx *bbolt.Tx) error {
			c := tx.Bucket(bucketEvents).Cursor()
			for k, v := c.Seek(entryKey(aggregateID, nextSeq)); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
				entry, err := decodeEntry(v)
				if err != nil {
					return err
				}
				batch = append(batch, entry)
				if len(batch) == batchSize {
					break
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(batch) < batchSize {
			done = true
		}
		if len(batch) > 0 {
			nextSeq = batch[len(batch)-1].SequenceNumber + 1
		}
		return batch, nil
	}), nil
}

func (s *Store) LoadLastSnapshotEvent(aggregateID string) (*eventstore.DomainEventEntry, error) {
	if cached, ok := s.lastSnapshots.Get(aggregateID); ok {
		return cached.(*eventstore.DomainEventEntry), nil
	}
	var entry *eventstore.DomainEventEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		k, v := seekLastWithPrefix(c, aggregatePrefix(aggregateID))
		if k == nil {
			return nil
		}
		decoded, err := decodeEntry(v)
		if err != nil {
			return err
		}
		entry = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry != nil {
		s.lastSnapshots.Set(aggregateID, entry, cache.DefaultExpiration)
	}
	return entry, nil
}

func (s *Store) PruneSnapshots(aggregateID string, mostRecentToKeep int) error {
	prefix := aggregatePrefix(aggregateID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		ids := tx.Bucket(bucketEventIDs)

		var keys [][]byte
		c := snapshots.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		if len(keys) <= mostRecentToKeep {
			return nil
		}
		// keys are in ascending sequence order; everything before the
		// newest mostRecentToKeep goes
		for _, k := range keys[:len(keys)-mostRecentToKeep] {
			entry, err := decodeEntry(snapshots.Get(k))
			if err != nil {
				return err
			}
			if err := snapshots.Delete(k); err != nil {
				return err
			}
			if err := ids.Delete([]byte(entry.EventIdentifier)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Visit(criterion criteria.Criteria, batchSize int) (eventstore.EntryCursor, error) {
	if batchSize < 1 {
		batchSize = eventstore.DefaultBatchSize
	}
	var after []byte
	done := false
	return eventstore.NewBatchCursor(func() ([]*eventstore.DomainEventEntry, error) {
		if done {
			return nil, nil
		}
		batch := make([]*eventstore.DomainEventEntry, 0, batchSize)
		err := s.db.View(func(tx *bbolt.Tx) error {
			events := tx.Bucket(bucketEvents)
			c := tx.Bucket(bucketTimeline).Cursor()

			k, ref := c.First()
			if after != nil {
				k, ref = c.Seek(after)
				if k != nil && bytes.Equal(k, after) {
					k, ref = c.Next()
				}
			}
			for ; k != nil; k, ref = c.Next() {
				entry, err := decodeEntry(events.Get(ref))
				if err != nil {
					return err
				}
				if criterion != nil {
					matched, err := criterion.Match(entry)
					if err != nil {
						return err
					}
					if !matched {
						continue
					}
				}
				batch = append(batch, entry)
				if len(batch) == batchSize {
					after = append(after[:0], k...)
					return nil
				}
			}
			done = true
			return nil
		})
		if err != nil {
			return nil, err
		}
		return batch, nil
	}), nil
}

// CountSnapshots reports how many snapshot rows an aggregate currently has.
func (s *Store) CountSnapshots(aggregateID string) (int, error) {
	prefix := aggregatePrefix(aggregateID)
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSnapshots).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			count++
		}
		return nil
	})
	return count, err
}

func decodeEntry(data []byte) (*eventstore.DomainEventEntry, error) {
	if data == nil {
		return nil, errors.New("dangling timeline reference")
	}
	var entry eventstore.DomainEventEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, "failed to decode event entry")
	}
	return &entry, nil
}

// entryKey orders rows of one aggregate by sequence number: the aggregate
// identifier, a zero separator, then the big-endian sequence number.
func entryKey(aggregateID string, seq uint64) []byte {
	key := make([]byte, 0, len(aggregateID)+9)
	key = append(key, aggregateID...)
	key = append(key, 0)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return append(key, buf[:]...)
}

func aggregatePrefix(aggregateID string) []byte {
	prefix := make([]byte, 0, len(aggregateID)+1)
	prefix = append(prefix, aggregateID...)
	return append(prefix, 0)
}

// timelineKey orders the global timeline by timestamp, then aggregate
// identifier, then sequence number.
func timelineKey(millis int64, aggregateID string, seq uint64) []byte {
	key := make([]byte, 0, 8+len(aggregateID)+9)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(millis))
	key = append(key, buf[:]...)
	return append(key, entryKey(aggregateID, seq)...)
}

func seekLastWithPrefix(c *bbolt.Cursor, prefix []byte) ([]byte, []byte) {
	upper := append(append([]byte(nil), prefix[:len(prefix)-1]...), 1)
	k, v := c.Seek(upper)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}
