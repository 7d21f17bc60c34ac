package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// -------------------------------------------------------------------------
// BadgerStore — KV persistence on a shared Badger database
// -------------------------------------------------------------------------

// Key layout, all prefixed by the session's store prefix:
//
//	m/<prefix>/<seq be64>  framed message bytes
//	s/<prefix>/sender      next sender seq (be64)
//	s/<prefix>/target      next target seq (be64)
//	s/<prefix>/created     creation time (RFC 3339 nano)
//
// Big-endian sequence keys make the message range a single ordered
// iterator scan.

// BadgerStore persists one session inside a shared Badger database.
// Counters are cached in memory and written through on every change.
type BadgerStore struct {
	db     *badger.DB
	prefix string

	nextSender int
	nextTarget int
	created    time.Time
}

// newBadgerStore loads or initializes the session's keys.
func newBadgerStore(db *badger.DB, prefix string) (*BadgerStore, error) {
	s := &BadgerStore{db: db, prefix: prefix}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// msgKey builds the message key for seq.
func (s *BadgerStore) msgKey(seq int) []byte {
	key := make([]byte, 0, len(s.prefix)+11)
	key = append(key, 'm', '/')
	key = append(key, s.prefix...)
	key = append(key, '/')
	var be [8]byte
	binary.BigEndian.PutUint64(be[:], uint64(seq))
	return append(key, be[:]...)
}

// scalarKey builds a scalar key under the session prefix.
func (s *BadgerStore) scalarKey(name string) []byte {
	return []byte("s/" + s.prefix + "/" + name)
}

// load reads the scalars, initializing them on first use.
func (s *BadgerStore) load() error {
	s.nextSender, s.nextTarget = 1, 1
	s.created = time.Now().UTC()

	err := s.db.View(func(txn *badger.Txn) error {
		if n, err := readUint(txn, s.scalarKey("sender")); err == nil {
			s.nextSender = n
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if n, err := readUint(txn, s.scalarKey("target")); err == nil {
			s.nextTarget = n
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		item, err := txn.Get(s.scalarKey("created"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			t, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("%w: creation time %q", ErrCorruptStore, v)
			}
			s.created = t
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("load badger store %s: %w", s.prefix, err)
	}
	return s.writeScalars()
}

// readUint reads a be64 counter value.
func readUint(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var n int
	err = item.Value(func(v []byte) error {
		if len(v) != 8 {
			return fmt.Errorf("%w: counter width %d", ErrCorruptStore, len(v))
		}
		n = int(binary.BigEndian.Uint64(v))
		return nil
	})
	return n, err
}

// writeScalars persists all three scalar keys in one transaction.
func (s *BadgerStore) writeScalars() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var sender, target [8]byte
		binary.BigEndian.PutUint64(sender[:], uint64(s.nextSender))
		binary.BigEndian.PutUint64(target[:], uint64(s.nextTarget))
		if err := txn.Set(s.scalarKey("sender"), sender[:]); err != nil {
			return err
		}
		if err := txn.Set(s.scalarKey("target"), target[:]); err != nil {
			return err
		}
		return txn.Set(s.scalarKey("created"),
			[]byte(s.created.UTC().Format(time.RFC3339Nano)))
	})
	if err != nil {
		return fmt.Errorf("write badger scalars %s: %w", s.prefix, err)
	}
	return nil
}

// NextSenderSeqNum implements MessageStore.
func (s *BadgerStore) NextSenderSeqNum() int { return s.nextSender }

// SetNextSenderSeqNum implements MessageStore.
func (s *BadgerStore) SetNextSenderSeqNum(seq int) error {
	s.nextSender = seq
	return s.writeScalars()
}

// IncrNextSenderSeqNum implements MessageStore.
func (s *BadgerStore) IncrNextSenderSeqNum() error {
	s.nextSender++
	return s.writeScalars()
}

// NextTargetSeqNum implements MessageStore.
func (s *BadgerStore) NextTargetSeqNum() int { return s.nextTarget }

// SetNextTargetSeqNum implements MessageStore.
func (s *BadgerStore) SetNextTargetSeqNum(seq int) error {
	s.nextTarget = seq
	return s.writeScalars()
}

// IncrNextTargetSeqNum implements MessageStore.
func (s *BadgerStore) IncrNextTargetSeqNum() error {
	s.nextTarget++
	return s.writeScalars()
}

// CreationTime implements MessageStore.
func (s *BadgerStore) CreationTime() time.Time { return s.created }

// Save implements MessageStore.
func (s *BadgerStore) Save(seq int, msg []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.msgKey(seq), msg)
	})
	if err != nil {
		return fmt.Errorf("save message %d: %w", seq, err)
	}
	return nil
}

// Get implements MessageStore.
func (s *BadgerStore) Get(begin, end int) ([]StoredMessage, error) {
	var out []StoredMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("m/" + s.prefix + "/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(s.msgKey(begin)); it.Valid(); it.Next() {
			key := it.Item().Key()
			seq := int(binary.BigEndian.Uint64(key[len(key)-8:]))
			if seq > end {
				break
			}
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, StoredMessage{Seq: seq, Data: data})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read messages [%d,%d]: %w", begin, end, err)
	}
	return out, nil
}

// Reset implements MessageStore.
func (s *BadgerStore) Reset() error {
	err := s.db.DropPrefix([]byte("m/" + s.prefix + "/"))
	if err != nil {
		return fmt.Errorf("drop messages %s: %w", s.prefix, err)
	}
	s.nextSender, s.nextTarget = 1, 1
	s.created = time.Now().UTC()
	return s.writeScalars()
}

// Refresh implements MessageStore.
func (s *BadgerStore) Refresh() error { return s.load() }

// Close implements MessageStore. The shared database is owned by the
// factory; per-session close is a no-op.
func (s *BadgerStore) Close() error { return nil }

// -------------------------------------------------------------------------
// BadgerFactory
// -------------------------------------------------------------------------

// BadgerFactory creates BadgerStores on one shared database.
type BadgerFactory struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the Badger database at dir.
func OpenBadger(dir string) (*BadgerFactory, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db %s: %w", dir, err)
	}
	return &BadgerFactory{db: db}, nil
}

// Create implements Factory.
func (f *BadgerFactory) Create(sessionPrefix string) (MessageStore, error) {
	return newBadgerStore(f.db, sessionPrefix)
}

// Close closes the shared database.
func (f *BadgerFactory) Close() error {
	if err := f.db.Close(); err != nil {
		return fmt.Errorf("close badger db: %w", err)
	}
	return nil
}
