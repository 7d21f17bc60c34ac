// Package store persists session sequence numbers, the session creation
// time, and the indexed log of outbound messages used for resend replay.
//
// Three backends exist: in-memory (tests, PersistMessages=N sessions),
// flat files (one session line plus an append-only body log with an
// offset index), and Badger (a single KV database shared by all
// sessions of a process).
package store

import (
	"sort"
	"time"
)

// -------------------------------------------------------------------------
// MessageStore — per-session persistence contract
// -------------------------------------------------------------------------

// StoredMessage is one replayable outbound message.
type StoredMessage struct {
	// Seq is the MsgSeqNum the message was sent under.
	Seq int

	// Data is the full framed wire form.
	Data []byte
}

// MessageStore persists one session's sequence numbers, creation time,
// and outbound messages keyed by sequence number. Implementations are
// accessed only from the session's reactor goroutine; they need no
// internal locking beyond what their backend requires.
type MessageStore interface {
	// NextSenderSeqNum returns the sequence number the next outbound
	// message will carry.
	NextSenderSeqNum() int

	// SetNextSenderSeqNum overwrites the outbound counter.
	SetNextSenderSeqNum(seq int) error

	// IncrNextSenderSeqNum advances the outbound counter by one.
	IncrNextSenderSeqNum() error

	// NextTargetSeqNum returns the sequence number expected on the next
	// inbound message.
	NextTargetSeqNum() int

	// SetNextTargetSeqNum overwrites the inbound counter.
	SetNextTargetSeqNum(seq int) error

	// IncrNextTargetSeqNum advances the inbound counter by one.
	IncrNextTargetSeqNum() error

	// CreationTime returns when this session period was created.
	CreationTime() time.Time

	// Save records an outbound message under its sequence number.
	Save(seq int, msg []byte) error

	// Get returns the stored messages with begin <= Seq <= end in
	// ascending order. Missing sequence numbers are simply absent.
	Get(begin, end int) ([]StoredMessage, error)

	// Reset clears messages, returns both counters to 1, and restamps
	// the creation time.
	Reset() error

	// Refresh reloads state from the backend, discarding cached values.
	// A no-op for backends without a cache.
	Refresh() error

	// Close releases backend resources.
	Close() error
}

// Factory creates the store for a session, keyed by the session's
// file-name-safe prefix.
type Factory interface {
	Create(sessionPrefix string) (MessageStore, error)
}

// -------------------------------------------------------------------------
// MemoryStore
// -------------------------------------------------------------------------

// MemoryStore keeps everything in process memory. Used by tests and by
// sessions configured with PersistMessages=N together with
// ResetOnDisconnect, where durability is explicitly unwanted.
type MemoryStore struct {
	messages   map[int][]byte
	nextSender int
	nextTarget int
	created    time.Time
}

// NewMemoryStore returns a fresh in-memory store with both counters at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:   make(map[int][]byte),
		nextSender: 1,
		nextTarget: 1,
		created:    time.Now().UTC(),
	}
}

// NextSenderSeqNum implements MessageStore.
func (s *MemoryStore) NextSenderSeqNum() int { return s.nextSender }

// SetNextSenderSeqNum implements MessageStore.
func (s *MemoryStore) SetNextSenderSeqNum(seq int) error {
	s.nextSender = seq
	return nil
}

// IncrNextSenderSeqNum implements MessageStore.
func (s *MemoryStore) IncrNextSenderSeqNum() error {
	s.nextSender++
	return nil
}

// NextTargetSeqNum implements MessageStore.
func (s *MemoryStore) NextTargetSeqNum() int { return s.nextTarget }

// SetNextTargetSeqNum implements MessageStore.
func (s *MemoryStore) SetNextTargetSeqNum(seq int) error {
	s.nextTarget = seq
	return nil
}

// IncrNextTargetSeqNum implements MessageStore.
func (s *MemoryStore) IncrNextTargetSeqNum() error {
	s.nextTarget++
	return nil
}

// CreationTime implements MessageStore.
func (s *MemoryStore) CreationTime() time.Time { return s.created }

// Save implements MessageStore.
func (s *MemoryStore) Save(seq int, msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	s.messages[seq] = cp
	return nil
}

// Get implements MessageStore.
func (s *MemoryStore) Get(begin, end int) ([]StoredMessage, error) {
	var out []StoredMessage
	for seq, data := range s.messages {
		if seq >= begin && seq <= end {
			out = append(out, StoredMessage{Seq: seq, Data: data})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Reset implements MessageStore.
func (s *MemoryStore) Reset() error {
	s.messages = make(map[int][]byte)
	s.nextSender = 1
	s.nextTarget = 1
	s.created = time.Now().UTC()
	return nil
}

// Refresh implements MessageStore.
func (s *MemoryStore) Refresh() error { return nil }

// Close implements MessageStore.
func (s *MemoryStore) Close() error { return nil }

// MemoryFactory creates independent MemoryStores.
type MemoryFactory struct{}

// Create implements Factory.
func (MemoryFactory) Create(string) (MessageStore, error) {
	return NewMemoryStore(), nil
}
