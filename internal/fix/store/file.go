package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// -------------------------------------------------------------------------
// FileStore — flat-file persistence
// -------------------------------------------------------------------------

// On-disk layout, one triple of files per session prefix:
//
//	<prefix>.session  one line: creationTime|nextSender|nextTarget
//	<prefix>.body     append-only concatenation of framed messages
//	<prefix>.index    one line per message: seq,offset,length
//
// The index is replayed into memory on open; later entries for the same
// sequence number win, so an overwrite is an append, never a rewrite.

// sessionTimeLayout is the creation-time encoding in the session file.
const sessionTimeLayout = "20060102-15:04:05.000000000"

// ErrCorruptStore indicates an unreadable session or index file.
var ErrCorruptStore = errors.New("corrupt message store")

// FileStore persists a session to flat files under a directory.
type FileStore struct {
	dir    string
	prefix string

	body  *os.File
	index *os.File

	offsets    map[int][2]int64 // seq -> (offset, length)
	nextSender int
	nextTarget int
	created    time.Time
}

// NewFileStore opens (or creates) the store files for prefix under dir.
func NewFileStore(dir, prefix string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, prefix: prefix}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// path returns the file path for one of the store's extensions.
func (s *FileStore) path(ext string) string {
	return filepath.Join(s.dir, s.prefix+ext)
}

// open loads the session line and index, creating fresh files if absent.
func (s *FileStore) open() error {
	if err := s.loadSession(); err != nil {
		return err
	}
	if err := s.loadIndex(); err != nil {
		return err
	}

	var err error
	s.body, err = os.OpenFile(s.path(".body"), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open body file: %w", err)
	}
	s.index, err = os.OpenFile(s.path(".index"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		s.body.Close()
		return fmt.Errorf("open index file: %w", err)
	}
	return nil
}

// loadSession reads the session line, initializing defaults when the
// file does not exist yet.
func (s *FileStore) loadSession() error {
	s.nextSender, s.nextTarget = 1, 1
	s.created = time.Now().UTC()

	data, err := os.ReadFile(s.path(".session"))
	if errors.Is(err, os.ErrNotExist) {
		return s.writeSession()
	}
	if err != nil {
		return fmt.Errorf("read session file: %w", err)
	}

	parts := strings.Split(strings.TrimSpace(string(data)), "|")
	if len(parts) != 3 {
		return fmt.Errorf("%w: session line %q", ErrCorruptStore, strings.TrimSpace(string(data)))
	}
	created, err := time.Parse(sessionTimeLayout, parts[0])
	if err != nil {
		return fmt.Errorf("%w: creation time %q", ErrCorruptStore, parts[0])
	}
	sender, err1 := strconv.Atoi(parts[1])
	target, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || sender < 1 || target < 1 {
		return fmt.Errorf("%w: sequence numbers %q|%q", ErrCorruptStore, parts[1], parts[2])
	}
	s.created, s.nextSender, s.nextTarget = created, sender, target
	return nil
}

// writeSession rewrites the session line atomically-enough for a
// single-writer store: write to a temp file, then rename.
func (s *FileStore) writeSession() error {
	line := fmt.Sprintf("%s|%d|%d\n",
		s.created.UTC().Format(sessionTimeLayout), s.nextSender, s.nextTarget)
	tmp := s.path(".session.tmp")
	if err := os.WriteFile(tmp, []byte(line), 0o640); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path(".session")); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// loadIndex replays the offset index into memory.
func (s *FileStore) loadIndex() error {
	s.offsets = make(map[int][2]int64)

	f, err := os.Open(s.path(".index"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return fmt.Errorf("%w: index line %q", ErrCorruptStore, line)
		}
		seq, err1 := strconv.Atoi(parts[0])
		off, err2 := strconv.ParseInt(parts[1], 10, 64)
		length, err3 := strconv.ParseInt(parts[2], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return fmt.Errorf("%w: index line %q", ErrCorruptStore, line)
		}
		s.offsets[seq] = [2]int64{off, length}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan index file: %w", err)
	}
	return nil
}

// NextSenderSeqNum implements MessageStore.
func (s *FileStore) NextSenderSeqNum() int { return s.nextSender }

// SetNextSenderSeqNum implements MessageStore.
func (s *FileStore) SetNextSenderSeqNum(seq int) error {
	s.nextSender = seq
	return s.writeSession()
}

// IncrNextSenderSeqNum implements MessageStore.
func (s *FileStore) IncrNextSenderSeqNum() error {
	s.nextSender++
	return s.writeSession()
}

// NextTargetSeqNum implements MessageStore.
func (s *FileStore) NextTargetSeqNum() int { return s.nextTarget }

// SetNextTargetSeqNum implements MessageStore.
func (s *FileStore) SetNextTargetSeqNum(seq int) error {
	s.nextTarget = seq
	return s.writeSession()
}

// IncrNextTargetSeqNum implements MessageStore.
func (s *FileStore) IncrNextTargetSeqNum() error {
	s.nextTarget++
	return s.writeSession()
}

// CreationTime implements MessageStore.
func (s *FileStore) CreationTime() time.Time { return s.created }

// Save implements MessageStore.
func (s *FileStore) Save(seq int, msg []byte) error {
	off, err := s.body.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek body file: %w", err)
	}
	if _, err := s.body.Write(msg); err != nil {
		return fmt.Errorf("append body file: %w", err)
	}
	if _, err := fmt.Fprintf(s.index, "%d,%d,%d\n", seq, off, len(msg)); err != nil {
		return fmt.Errorf("append index file: %w", err)
	}
	s.offsets[seq] = [2]int64{off, int64(len(msg))}
	return nil
}

// Get implements MessageStore.
func (s *FileStore) Get(begin, end int) ([]StoredMessage, error) {
	var seqs []int
	for seq := range s.offsets {
		if seq >= begin && seq <= end {
			seqs = append(seqs, seq)
		}
	}
	sort.Ints(seqs)

	out := make([]StoredMessage, 0, len(seqs))
	for _, seq := range seqs {
		loc := s.offsets[seq]
		data := make([]byte, loc[1])
		if _, err := s.body.ReadAt(data, loc[0]); err != nil {
			return nil, fmt.Errorf("read body at %d: %w", loc[0], err)
		}
		out = append(out, StoredMessage{Seq: seq, Data: data})
	}
	return out, nil
}

// Reset implements MessageStore.
func (s *FileStore) Reset() error {
	if err := s.closeFiles(); err != nil {
		return err
	}
	for _, ext := range []string{".session", ".body", ".index"} {
		if err := os.Remove(s.path(ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", s.path(ext), err)
		}
	}
	return s.open()
}

// Refresh implements MessageStore.
func (s *FileStore) Refresh() error {
	if err := s.closeFiles(); err != nil {
		return err
	}
	return s.open()
}

// closeFiles closes the body and index handles.
func (s *FileStore) closeFiles() error {
	var firstErr error
	for _, f := range []*os.File{s.body, s.index} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.body, s.index = nil, nil
	return firstErr
}

// Close implements MessageStore.
func (s *FileStore) Close() error {
	return s.closeFiles()
}

// FileFactory creates FileStores under a common directory.
type FileFactory struct {
	// Dir is the directory holding all session files.
	Dir string
}

// Create implements Factory.
func (f FileFactory) Create(sessionPrefix string) (MessageStore, error) {
	return NewFileStore(f.Dir, sessionPrefix)
}
