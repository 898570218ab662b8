package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"krill/internal/engine"
)

// LogFileName is the single log file kept inside the data directory.
const LogFileName = "log.kvs"

const (
	// DefaultCompactThreshold is the log size past which a write triggers
	// compaction.
	DefaultCompactThreshold = 1 << 20

	// DefaultCompressThreshold is the value size at which values are
	// stored zstd-compressed.
	DefaultCompressThreshold = 512
)

// Store is the log-structured engine: one append-only log file plus an
// in-memory index mapping each live key to the offset of its Set record.
//
// A Store is owned by a single caller; it is not safe for concurrent
// mutation.
type Store struct {
	dir        string
	file       *os.File
	index      map[string]int64
	size       int64
	compactAt  int64
	compressAt int
	log        *zap.SugaredLogger
}

// Option configures a Store at open time.
type Option func(*Store)

// WithCompactThreshold overrides the log size that triggers compaction.
func WithCompactThreshold(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.compactAt = n
		}
	}
}

// WithCompressThreshold overrides the value size at which values are
// stored compressed. Zero or negative disables compression.
func WithCompressThreshold(n int) Option {
	return func(s *Store) { s.compressAt = n }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// Open opens or creates the log file inside dir and rebuilds the index
// from it. dir must be an existing directory.
func Open(dir string, opts ...Option) (*Store, error) {
	stat, err := os.Stat(dir)
	if err != nil || !stat.IsDir() {
		return nil, fmt.Errorf("%w: %s", engine.ErrInvalidPath, dir)
	}

	file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log: %w", err)
	}

	s := &Store{
		dir:        dir,
		file:       file,
		size:       info.Size(),
		compactAt:  DefaultCompactThreshold,
		compressAt: DefaultCompressThreshold,
		log:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.index, err = BuildIndex(io.NewSectionReader(file, 0, s.size))
	if err != nil {
		file.Close()
		return nil, err
	}

	s.log.Infow("store opened",
		"dir", dir,
		"log_bytes", s.size,
		"live_keys", len(s.index))
	return s, nil
}

// Set appends a Set record, makes it durable, and points the index at it.
// Crossing the compaction threshold compacts the log before returning.
func (s *Store) Set(key, value string) error {
	offset, err := s.append(Record{Op: OpSet, Key: key, Value: value})
	if err != nil {
		return err
	}
	s.index[key] = offset

	if s.size > s.compactAt {
		if err := s.compact(); err != nil {
			return fmt.Errorf("compact log: %w", err)
		}
	}
	return nil
}

// Get looks the key up in the index and decodes its record from the log.
// The second return is false on a miss.
func (s *Store) Get(key string) (string, bool, error) {
	offset, ok := s.index[key]
	if !ok {
		return "", false, nil
	}
	rec, err := s.readRecordAt(offset)
	if err != nil {
		return "", false, err
	}
	if rec.Op != OpSet || rec.Key != key {
		return "", false, engine.ErrIndexDesynced
	}
	return rec.Value, true, nil
}

// Remove appends a Remove record and erases the key from the index.
// A miss writes nothing and returns ErrKeyNotFound.
func (s *Store) Remove(key string) error {
	if _, ok := s.index[key]; !ok {
		return fmt.Errorf("remove %q: %w", key, engine.ErrKeyNotFound)
	}
	if _, err := s.append(Record{Op: OpRemove, Key: key}); err != nil {
		return err
	}
	delete(s.index, key)
	return nil
}

// Keys returns the live keys in sorted order.
func (s *Store) Keys() []string {
	keys := make([]string, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Entries reads every live entry. Debugging helper behind the `list` verb;
// it decodes one record per key.
func (s *Store) Entries() ([][2]string, error) {
	entries := make([][2]string, 0, len(s.index))
	for _, key := range s.Keys() {
		value, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, [2]string{key, value})
		}
	}
	return entries, nil
}

// Size returns the current log size in bytes.
func (s *Store) Size() int64 {
	return s.size
}

// Close syncs and closes the log file.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	return nil
}

// append writes one framed record at the end of the log and syncs it to
// disk before returning the record's offset.
func (s *Store) append(rec Record) (int64, error) {
	frame := EncodeRecord(rec, s.compressAt)
	offset := s.size
	if _, err := s.file.WriteAt(frame, offset); err != nil {
		return 0, fmt.Errorf("append record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return 0, fmt.Errorf("sync record: %w", err)
	}
	s.size += int64(len(frame))
	return offset, nil
}

// readRecordAt decodes exactly one record starting at offset.
func (s *Store) readRecordAt(offset int64) (Record, error) {
	dec := NewDecoder(io.NewSectionReader(s.file, offset, s.size-offset))
	rec, err := dec.Next()
	if err != nil {
		return Record{}, fmt.Errorf("record at offset %d: %w", offset, err)
	}
	return rec, nil
}

var _ engine.Engine = (*Store)(nil)
