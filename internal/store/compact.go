package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"krill/internal/engine"
)

// compactSuffix names the sibling temp file compaction writes into before
// renaming it over the log. It never survives a successful compaction.
const compactSuffix = ".compact"

// compact rewrites the log so it contains only the live Set records, then
// atomically replaces log.kvs and rebuilds the index from the new file.
//
// The rewrite goes to a temp file in the same directory which is synced and
// then renamed over the log, so a crash at any point leaves either the old
// log or the new log fully intact.
func (s *Store) compact() error {
	logPath := filepath.Join(s.dir, LogFileName)
	tmpPath := logPath + compactSuffix

	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create compaction file: %w", err)
	}

	written, err := s.writeLive(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync compaction file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close compaction file: %w", err)
	}

	// Swap the new log in. The old handle is closed first so the rename is
	// the only reference change; the directory sync makes it durable.
	if err := s.file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close log: %w", err)
	}
	if err := os.Rename(tmpPath, logPath); err != nil {
		return fmt.Errorf("replace log: %w", err)
	}
	if err := syncDir(s.dir); err != nil {
		return err
	}

	file, err := os.OpenFile(logPath, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("reopen log: %w", err)
	}
	index, err := BuildIndex(io.NewSectionReader(file, 0, written))
	if err != nil {
		file.Close()
		return err
	}

	s.log.Infow("log compacted",
		"before_bytes", s.size,
		"after_bytes", written,
		"live_keys", len(index))

	s.file = file
	s.size = written
	s.index = index
	return nil
}

// writeLive decodes every record the index points at and appends it to w in
// the index's enumeration order. Finding anything but a Set with the
// expected key means the index and the log disagree.
func (s *Store) writeLive(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	var written int64
	for key, offset := range s.index {
		rec, err := s.readRecordAt(offset)
		if err != nil {
			return 0, err
		}
		if rec.Op != OpSet || rec.Key != key {
			return 0, engine.ErrIndexDesynced
		}
		frame := EncodeRecord(rec, s.compressAt)
		n, err := bw.Write(frame)
		if err != nil {
			return 0, fmt.Errorf("write live record: %w", err)
		}
		written += int64(n)
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("flush live records: %w", err)
	}
	return written, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open data directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync data directory: %w", err)
	}
	return nil
}
