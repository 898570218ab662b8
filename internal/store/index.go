package store

import (
	"errors"
	"io"
)

// BuildIndex replays a record stream from its start and produces the
// key -> offset map of live entries. A Set inserts or overwrites the key's
// offset, a Remove erases the key. The offset stored is the position of
// the first byte of the record's frame.
//
// A corrupt record aborts the build; the log is never silently truncated.
func BuildIndex(r io.Reader) (map[string]int64, error) {
	dec := NewDecoder(r)
	index := make(map[string]int64)
	for {
		offset := dec.Offset()
		rec, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch rec.Op {
		case OpSet:
			index[rec.Key] = offset
		case OpRemove:
			delete(index, rec.Key)
		}
	}
	return index, nil
}
