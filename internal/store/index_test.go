package store

import (
	"bytes"
	"errors"
	"testing"

	"krill/internal/engine"
)

func TestBuildIndex(t *testing.T) {
	records := []Record{
		{Op: OpSet, Key: "key0", Value: "value0"},
		{Op: OpSet, Key: "key1", Value: "value1"},
		{Op: OpSet, Key: "key2", Value: "value2"},
		{Op: OpRemove, Key: "key2"},
		{Op: OpSet, Key: "key3", Value: "value3"},
		{Op: OpSet, Key: "key3", Value: "value33"},
	}

	var stream []byte
	offsets := make([]int64, len(records))
	for i, rec := range records {
		offsets[i] = int64(len(stream))
		stream = append(stream, EncodeRecord(rec, 0)...)
	}

	index, err := BuildIndex(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("BuildIndex() error: %v", err)
	}

	want := map[string]int64{
		"key0": offsets[0],
		"key1": offsets[1],
		// key2 was removed; key3 points at its second Set.
		"key3": offsets[5],
	}
	if len(index) != len(want) {
		t.Fatalf("index has %d entries, want %d: %v", len(index), len(want), index)
	}
	for key, offset := range want {
		if index[key] != offset {
			t.Errorf("index[%q] = %d, want %d", key, index[key], offset)
		}
	}
}

func TestBuildIndexEmptyLog(t *testing.T) {
	index, err := BuildIndex(bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("BuildIndex() error: %v", err)
	}
	if len(index) != 0 {
		t.Errorf("index has %d entries, want 0", len(index))
	}
}

func TestBuildIndexReplayEquivalence(t *testing.T) {
	// Applying the record sequence to a plain map must agree with the
	// index built from the serialised stream.
	records := []Record{
		{Op: OpSet, Key: "a", Value: "1"},
		{Op: OpSet, Key: "b", Value: "2"},
		{Op: OpRemove, Key: "a"},
		{Op: OpSet, Key: "a", Value: "3"},
		{Op: OpSet, Key: "c", Value: "4"},
		{Op: OpRemove, Key: "c"},
		{Op: OpRemove, Key: "b"},
	}

	var stream []byte
	model := make(map[string]int64)
	for _, rec := range records {
		offset := int64(len(stream))
		stream = append(stream, EncodeRecord(rec, 0)...)
		switch rec.Op {
		case OpSet:
			model[rec.Key] = offset
		case OpRemove:
			delete(model, rec.Key)
		}
	}

	index, err := BuildIndex(bytes.NewReader(stream))
	if err != nil {
		t.Fatalf("BuildIndex() error: %v", err)
	}
	if len(index) != len(model) {
		t.Fatalf("index has %d entries, want %d", len(index), len(model))
	}
	for key, offset := range model {
		if index[key] != offset {
			t.Errorf("index[%q] = %d, want %d", key, index[key], offset)
		}
	}
}

func TestBuildIndexCorruptTail(t *testing.T) {
	stream := EncodeRecord(Record{Op: OpSet, Key: "key1", Value: "value1"}, 0)
	// A torn write: the second record lost its last byte.
	partial := EncodeRecord(Record{Op: OpSet, Key: "key2", Value: "value2"}, 0)
	stream = append(stream, partial[:len(partial)-1]...)

	_, err := BuildIndex(bytes.NewReader(stream))
	if !errors.Is(err, engine.ErrCorruptLog) {
		t.Errorf("BuildIndex() = %v, want ErrCorruptLog", err)
	}
}
