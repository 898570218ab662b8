package store

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"krill/internal/engine"
)

func TestRecordRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		rec        Record
		compressAt int
	}{
		{
			name: "set",
			rec:  Record{Op: OpSet, Key: "key1", Value: "value1"},
		},
		{
			name: "remove",
			rec:  Record{Op: OpRemove, Key: "key1"},
		},
		{
			name: "empty key and value",
			rec:  Record{Op: OpSet, Key: "", Value: ""},
		},
		{
			name: "unicode",
			rec:  Record{Op: OpSet, Key: "køy", Value: "välue ☃"},
		},
		{
			name:       "compressed value",
			rec:        Record{Op: OpSet, Key: "big", Value: strings.Repeat("krill swarm ", 512)},
			compressAt: 512,
		},
		{
			name:       "value below compression threshold",
			rec:        Record{Op: OpSet, Key: "small", Value: "tiny"},
			compressAt: 512,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodeRecord(tt.rec, tt.compressAt)
			dec := NewDecoder(bytes.NewReader(frame))

			got, err := dec.Next()
			if err != nil {
				t.Fatalf("Next() error: %v", err)
			}
			if got != tt.rec {
				t.Errorf("round trip mismatch.\nGot:  %+v\nWant: %+v", got, tt.rec)
			}
			if dec.Offset() != int64(len(frame)) {
				t.Errorf("Offset() = %d, want %d", dec.Offset(), len(frame))
			}
			if _, err := dec.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("Next() after last record = %v, want io.EOF", err)
			}
		})
	}
}

func TestCompressionShrinksFrame(t *testing.T) {
	rec := Record{Op: OpSet, Key: "big", Value: strings.Repeat("krill swarm ", 512)}
	plain := EncodeRecord(rec, 0)
	compressed := EncodeRecord(rec, 512)
	if len(compressed) >= len(plain) {
		t.Errorf("compressed frame is %d bytes, plain is %d", len(compressed), len(plain))
	}
}

func TestDecoderOffsets(t *testing.T) {
	records := []Record{
		{Op: OpSet, Key: "key0", Value: "value0"},
		{Op: OpSet, Key: "key1", Value: "value1"},
		{Op: OpRemove, Key: "key0"},
	}

	var stream []byte
	var wantOffsets []int64
	for _, rec := range records {
		wantOffsets = append(wantOffsets, int64(len(stream)))
		stream = append(stream, EncodeRecord(rec, 0)...)
	}

	dec := NewDecoder(bytes.NewReader(stream))
	for i, rec := range records {
		if off := dec.Offset(); off != wantOffsets[i] {
			t.Fatalf("record %d: Offset() = %d, want %d", i, off, wantOffsets[i])
		}
		got, err := dec.Next()
		if err != nil {
			t.Fatalf("record %d: Next() error: %v", i, err)
		}
		if got != rec {
			t.Fatalf("record %d: got %+v, want %+v", i, got, rec)
		}
	}
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() after stream = %v, want io.EOF", err)
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	dec := NewDecoder(bytes.NewReader(nil))
	if _, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() on empty stream = %v, want io.EOF", err)
	}
}

func TestDecoderCorruption(t *testing.T) {
	frame := EncodeRecord(Record{Op: OpSet, Key: "key1", Value: "value1"}, 0)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{
			name: "truncated frame",
			mutate: func(b []byte) []byte {
				return b[:len(b)-1]
			},
		},
		{
			name: "flipped body byte",
			mutate: func(b []byte) []byte {
				out := append([]byte(nil), b...)
				out[len(out)-1] ^= 0xff
				return out
			},
		},
		{
			name: "flipped checksum byte",
			mutate: func(b []byte) []byte {
				out := append([]byte(nil), b...)
				out[1] ^= 0xff
				return out
			},
		},
		{
			name: "garbage",
			mutate: func([]byte) []byte {
				return bytes.Repeat([]byte{0xff}, 16)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec := NewDecoder(bytes.NewReader(tt.mutate(frame)))
			_, err := dec.Next()
			if !errors.Is(err, engine.ErrCorruptLog) {
				t.Errorf("Next() = %v, want ErrCorruptLog", err)
			}
		})
	}
}
