// Package store implements the log-structured storage engine: an
// append-only record log on disk, an in-memory key -> offset index, and
// inline compaction once the log grows past a threshold.
//
// Records are stored as self-length-delimited frames so that sequential
// decoding from any record boundary needs no separator:
//
//	[uvarint frame length][4-byte blake3 checksum][body]
//
// The body is a sequence of tagged protobuf wire-format fields:
// 1 = op (varint), 2 = flags (varint), 3 = key (bytes), 4 = value (bytes,
// Set only). Values at or above the compression threshold are stored
// zstd-compressed with a flag bit set; decoding reverses it, so a decoded
// record always equals the record that was encoded.
package store

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"

	"krill/internal/engine"
)

// Record operations.
const (
	OpSet    uint8 = 1
	OpRemove uint8 = 2
)

const (
	fieldOp    protowire.Number = 1
	fieldFlags protowire.Number = 2
	fieldKey   protowire.Number = 3
	fieldValue protowire.Number = 4
)

const (
	// flagCompressed marks a zstd-compressed value.
	flagCompressed uint64 = 1 << 0

	checksumSize = 4

	// maxRecordSize bounds a single frame. Values are required to fit in
	// memory comfortably, so anything past this is treated as corruption.
	maxRecordSize = 64 << 20
)

// Record is a single log entry: a Set carrying a key and value, or a
// Remove carrying only a key. Records are immutable once written.
type Record struct {
	Op    uint8
	Key   string
	Value string
}

// EncodeRecord serialises a record into a framed byte slice. Values of at
// least compressAt bytes are stored compressed; compressAt <= 0 disables
// compression.
func EncodeRecord(rec Record, compressAt int) []byte {
	body := appendRecordBody(nil, rec, compressAt)
	frame := protowire.AppendVarint(nil, uint64(checksumSize+len(body)))
	sum := bodyChecksum(body)
	frame = append(frame, sum[:]...)
	return append(frame, body...)
}

func appendRecordBody(buf []byte, rec Record, compressAt int) []byte {
	var flags uint64
	value := []byte(rec.Value)
	if rec.Op == OpSet && compressAt > 0 && len(value) >= compressAt {
		value = compressBytes(value)
		flags |= flagCompressed
	}

	buf = protowire.AppendTag(buf, fieldOp, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(rec.Op))
	buf = protowire.AppendTag(buf, fieldFlags, protowire.VarintType)
	buf = protowire.AppendVarint(buf, flags)
	buf = protowire.AppendTag(buf, fieldKey, protowire.BytesType)
	buf = protowire.AppendBytes(buf, []byte(rec.Key))
	if rec.Op == OpSet {
		buf = protowire.AppendTag(buf, fieldValue, protowire.BytesType)
		buf = protowire.AppendBytes(buf, value)
	}
	return buf
}

func decodeRecordBody(body []byte) (Record, error) {
	var rec Record
	var flags uint64
	var value []byte
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return rec, corruptf("field tag: %v", protowire.ParseError(n))
		}
		body = body[n:]

		switch {
		case num == fieldOp && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return rec, corruptf("op field: %v", protowire.ParseError(n))
			}
			rec.Op = uint8(v)
			body = body[n:]
		case num == fieldFlags && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return rec, corruptf("flags field: %v", protowire.ParseError(n))
			}
			flags = v
			body = body[n:]
		case num == fieldKey && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return rec, corruptf("key field: %v", protowire.ParseError(n))
			}
			rec.Key = string(b)
			body = body[n:]
		case num == fieldValue && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return rec, corruptf("value field: %v", protowire.ParseError(n))
			}
			value = b
			body = body[n:]
		default:
			// Unknown fields are skipped so the format can grow.
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return rec, corruptf("field %d: %v", num, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}

	if rec.Op != OpSet && rec.Op != OpRemove {
		return rec, corruptf("unknown op %d", rec.Op)
	}
	if rec.Op == OpSet {
		if flags&flagCompressed != 0 {
			plain, err := decompressBytes(value)
			if err != nil {
				return rec, corruptf("decompress value: %v", err)
			}
			value = plain
		}
		rec.Value = string(value)
	}
	return rec, nil
}

func bodyChecksum(body []byte) [checksumSize]byte {
	h := blake3.New()
	h.Write(body)
	var sum [checksumSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", engine.ErrCorruptLog, fmt.Sprintf(format, args...))
}

// Decoder reads framed records sequentially from a stream and tracks the
// byte offset of the next record. A clean end of stream between records is
// io.EOF; a partial or invalid frame is an ErrCorruptLog error.
type Decoder struct {
	r   *bufio.Reader
	off int64
}

// NewDecoder returns a decoder positioned at offset 0 of r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Offset returns the stream offset of the next record.
func (d *Decoder) Offset() int64 {
	return d.off
}

// Next decodes one record and advances past it.
func (d *Decoder) Next() (Record, error) {
	frameLen, n, err := readUvarint(d.r)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Record{}, io.EOF
		}
		return Record{}, corruptf("frame length at offset %d: %v", d.off, err)
	}
	if frameLen < checksumSize || frameLen > maxRecordSize {
		return Record{}, corruptf("frame length %d out of range at offset %d", frameLen, d.off)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(d.r, frame); err != nil {
		return Record{}, corruptf("frame at offset %d: %v", d.off, err)
	}

	body := frame[checksumSize:]
	if sum := bodyChecksum(body); !bytes.Equal(sum[:], frame[:checksumSize]) {
		return Record{}, corruptf("checksum mismatch at offset %d", d.off)
	}

	rec, err := decodeRecordBody(body)
	if err != nil {
		return Record{}, err
	}
	d.off += int64(n) + int64(frameLen)
	return rec, nil
}

// readUvarint reads a varint byte by byte so the caller knows exactly how
// many bytes were consumed. io.EOF with zero bytes read means a clean end
// of stream.
func readUvarint(r *bufio.Reader) (uint64, int, error) {
	var x uint64
	var s uint
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, i, io.ErrUnexpectedEOF
			}
			return 0, i, err
		}
		if b < 0x80 {
			if i == binary.MaxVarintLen64-1 && b > 1 {
				return 0, i + 1, errors.New("varint overflows uint64")
			}
			return x | uint64(b)<<s, i + 1, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, binary.MaxVarintLen64, errors.New("varint overflows uint64")
}
