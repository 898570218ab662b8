// Package protocol defines the Request and Response frames exchanged
// between client and server and their stream codec.
//
// Frames use the same self-length-delimited scheme as the storage log:
//
//	[uvarint frame length][4-byte blake3 checksum][tagged body]
//
// so a reader can tell a cleanly closed peer (no bytes, or a frame cut
// short by the close) from a protocol error (a full frame that fails to
// decode).
package protocol

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode marks a frame that arrived intact but could not be decoded.
// The server answers these with a failure response and keeps reading.
var ErrDecode = errors.New("invalid frame")

// RequestOp selects the operation a Request carries.
type RequestOp uint8

const (
	OpSet    RequestOp = 1
	OpGet    RequestOp = 2
	OpRemove RequestOp = 3
)

func (op RequestOp) String() string {
	switch op {
	case OpSet:
		return "set"
	case OpGet:
		return "get"
	case OpRemove:
		return "rm"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Request is one client command. Value is meaningful only for OpSet.
type Request struct {
	Op    RequestOp
	Key   string
	Value string
}

// Response status codes.
type Status uint8

const (
	StatusSuccess Status = 1
	StatusFailure Status = 2
)

// Response is the server's answer to one request. A success optionally
// carries a value (a Get hit); HasValue distinguishes "no value" from an
// empty value. A failure carries only a message.
type Response struct {
	Status   Status
	Value    string
	HasValue bool
	Message  string
}

// SuccessNone acknowledges a Set or Remove, and is also a Get miss.
func SuccessNone() Response {
	return Response{Status: StatusSuccess}
}

// SuccessValue is a Get hit.
func SuccessValue(v string) Response {
	return Response{Status: StatusSuccess, Value: v, HasValue: true}
}

// Failure reports an error message to the peer.
func Failure(msg string) Response {
	return Response{Status: StatusFailure, Message: msg}
}

func (r Response) String() string {
	switch {
	case r.Status == StatusFailure:
		return fmt.Sprintf("Failure(%q)", r.Message)
	case r.HasValue:
		return fmt.Sprintf("Success(%q)", r.Value)
	default:
		return "Success(None)"
	}
}

// Body field numbers shared by both frame kinds: 1 = op/status (varint),
// 2 = key/value (bytes), 3 = value/message (bytes).
const (
	fieldTag    protowire.Number = 1
	fieldFirst  protowire.Number = 2
	fieldSecond protowire.Number = 3
)

const (
	checksumSize = 4

	// maxFrameSize bounds one frame on the wire.
	maxFrameSize = 64 << 20
)

// WriteRequest encodes one request frame to w.
func WriteRequest(w io.Writer, req Request) error {
	body := protowire.AppendTag(nil, fieldTag, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(req.Op))
	body = protowire.AppendTag(body, fieldFirst, protowire.BytesType)
	body = protowire.AppendBytes(body, []byte(req.Key))
	if req.Op == OpSet {
		body = protowire.AppendTag(body, fieldSecond, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte(req.Value))
	}
	return writeFrame(w, body)
}

// ReadRequest decodes one request frame from r. The second return is false
// when the peer closed the stream cleanly; a frame that cannot be decoded
// returns an ErrDecode error.
func ReadRequest(r *bufio.Reader) (Request, bool, error) {
	body, ok, err := readFrame(r)
	if err != nil || !ok {
		return Request{}, ok, err
	}
	req, err := decodeRequestBody(body)
	return req, true, err
}

// WriteResponse encodes one response frame to w.
func WriteResponse(w io.Writer, resp Response) error {
	body := protowire.AppendTag(nil, fieldTag, protowire.VarintType)
	body = protowire.AppendVarint(body, uint64(resp.Status))
	if resp.HasValue {
		body = protowire.AppendTag(body, fieldFirst, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte(resp.Value))
	}
	if resp.Status == StatusFailure {
		body = protowire.AppendTag(body, fieldSecond, protowire.BytesType)
		body = protowire.AppendBytes(body, []byte(resp.Message))
	}
	return writeFrame(w, body)
}

// ReadResponse decodes one response frame from r, with the same clean-close
// semantics as ReadRequest.
func ReadResponse(r *bufio.Reader) (Response, bool, error) {
	body, ok, err := readFrame(r)
	if err != nil || !ok {
		return Response{}, ok, err
	}
	resp, err := decodeResponseBody(body)
	return resp, true, err
}

func decodeRequestBody(body []byte) (Request, error) {
	var req Request
	err := consumeFields(body, func(num protowire.Number, b []byte, v uint64, isBytes bool) error {
		switch {
		case num == fieldTag && !isBytes:
			req.Op = RequestOp(v)
		case num == fieldFirst && isBytes:
			req.Key = string(b)
		case num == fieldSecond && isBytes:
			req.Value = string(b)
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	if req.Op != OpSet && req.Op != OpGet && req.Op != OpRemove {
		return Request{}, fmt.Errorf("%w: unknown request op %d", ErrDecode, req.Op)
	}
	return req, nil
}

func decodeResponseBody(body []byte) (Response, error) {
	var resp Response
	err := consumeFields(body, func(num protowire.Number, b []byte, v uint64, isBytes bool) error {
		switch {
		case num == fieldTag && !isBytes:
			resp.Status = Status(v)
		case num == fieldFirst && isBytes:
			resp.Value = string(b)
			resp.HasValue = true
		case num == fieldSecond && isBytes:
			resp.Message = string(b)
		}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if resp.Status != StatusSuccess && resp.Status != StatusFailure {
		return Response{}, fmt.Errorf("%w: unknown response status %d", ErrDecode, resp.Status)
	}
	return resp, nil
}

// consumeFields walks a tagged body, calling fn once per known-shaped
// field. Unknown fields are skipped.
func consumeFields(body []byte, fn func(num protowire.Number, b []byte, v uint64, isBytes bool) error) error {
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
		}
		body = body[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
			}
			if err := fn(num, nil, v, false); err != nil {
				return err
			}
			body = body[n:]
		case protowire.BytesType:
			b, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
			}
			if err := fn(num, b, 0, true); err != nil {
				return err
			}
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrDecode, protowire.ParseError(n))
			}
			body = body[n:]
		}
	}
	return nil
}

func writeFrame(w io.Writer, body []byte) error {
	frame := protowire.AppendVarint(nil, uint64(checksumSize+len(body)))
	sum := frameChecksum(body)
	frame = append(frame, sum[:]...)
	frame = append(frame, body...)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readFrame reads one whole frame. An EOF at any point, even inside a
// frame, reports a clean close; the peer hanging up mid-exchange is
// "client is done", not an error.
func readFrame(r *bufio.Reader) ([]byte, bool, error) {
	frameLen, _, err := readUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if frameLen < checksumSize || frameLen > maxFrameSize {
		return nil, true, fmt.Errorf("%w: frame length %d out of range", ErrDecode, frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, false, nil
		}
		return nil, false, err
	}

	body := frame[checksumSize:]
	if sum := frameChecksum(body); !bytes.Equal(sum[:], frame[:checksumSize]) {
		return nil, true, fmt.Errorf("%w: frame checksum mismatch", ErrDecode)
	}
	return body, true, nil
}

func frameChecksum(body []byte) [checksumSize]byte {
	h := blake3.New()
	h.Write(body)
	var sum [checksumSize]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

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
				return 0, i + 1, fmt.Errorf("%w: varint overflow", ErrDecode)
			}
			return x | uint64(b)<<s, i + 1, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, binary.MaxVarintLen64, fmt.Errorf("%w: varint overflow", ErrDecode)
}
