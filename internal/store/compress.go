package store

import "github.com/klauspost/compress/zstd"

var compressEncoder, _ = zstd.NewWriter(nil)

func compressBytes(src []byte) []byte {
	return compressEncoder.EncodeAll(src, make([]byte, 0, len(src)))
}

// A single decoder caches decompressors across calls. With a nil reader it
// only serves DecodeAll.
var compressDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))

func decompressBytes(src []byte) ([]byte, error) {
	return compressDecoder.DecodeAll(src, nil)
}
