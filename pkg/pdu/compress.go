package pdu

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// compress runs the LZ4 block compressor with a bound-sized scratch buffer.
func compress(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		// Incompressible input: emit a single literal run, which is still a
		// valid block for the decoder on the other side.
		return literalBlock(data), nil
	}
	return buf[:n], nil
}

// literalBlock encodes data as one LZ4 literal sequence without a match.
func literalBlock(data []byte) []byte {
	n := len(data)
	out := make([]byte, 0, n+n/255+2)
	if n < 15 {
		out = append(out, byte(n)<<4)
	} else {
		out = append(out, 0xF0)
		rem := n - 15
		for rem >= 255 {
			out = append(out, 0xFF)
			rem -= 255
		}
		out = append(out, byte(rem))
	}
	return append(out, data...)
}

// decompress inflates an LZ4 block with a known uncompressed length.
func decompress(data []byte, uncompressedLen int) ([]byte, error) {
	out := make([]byte, uncompressedLen)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != uncompressedLen {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, want %d", n, uncompressedLen)
	}
	return out, nil
}
