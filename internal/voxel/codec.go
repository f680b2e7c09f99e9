package voxel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const codecMagic = "VXD1"

// MaxSize bounds the chunk edge accepted by Decode.
const MaxSize = 256

var ErrMalformed = errors.New("voxel: malformed data")

// Encode serializes d as magic, uvarint version, uvarint size, RLE blocks.
func Encode(d *Data) []byte {
	buf := make([]byte, 0, 16+len(d.Blocks)/8)
	buf = append(buf, codecMagic...)
	buf = binary.AppendUvarint(buf, d.Version)
	buf = binary.AppendUvarint(buf, uint64(d.Size))
	return AppendRLE(buf, d.Blocks)
}

func Decode(b []byte) (*Data, error) {
	if len(b) < len(codecMagic) || string(b[:len(codecMagic)]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	b = b[len(codecMagic):]
	version, n := binary.Uvarint(b)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad version", ErrMalformed)
	}
	b = b[n:]
	size, n := binary.Uvarint(b)
	if n <= 0 || size == 0 || size > MaxSize {
		return nil, fmt.Errorf("%w: bad size", ErrMalformed)
	}
	b = b[n:]
	want := int(size * size * size)
	blocks, used, err := ReadRLE(b, want)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(blocks) != want || used != len(b) {
		return nil, fmt.Errorf("%w: block count %d want %d", ErrMalformed, len(blocks), want)
	}
	return &Data{Size: int(size), Version: version, Blocks: blocks, dirty: true}, nil
}
