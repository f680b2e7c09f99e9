package voxel

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// AppendRLE appends (block_id, run_len) uvarint pairs for ids to dst.
func AppendRLE(dst []byte, ids []uint16) []byte {
	var tmp [binary.MaxVarintLen64]byte
	i := 0
	for i < len(ids) {
		b := ids[i]
		run := 1
		for j := i + 1; j < len(ids) && ids[j] == b && run < 1<<31; j++ {
			run++
		}
		n := binary.PutUvarint(tmp[:], uint64(b))
		dst = append(dst, tmp[:n]...)
		n = binary.PutUvarint(tmp[:], uint64(run))
		dst = append(dst, tmp[:n]...)
		i += run
	}
	return dst
}

// ReadRLE decodes uvarint pairs until raw is exhausted or limit ids were read.
func ReadRLE(raw []byte, limit int) ([]uint16, int, error) {
	out := make([]uint16, 0, limit)
	i := 0
	for i < len(raw) && len(out) < limit {
		b, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, i, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, i, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if b > 0xFFFF {
			return nil, i, fmt.Errorf("block id too large: %d", b)
		}
		if run == 0 || run > uint64(limit-len(out)) {
			return nil, i, fmt.Errorf("run length %d overflows %d remaining ids", run, limit-len(out))
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, uint16(b))
		}
	}
	return out, i, nil
}

// EncodeRLE is the base64 form used on the wire.
func EncodeRLE(ids []uint16) string {
	return base64.StdEncoding.EncodeToString(AppendRLE(nil, ids))
}

func DecodeRLE(b64 string, limit int) ([]uint16, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	ids, _, err := ReadRLE(raw, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) != limit {
		return nil, fmt.Errorf("decoded %d ids want %d", len(ids), limit)
	}
	return ids, nil
}
