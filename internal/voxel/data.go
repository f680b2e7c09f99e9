package voxel

import (
	"crypto/sha256"
	"encoding/binary"
)

// Data is a cube of block ids. Index order is x, then z, then y.
type Data struct {
	Size    int
	Version uint64
	Blocks  []uint16 // len = Size^3

	dirty bool
	hash  [32]byte
}

func New(size int) *Data {
	return &Data{
		Size:   size,
		Blocks: make([]uint16, size*size*size),
		dirty:  true,
	}
}

func (d *Data) index(x, y, z int) int {
	return x + z*d.Size + y*d.Size*d.Size
}

func (d *Data) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < d.Size && y < d.Size && z < d.Size
}

func (d *Data) Get(x, y, z int) uint16 {
	return d.Blocks[d.index(x, y, z)]
}

// Set writes b at (x,y,z) and reports whether the stored value changed.
func (d *Data) Set(x, y, z int, b uint16) bool {
	i := d.index(x, y, z)
	if d.Blocks[i] == b {
		return false
	}
	d.Blocks[i] = b
	d.dirty = true
	return true
}

// Clone returns an owned deep copy.
func (d *Data) Clone() *Data {
	blocks := make([]uint16, len(d.Blocks))
	copy(blocks, d.Blocks)
	return &Data{Size: d.Size, Version: d.Version, Blocks: blocks, dirty: true}
}

func (d *Data) Digest() [32]byte {
	if d.dirty || d.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range d.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(d.hash[:], h.Sum(nil))
		d.dirty = false
	}
	return d.hash
}
