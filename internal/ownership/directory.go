package ownership

import (
	"encoding/binary"
	"sort"

	"github.com/cespare/xxhash/v2"

	"voxelflow.ai/internal/chunk"
)

// Directory assigns each chunk to exactly one authority node with
// rendezvous hashing. Every participant built from the same node list agrees
// on the owner, and removing a node only moves that node's chunks.
type Directory struct {
	nodes []string
}

func NewDirectory(nodes ...string) *Directory {
	ns := append([]string(nil), nodes...)
	sort.Strings(ns)
	return &Directory{nodes: ns}
}

func (d *Directory) Nodes() []string { return append([]string(nil), d.nodes...) }

// Owner returns the node for a, or "" when the directory is empty.
func (d *Directory) Owner(a chunk.Address) string {
	var best string
	var bestScore uint64
	for i, n := range d.nodes {
		s := score(n, a)
		if i == 0 || s > bestScore {
			best, bestScore = n, s
		}
	}
	return best
}

func (d *Directory) Owns(node string, a chunk.Address) bool { return d.Owner(a) == node }

func score(node string, a chunk.Address) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(node)
	var buf [1 + 3*binary.MaxVarintLen64]byte
	buf[0] = a.Face
	n := 1
	n += binary.PutVarint(buf[n:], int64(a.X))
	n += binary.PutVarint(buf[n:], int64(a.Y))
	n += binary.PutVarint(buf[n:], int64(a.Z))
	_, _ = h.Write(buf[:n])
	return h.Sum64()
}
