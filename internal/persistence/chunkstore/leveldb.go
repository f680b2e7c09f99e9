package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"

	"voxelflow.ai/internal/chunk"
)

// LevelDB stores chunks under a binary address key.
type LevelDB struct {
	db *leveldb.DB
}

func OpenLevelDB(path string) (*LevelDB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty leveldb path")
	}
	db, err := leveldb.OpenFile(path, &opt.Options{Compression: opt.SnappyCompression})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Save(ctx context.Context, a chunk.Address, b []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put(encodeKey(a), b, nil)
}

func (l *LevelDB) Load(ctx context.Context, a chunk.Address) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	b, err := l.db.Get(encodeKey(a), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

func (l *LevelDB) List(context.Context) ([]chunk.Address, error) {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()
	var out []chunk.Address
	for it.Next() {
		a, err := decodeKey(it.Key())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func (l *LevelDB) Close() error { return l.db.Close() }
