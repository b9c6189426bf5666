package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aalhour/rockybind/internal/logging"
)

const (
	metaTag byte = 0x00
	dataTag byte = 0x01

	// purgeChunk bounds the number of deletes per batch when removing the
	// data of a dropped column family.
	purgeChunk = 1024
)

var (
	metaCFPrefix = []byte{metaTag, 'c', 'f', ':'}
	nextIDKey    = []byte{metaTag, 'n', 'e', 'x', 't', '_', 'c', 'f', '_', 'i', 'd'}
)

func metaKey(name string) []byte {
	k := make([]byte, 0, len(metaCFPrefix)+len(name))
	k = append(k, metaCFPrefix...)
	return append(k, name...)
}

func encodeID(id uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, id)
}

func decodeID(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: column family id has %d bytes", ErrCorruption, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

func dataPrefix(id uint32) []byte {
	return binary.BigEndian.AppendUint32([]byte{dataTag}, id)
}

func dataKey(cf *ColumnFamily, key []byte) []byte {
	k := make([]byte, 0, len(cf.prefix)+len(key))
	k = append(k, cf.prefix...)
	return append(k, key...)
}

// idRange covers every data key of column family id.
func idRange(id uint32) *util.Range {
	return util.BytesPrefix(dataPrefix(id))
}

// loadMetadata reads the column family catalog and the next ID to assign.
func loadMetadata(ldb *leveldb.DB) (map[string]uint32, uint32, error) {
	meta := make(map[string]uint32)
	var nextID uint32

	it := ldb.NewIterator(util.BytesPrefix([]byte{metaTag}), nil)
	defer it.Release()
	for it.Next() {
		k := it.Key()
		switch {
		case bytes.Equal(k, nextIDKey):
			id, err := decodeID(it.Value())
			if err != nil {
				return nil, 0, err
			}
			nextID = id
		case bytes.HasPrefix(k, metaCFPrefix):
			id, err := decodeID(it.Value())
			if err != nil {
				return nil, 0, err
			}
			meta[string(k[len(metaCFPrefix):])] = id
		}
	}
	if err := it.Error(); err != nil {
		return nil, 0, fmt.Errorf("engine: read column family metadata: %w", err)
	}
	for _, id := range meta {
		nextID = max(nextID, id+1)
	}
	return meta, nextID, nil
}

// purgeRange deletes every key of column family id in bounded batches.
func (db *DB) purgeRange(id uint32) (int, error) {
	total := 0
	for {
		batch := new(leveldb.Batch)
		it := db.ldb.NewIterator(idRange(id), nil)
		for batch.Len() < purgeChunk && it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return total, err
		}
		if batch.Len() == 0 {
			return total, nil
		}
		if err := db.ldb.Write(batch, nil); err != nil {
			return total, err
		}
		total += batch.Len()
	}
}

// purgeOrphans removes data whose column family no longer has metadata. That
// happens when a process stops between deleting a family's metadata and
// deleting its data.
func (db *DB) purgeOrphans() error {
	known := make(map[uint32]bool, len(db.families)+1)
	known[DefaultColumnFamilyID] = true
	meta, _, err := loadMetadata(db.ldb)
	if err != nil {
		return err
	}
	for _, id := range meta {
		known[id] = true
	}

	var orphans []uint32
	it := db.ldb.NewIterator(util.BytesPrefix([]byte{dataTag}), nil)
	for ok := it.First(); ok; {
		k := it.Key()
		if len(k) < 5 {
			ok = it.Next()
			continue
		}
		id := binary.BigEndian.Uint32(k[1:5])
		if !known[id] {
			orphans = append(orphans, id)
		}
		if id == ^uint32(0) {
			break
		}
		ok = it.Seek(dataPrefix(id + 1))
	}
	err = it.Error()
	it.Release()
	if err != nil {
		return err
	}

	for _, id := range orphans {
		n, err := db.purgeRange(id)
		if err != nil {
			return err
		}
		db.logger.Warnf("%spurged %d orphaned keys of column family id %d", logging.NSEngine, n, id)
	}
	return nil
}
