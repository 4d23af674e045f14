// Package statsdb persists the cumulative process counters in a LevelDB
// database so that totals such as client_requests survive a restart.
package statsdb

import (
	"errors"
	"fmt"
	"time"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/dm-vev/sqe/server/stats"
	"github.com/fxamacker/cbor/v2"
)

// recordVersion is bumped whenever the layout of record changes incompatibly.
const recordVersion = 1

var globalKey = []byte("stats/global")

// ErrUnsupportedVersion is returned by Load if the stored checkpoint was
// written by an incompatible version.
var ErrUnsupportedVersion = errors.New("statsdb: unsupported checkpoint version")

// record is the stored form of a checkpoint. Counters are keyed by their wire
// name so that adding or reordering fields in stats.Counters keeps old
// checkpoints readable.
type record struct {
	Version  int              `cbor:"1,keyasint"`
	SavedAt  int64            `cbor:"2,keyasint"`
	Counters map[string]int64 `cbor:"3,keyasint"`
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("statsdb: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// DB stores counter checkpoints. The zero value is not usable; use Open.
type DB struct {
	ldb *leveldb.DB
}

// Open opens, or creates, the checkpoint database in dir.
func Open(dir string) (*DB, error) {
	ldb, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("statsdb: open %s: %w", dir, err)
	}
	return &DB{ldb: ldb}, nil
}

// Save writes the present counters of c as the latest checkpoint.
func (db *DB) Save(c stats.Counters) error {
	rec := record{
		Version:  recordVersion,
		SavedAt:  time.Now().Unix(),
		Counters: make(map[string]int64, stats.Count(c)),
	}
	for name, v := range stats.All(c) {
		rec.Counters[name] = v
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("statsdb: encode checkpoint: %w", err)
	}
	if err := db.ldb.Put(globalKey, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("statsdb: write checkpoint: %w", err)
	}
	return nil
}

// Load reads the latest checkpoint. The boolean is false if no checkpoint has
// been saved yet. Counters missing from the checkpoint, or unknown to this
// version, are left at zero.
func (db *DB) Load() (stats.Counters, time.Time, bool, error) {
	data, err := db.ldb.Get(globalKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return stats.Counters{}, time.Time{}, false, nil
	case err != nil:
		return stats.Counters{}, time.Time{}, false, fmt.Errorf("statsdb: read checkpoint: %w", err)
	}

	var rec record
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return stats.Counters{}, time.Time{}, false, fmt.Errorf("statsdb: decode checkpoint: %w", err)
	}
	if rec.Version != recordVersion {
		return stats.Counters{}, time.Time{}, false, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	var c stats.Counters
	for name, v := range rec.Counters {
		c.Set(name, v)
	}
	return c, time.Unix(rec.SavedAt, 0), true, nil
}

// Close closes the underlying database.
func (db *DB) Close() error {
	return db.ldb.Close()
}
