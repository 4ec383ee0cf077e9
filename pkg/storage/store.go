/*
Package storage is the KV layer backing the hub repositories. It exposes a
single Store interface with pluggable LevelDB, BoltDB, BadgerDB and
in-memory backends selected via configuration.
*/
package storage

import (
	"errors"
	"fmt"

	"github.com/qsbridge/bridgehub/pkg/storage/dbconfig"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// KeyPrefix constants. Every stored record family gets its own prefix so
// that ordered Seek over one family never crosses into another.
const (
	// STOrder maps an order id to its JSON row.
	STOrder KeyPrefix = 0x01
	// STOrderTrx maps an origin transaction hash to an order id.
	STOrderTrx KeyPrefix = 0x02
	// STOrderStatus indexes order ids by status byte.
	STOrderStatus KeyPrefix = 0x03
	// STSignature holds accumulated oracle signatures per order.
	STSignature KeyPrefix = 0x04
	// STEvent maps a big-endian event id to its JSON row.
	STEvent KeyPrefix = 0x10
	// STEventDedup enforces (signature, type, nonce) uniqueness.
	STEventDedup KeyPrefix = 0x11
	// STEventTime orders events by (createdAt, id) for cursor paging.
	STEventTime KeyPrefix = 0x12
	// SYSSequence holds monotone id counters.
	SYSSequence KeyPrefix = 0xc0
	// SYSVersion is the storage schema version.
	SYSVersion KeyPrefix = 0xf0
)

// SeekRange represents options for the Store.Seek operation.
type SeekRange struct {
	// Prefix denotes the Seek's lookup key. Empty Prefix is not supported.
	Prefix []byte
	// Start denotes the value appended to the Prefix to start Seek from.
	// Seeking starting from some key includes this key to the result; if
	// no matching key was found then the next suitable key is picked up.
	// Start may be empty. Empty Start means seeking through all keys in
	// the DB with the matching Prefix.
	Start []byte
	// Backwards denotes whether Seek direction should be reversed, i.e.
	// whether seeking should be performed in a descending way.
	// Backwards can be safely combined with Prefix and Start.
	Backwards bool
}

// KeyValue represents a key-value pair.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// ErrKeyNotFound is an error returned by Store implementations
// when a certain key is not found.
var ErrKeyNotFound = errors.New("key not found")

type (
	// Store is the underlying KV backend for hub data. Writes go through
	// PutChangeSet which applies the whole changeset atomically; a nil
	// value deletes the key.
	Store interface {
		Get([]byte) ([]byte, error)
		// PutChangeSet applies the given set of puts (and deletes, for
		// nil values) as a single atomic batch.
		PutChangeSet(puts map[string][]byte) error
		// Seek can guarantee that provided key (k) and value (v) are the
		// only valid until the next call to f. Seek continues iteration
		// until false is returned from f. Key and value slices should not
		// be modified. Key-value items are sorted by key in ascending way
		// (descending with SeekRange.Backwards).
		Seek(rng SeekRange, f func(k, v []byte) bool)
		Close() error
	}

	// KeyPrefix is a constant byte added as a prefix for each key
	// stored.
	KeyPrefix uint8
)

// Bytes returns the bytes representation of KeyPrefix.
func (k KeyPrefix) Bytes() []byte {
	return []byte{byte(k)}
}

// AppendPrefix prepends the prefix to the given key.
func AppendPrefix(k KeyPrefix, b []byte) []byte {
	dest := make([]byte, len(b)+1)
	dest[0] = byte(k)
	copy(dest[1:], b)
	return dest
}

func seekRangeToPrefixes(sr SeekRange) *util.Range {
	var (
		rang  *util.Range
		start = make([]byte, len(sr.Prefix)+len(sr.Start))
	)
	copy(start, sr.Prefix)
	copy(start[len(sr.Prefix):], sr.Start)

	if !sr.Backwards {
		rang = util.BytesPrefix(sr.Prefix)
		rang.Start = start
	} else {
		rang = util.BytesPrefix(start)
		rang.Start = sr.Prefix
	}
	return rang
}

// NewStore creates storage with the preselected in configuration database type.
func NewStore(cfg dbconfig.DBConfiguration) (Store, error) {
	var store Store
	var err error
	switch cfg.Type {
	case dbconfig.LevelDB:
		store, err = NewLevelDBStore(cfg.LevelDBOptions)
	case dbconfig.InMemoryDB:
		store = NewMemoryStore()
	case dbconfig.BoltDB:
		store, err = NewBoltDBStore(cfg.BoltDBOptions)
	case dbconfig.BadgerDB:
		store, err = NewBadgerDBStore(cfg.BadgerDBOptions)
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
	return store, err
}
