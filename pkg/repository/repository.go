/*
Package repository implements the hub persistence contracts on top of a
storage.Store: the orders repository (orders, their oracle signatures and
status indexes) and the events repository (the deduplicated on-chain event
log). All writes of one logical operation go through a single atomic
changeset; every repository serializes its writers with a mutex, so readers
never observe duplicate rows.
*/
package repository

import (
	"encoding/binary"
	"fmt"

	"github.com/qsbridge/bridgehub/pkg/storage"
)

// Version is the storage schema version checked on startup. Repositories
// refuse to work with a database created by an incompatible hub version.
const Version = "1"

// Init writes the schema version into an empty store and verifies it on
// subsequent runs.
func Init(st storage.Store) error {
	key := storage.SYSVersion.Bytes()
	v, err := st.Get(key)
	switch {
	case err == nil:
		if string(v) != Version {
			return fmt.Errorf("storage version mismatch (want %s, got %s)", Version, v)
		}
		return nil
	case err == storage.ErrKeyNotFound:
		return st.PutChangeSet(map[string][]byte{string(key): []byte(Version)})
	default:
		return fmt.Errorf("failed to check storage version: %w", err)
	}
}

func be8(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
