package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/qsbridge/bridgehub/pkg/storage/dbconfig"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// BadgerDBStore is the BadgerDB implementation of the Store interface.
type BadgerDBStore struct {
	db *badger.DB
}

// NewBadgerDBStore returns a new BadgerDBStore using the given dir.
func NewBadgerDBStore(cfg dbconfig.BadgerDBOptions) (*BadgerDBStore, error) {
	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("could not create dir for BadgerDB: %w", err)
	}
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB instance: %w", err)
	}
	return &BadgerDBStore{db: db}, nil
}

// Get implements the Store interface.
func (s *BadgerDBStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = ErrKeyNotFound
	}
	return val, err
}

// PutChangeSet implements the Store interface.
func (s *BadgerDBStore) PutChangeSet(puts map[string][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for k, v := range puts {
			var err error
			if v != nil {
				err = txn.Set([]byte(k), v)
			} else {
				err = txn.Delete([]byte(k))
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Seek implements the Store interface.
func (s *BadgerDBStore) Seek(rng SeekRange, f func(k, v []byte) bool) {
	start := make([]byte, len(rng.Prefix)+len(rng.Start))
	copy(start, rng.Prefix)
	copy(start[len(rng.Prefix):], rng.Start)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = rng.Backwards
		it := txn.NewIterator(opts)
		defer it.Close()

		var seekKey = start
		if rng.Backwards {
			// Badger's reverse Seek lands on the first key <= the target,
			// the exclusive limit itself has to be skipped below.
			seekKey = util.BytesPrefix(start).Limit
		}
		for it.Seek(seekKey); it.ValidForPrefix(rng.Prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if rng.Backwards && bytes.Compare(k, seekKey) >= 0 {
				continue
			}
			var cont bool
			err := item.Value(func(v []byte) error {
				cont = f(k, v)
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
	if err != nil {
		panic(fmt.Errorf("failed to perform Seek in BadgerDB: %w", err))
	}
}

// Close implements the Store interface.
func (s *BadgerDBStore) Close() error {
	return s.db.Close()
}
