package keys

import (
	"fmt"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Store holds the current hub keys snapshot and reloads it from the same
// file on demand. Current never blocks on a reload in progress.
type Store struct {
	path string
	log  *zap.Logger
	cur  atomic.Value
}

// NewStore loads the keys file at path and returns a store bound to it.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	hk, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log}
	s.cur.Store(hk)
	return s, nil
}

// Current returns the active snapshot.
func (s *Store) Current() *HubKeys {
	return s.cur.Load().(*HubKeys)
}

// Path returns the keys file path the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Reload re-reads the keys file and atomically swaps the snapshot in. On
// failure the previous snapshot stays active.
func (s *Store) Reload() error {
	hk, err := Load(s.path)
	if err != nil {
		return fmt.Errorf("keys reload failed: %w", err)
	}
	old := s.Current()
	s.cur.Store(hk)
	if old.Current.Kid != hk.Current.Kid {
		s.log.Info("hub signing key rotated",
			zap.String("oldKid", old.Current.Kid),
			zap.String("kid", hk.Current.Kid))
	} else {
		s.log.Info("hub keys reloaded", zap.String("kid", hk.Current.Kid))
	}
	return nil
}
