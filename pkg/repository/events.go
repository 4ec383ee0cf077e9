package repository

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/storage"
)

// Event listing limits applied when the caller leaves them unset.
const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

var eventSeqKey = storage.AppendPrefix(storage.SYSSequence, []byte("events"))

// Events is the deduplicated on-chain event log. Uniqueness is enforced on
// the (signature, type, nonce) tuple; inserting a duplicate is not an error
// and yields a nil event.
type Events struct {
	mtx   sync.Mutex
	store storage.Store
}

// NewEvents creates an events repository on the given store.
func NewEvents(st storage.Store) *Events {
	return &Events{store: st}
}

func eventKey(id uint64) []byte {
	return storage.AppendPrefix(storage.STEvent, be8(id))
}

// eventDedupKey is the uniqueness key. Signatures, types and nonces are
// text (base58/base64/hex) and never contain a zero byte, so a zero byte
// separates the parts unambiguously.
func eventDedupKey(sig string, typ bridge.EventType, nonce string) []byte {
	b := make([]byte, 0, 3+len(sig)+len(typ)+len(nonce))
	b = append(b, byte(storage.STEventDedup))
	b = append(b, sig...)
	b = append(b, 0)
	b = append(b, typ...)
	b = append(b, 0)
	b = append(b, nonce...)
	return b
}

func eventSigPrefix(sig string) []byte {
	b := make([]byte, 0, 2+len(sig))
	b = append(b, byte(storage.STEventDedup))
	b = append(b, sig...)
	b = append(b, 0)
	return b
}

func eventTimeKey(at time.Time, id uint64) []byte {
	b := make([]byte, 17)
	b[0] = byte(storage.STEventTime)
	binary.BigEndian.PutUint64(b[1:], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(b[9:], id)
	return b
}

// Create stores the event unless its (signature, type, nonce) tuple was
// seen before, in which case (nil, nil) is returned. The stored event gets
// a fresh monotone id; a zero CreatedAt is stamped with the current time.
func (r *Events) Create(e bridge.StoredEvent) (*bridge.StoredEvent, error) {
	if e.Signature == "" {
		return nil, errors.New("event signature is empty")
	}
	if !e.Chain.Valid() {
		return nil, fmt.Errorf("invalid event chain %q", string(e.Chain))
	}
	if !e.Type.ValidFor(e.Chain) {
		return nil, fmt.Errorf("event type %q does not belong to chain %q", string(e.Type), string(e.Chain))
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	dedup := eventDedupKey(e.Signature, e.Type, e.Nonce)
	if _, err := r.store.Get(dedup); err == nil {
		return nil, nil
	}

	last, err := r.lastEventID()
	if err != nil {
		return nil, err
	}
	e.ID = last + 1

	data, err := json.Marshal(&e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	puts := make(map[string][]byte, 4)
	puts[string(eventSeqKey)] = be8(e.ID)
	puts[string(eventKey(e.ID))] = data
	puts[string(dedup)] = be8(e.ID)
	puts[string(eventTimeKey(e.CreatedAt, e.ID))] = be8(e.ID)
	if err := r.store.PutChangeSet(puts); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Events) lastEventID() (uint64, error) {
	v, err := r.store.Get(eventSeqKey)
	if err == storage.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, errors.New("corrupted event sequence")
	}
	return binary.BigEndian.Uint64(v), nil
}

// FindExistingSignatures intersects the given transaction signatures with
// the event log and returns the subset that already has at least one stored
// event.
func (r *Events) FindExistingSignatures(sigs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	for _, sig := range sigs {
		if sig == "" {
			continue
		}
		if _, ok := existing[sig]; ok {
			continue
		}
		r.store.Seek(storage.SeekRange{Prefix: eventSigPrefix(sig)}, func(_, _ []byte) bool {
			existing[sig] = struct{}{}
			return false
		})
	}
	return existing, nil
}

// ListAfterCreatedAt returns up to limit events whose (createdAt, id) tuple
// is strictly greater than the given cursor, ordered ascending.
func (r *Events) ListAfterCreatedAt(createdAfter time.Time, afterID uint64, limit int) ([]bridge.StoredEvent, error) {
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	afterNano := uint64(0)
	if !createdAfter.IsZero() {
		afterNano = uint64(createdAfter.UnixNano())
	}

	var (
		ids    []uint64
		curErr error
	)
	start := make([]byte, 16)
	binary.BigEndian.PutUint64(start, afterNano)
	binary.BigEndian.PutUint64(start[8:], afterID)
	r.store.Seek(storage.SeekRange{Prefix: storage.STEventTime.Bytes(), Start: start}, func(k, v []byte) bool {
		if len(k) != 17 || len(v) != 8 {
			curErr = errors.New("corrupted event time index")
			return false
		}
		nano := binary.BigEndian.Uint64(k[1:9])
		id := binary.BigEndian.Uint64(k[9:])
		// Seek includes the start key, the cursor itself is excluded.
		if nano < afterNano || (nano == afterNano && id <= afterID) {
			return true
		}
		ids = append(ids, binary.BigEndian.Uint64(v))
		return len(ids) < limit
	})
	if curErr != nil {
		return nil, curErr
	}

	events := make([]bridge.StoredEvent, 0, len(ids))
	for _, id := range ids {
		data, err := r.store.Get(eventKey(id))
		if err != nil {
			return nil, fmt.Errorf("event %d listed but not stored: %w", id, err)
		}
		var e bridge.StoredEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to decode event %d: %w", id, err)
		}
		events = append(events, e)
	}
	return events, nil
}
