package bridge

import (
	"encoding/json"
	"time"
)

// EventType names a bridge program event. Chain S emits transfer records,
// chain Q emits lock/unlock records.
type EventType string

// Known event types per chain.
const (
	EventOutbound         EventType = "outbound"
	EventOverrideOutbound EventType = "override-outbound"
	EventInbound          EventType = "inbound"

	EventLock         EventType = "lock"
	EventOverrideLock EventType = "override-lock"
	EventUnlock       EventType = "unlock"
)

// ValidFor reports whether the event type belongs to the given chain.
func (t EventType) ValidFor(c Chain) bool {
	switch c {
	case ChainSolana:
		return t == EventOutbound || t == EventOverrideOutbound || t == EventInbound
	case ChainQubic:
		return t == EventLock || t == EventOverrideLock || t == EventUnlock
	default:
		return false
	}
}

// StoredEvent is one deduplicated on-chain bridge event. Uniqueness is
// enforced by the events repository on (signature, type, nonce).
type StoredEvent struct {
	ID        uint64          `json:"id"`
	Signature string          `json:"signature"`
	Slot      *uint64         `json:"slot,omitempty"`
	Chain     Chain           `json:"chain"`
	Type      EventType       `json:"type"`
	Nonce     string          `json:"nonce"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DedupKey returns the tuple the repository deduplicates on.
func (e *StoredEvent) DedupKey() (signature string, typ EventType, nonce string) {
	return e.Signature, e.Type, e.Nonce
}
