package bridge

// Status is the lifecycle state of an order.
type Status string

// Order statuses, in the usual order of progression. Failed and finalized
// are terminal for relaying purposes.
const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in-progress"
	StatusReadyForRelay Status = "ready-for-relay"
	StatusRelayed       Status = "relayed"
	StatusFailed        Status = "failed"
	StatusFinalized     Status = "finalized"
)

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReadyForRelay,
		StatusRelayed, StatusFailed, StatusFinalized:
		return true
	default:
		return false
	}
}

// Active reports whether an order in this status is still tracked by the
// oracle fleet (pending or in-progress).
func (s Status) Active() bool {
	return s == StatusPending || s == StatusInProgress
}

// CanTransition reports whether an order may move from s to next. Orders
// that were relayed or finalized must never become ready-for-relay again.
func (s Status) CanTransition(next Status) bool {
	if next == StatusReadyForRelay && (s == StatusRelayed || s == StatusFinalized) {
		return false
	}
	return true
}
