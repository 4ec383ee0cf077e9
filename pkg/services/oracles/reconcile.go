package oracles

import (
	"errors"
	"fmt"
	"math"

	"github.com/qsbridge/bridgehub/pkg/bridge"
)

// ErrReconcileMismatch means oracle reports disagree on immutable order
// fields; the whole group is untrustworthy.
var ErrReconcileMismatch = errors.New("oracle reports disagree on order fields")

// ErrNoConsensus means the status vote tied with no winner.
var ErrNoConsensus = errors.New("no status consensus among oracle reports")

// Reconcile merges a group of oracle reports for the same order into one
// canonical row. All reports must agree on the immutable fields; status is
// elected by plurality (strict ties fail) and the destination hash by
// plurality of non-empty values with first-seen tie-breaking. The group
// must not be empty, callers own that check.
func Reconcile(group []bridge.Order) (bridge.Order, error) {
	if len(group) == 0 {
		panic("reconcile of an empty report group")
	}
	first := group[0]
	for _, o := range group[1:] {
		if o.Source != first.Source ||
			o.Dest != first.Dest ||
			o.From != first.From ||
			o.To != first.To ||
			o.Amount != first.Amount ||
			o.RelayerFee != first.RelayerFee ||
			o.OriginTrxHash != first.OriginTrxHash ||
			o.OracleAcceptToRelay != first.OracleAcceptToRelay {
			return bridge.Order{}, fmt.Errorf("%w: order %s", ErrReconcileMismatch, first.ID)
		}
	}
	status, err := electStatus(group)
	if err != nil {
		return bridge.Order{}, fmt.Errorf("%w: order %s", err, first.ID)
	}
	res := first
	res.Status = status
	if hash, ok := electTrxHash(group); ok {
		res.DestinationTrxHash = hash
	}
	return res, nil
}

// electStatus picks the plurality status. A strict tie between two or more
// leading statuses is a failure, not a guess.
func electStatus(group []bridge.Order) (bridge.Status, error) {
	counts := make(map[bridge.Status]int, len(group))
	for _, o := range group {
		counts[o.Status]++
	}
	var (
		best    bridge.Status
		bestN   int
		tiedTop bool
	)
	for _, o := range group { // group order keeps the scan deterministic
		n := counts[o.Status]
		switch {
		case n > bestN:
			best, bestN, tiedTop = o.Status, n, false
		case n == bestN && o.Status != best:
			tiedTop = true
		}
	}
	if tiedTop {
		return "", ErrNoConsensus
	}
	return best, nil
}

// electTrxHash picks the most reported non-empty destination hash, ties
// resolved in first-seen order. ok is false when every report left it
// empty.
func electTrxHash(group []bridge.Order) (string, bool) {
	counts := make(map[string]int, len(group))
	var order []string
	for _, o := range group {
		if o.DestinationTrxHash == "" {
			continue
		}
		if counts[o.DestinationTrxHash] == 0 {
			order = append(order, o.DestinationTrxHash)
		}
		counts[o.DestinationTrxHash]++
	}
	if len(order) == 0 {
		return "", false
	}
	best := order[0]
	for _, h := range order[1:] {
		if counts[h] > counts[best] {
			best = h
		}
	}
	return best, true
}

// RequiredSignatures converts a threshold setting into a signature count.
// Thresholds in (0, 1] are a ratio of the oracle count (rounded up), other
// values are absolute counts (rounded down). Never less than one.
func RequiredSignatures(threshold float64, oracleCount int) int {
	var required int
	if threshold > 0 && threshold <= 1 {
		required = int(math.Ceil(float64(oracleCount) * threshold))
	} else {
		required = int(math.Floor(threshold))
	}
	if required < 1 {
		required = 1
	}
	return required
}
