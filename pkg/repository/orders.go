package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/storage"
)

// Page limits applied when a filter leaves them unset.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Errors returned by the orders repository.
var (
	// ErrOrderExists is returned by Create when the id or the origin
	// transaction hash is already taken.
	ErrOrderExists = errors.New("order already exists")
	// ErrStatusTransition is returned by Update when the requested status
	// change would move a relayed or finalized order back to
	// ready-for-relay.
	ErrStatusTransition = errors.New("forbidden status transition")
)

// SortOrder is the direction orders are paginated in, by creation time.
type SortOrder string

// Paging directions.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// OrderFilter selects and pages orders. Nil/zero fields do not filter.
type OrderFilter struct {
	Page  int
	Limit int
	Order SortOrder

	Source        *bridge.Chain
	Dest          *bridge.Chain
	Statuses      []bridge.Status
	From          string
	To            string
	AmountMin     *big.Int
	AmountMax     *big.Int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	ID            string
}

// Normalize applies the paging defaults: page one, the default limit capped
// at the maximum and descending creation order.
func (f *OrderFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	if f.Order == "" {
		f.Order = SortDesc
	}
}

// OrderUpdate is a partial order mutation. Nil fields are left untouched.
type OrderUpdate struct {
	Status              *bridge.Status
	DestinationTrxHash  *string
	FailureReasonPublic *string
	OracleAcceptToRelay *bool
	RelayerFee          *string
}

// AddResult reports a signature batch insertion: how many new rows were
// added and how many signatures the order has in total afterwards.
type AddResult struct {
	Added int
	Total int
}

// indexMarker is the value stored under pure-index keys. Some backends do
// not round-trip empty values, so indexes carry one marker byte.
var indexMarker = []byte{1}

// Orders is the orders and signatures repository. Lookups that miss return
// a nil order and a nil error, mirroring the optional-row contract the
// pollers rely on.
type Orders struct {
	mtx   sync.Mutex
	store storage.Store
}

// NewOrders creates an orders repository on the given store.
func NewOrders(st storage.Store) *Orders {
	return &Orders{store: st}
}

func orderKey(id uuid.UUID) []byte {
	return storage.AppendPrefix(storage.STOrder, id[:])
}

func orderTrxKey(hash string) []byte {
	return storage.AppendPrefix(storage.STOrderTrx, []byte(hash))
}

func statusByte(s bridge.Status) byte {
	switch s {
	case bridge.StatusPending:
		return 0
	case bridge.StatusInProgress:
		return 1
	case bridge.StatusReadyForRelay:
		return 2
	case bridge.StatusRelayed:
		return 3
	case bridge.StatusFailed:
		return 4
	case bridge.StatusFinalized:
		return 5
	default:
		panic(fmt.Sprintf("unknown status %q", string(s)))
	}
}

func orderStatusKey(s bridge.Status, id uuid.UUID) []byte {
	b := make([]byte, 2+len(id))
	b[0] = byte(storage.STOrderStatus)
	b[1] = statusByte(s)
	copy(b[2:], id[:])
	return b
}

func signatureKey(id uuid.UUID, sig string) []byte {
	b := make([]byte, 1+len(id)+len(sig))
	b[0] = byte(storage.STSignature)
	copy(b[1:], id[:])
	copy(b[1+len(id):], sig)
	return b
}

func signaturesPrefix(id uuid.UUID) []byte {
	return storage.AppendPrefix(storage.STSignature, id[:])
}

// Create inserts a new order. An empty id is replaced with a fresh UUID,
// an empty relayer fee becomes "0", an empty status becomes pending and
// zero timestamps are stamped with the current time. Both the id and a
// non-empty origin transaction hash must be unused, otherwise
// ErrOrderExists is returned.
func (r *Orders) Create(o bridge.Order) (*bridge.Order, error) {
	o.Normalize()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = o.CreatedAt
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(o.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, err := r.store.Get(orderKey(id)); err == nil {
		return nil, fmt.Errorf("%w: id %s", ErrOrderExists, o.ID)
	}
	if o.OriginTrxHash != "" {
		if _, err := r.store.Get(orderTrxKey(o.OriginTrxHash)); err == nil {
			return nil, fmt.Errorf("%w: origin trx hash %s", ErrOrderExists, o.OriginTrxHash)
		}
	}

	data, err := json.Marshal(&o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	puts := map[string][]byte{
		string(orderKey(id)):                 data,
		string(orderStatusKey(o.Status, id)): indexMarker,
	}
	if o.OriginTrxHash != "" {
		puts[string(orderTrxKey(o.OriginTrxHash))] = id[:]
	}
	if err := r.store.PutChangeSet(puts); err != nil {
		return nil, err
	}
	return &o, nil
}

// FindByID returns the order with the given id or nil when there is none.
func (r *Orders) FindByID(id string) (*bridge.Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}
	return r.getOrder(uid)
}

func (r *Orders) getOrder(id uuid.UUID) (*bridge.Order, error) {
	data, err := r.store.Get(orderKey(id))
	if err == storage.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := new(bridge.Order)
	if err := json.Unmarshal(data, o); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return o, nil
}

// FindByOriginTrxHash returns the order created from the given origin
// transaction or nil when there is none.
func (r *Orders) FindByOriginTrxHash(hash string) (*bridge.Order, error) {
	idBytes, err := r.store.Get(orderTrxKey(hash))
	if err == storage.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, fmt.Errorf("corrupted origin trx index: %w", err)
	}
	return r.getOrder(id)
}

// Update applies a partial mutation to the order and returns the updated
// row, or nil when the order does not exist. Status changes moving a
// relayed or finalized order back to ready-for-relay are refused with
// ErrStatusTransition.
func (r *Orders) Update(id string, upd OrderUpdate) (*bridge.Order, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	o, err := r.getOrder(uid)
	if err != nil || o == nil {
		return nil, err
	}

	oldStatus := o.Status
	if upd.Status != nil && *upd.Status != oldStatus {
		if !oldStatus.CanTransition(*upd.Status) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrStatusTransition, oldStatus, *upd.Status)
		}
		o.Status = *upd.Status
	}
	if upd.DestinationTrxHash != nil {
		o.DestinationTrxHash = *upd.DestinationTrxHash
	}
	if upd.FailureReasonPublic != nil {
		o.FailureReasonPublic = *upd.FailureReasonPublic
	}
	if upd.OracleAcceptToRelay != nil {
		o.OracleAcceptToRelay = *upd.OracleAcceptToRelay
	}
	if upd.RelayerFee != nil {
		o.RelayerFee = *upd.RelayerFee
	}
	o.UpdatedAt = time.Now().UTC()
	if err := o.Validate(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	puts := map[string][]byte{
		string(orderKey(uid)): data,
	}
	if o.Status != oldStatus {
		puts[string(orderStatusKey(oldStatus, uid))] = nil
		puts[string(orderStatusKey(o.Status, uid))] = indexMarker
	}
	if err := r.store.PutChangeSet(puts); err != nil {
		return nil, err
	}
	return o, nil
}

// Delete removes the order together with its indexes and signatures. It is
// an explicit admin operation; deleting a missing order is an error.
func (r *Orders) Delete(id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	o, err := r.getOrder(uid)
	if err != nil {
		return err
	}
	if o == nil {
		return fmt.Errorf("order %s: %w", id, storage.ErrKeyNotFound)
	}

	puts := map[string][]byte{
		string(orderKey(uid)):                 nil,
		string(orderStatusKey(o.Status, uid)): nil,
	}
	if o.OriginTrxHash != "" {
		puts[string(orderTrxKey(o.OriginTrxHash))] = nil
	}
	r.store.Seek(storage.SeekRange{Prefix: signaturesPrefix(uid)}, func(k, _ []byte) bool {
		puts[string(k)] = nil
		return true
	})
	return r.store.PutChangeSet(puts)
}

// Paginate returns the filtered page of orders sorted by creation time
// (descending unless the filter says otherwise) along with the total number
// of orders matching the filter.
func (r *Orders) Paginate(f OrderFilter) ([]bridge.Order, int, error) {
	f.Normalize()

	var (
		matched []bridge.Order
		decErr  error
	)
	r.store.Seek(storage.SeekRange{Prefix: storage.STOrder.Bytes()}, func(_, v []byte) bool {
		var o bridge.Order
		if err := json.Unmarshal(v, &o); err != nil {
			decErr = fmt.Errorf("failed to decode order: %w", err)
			return false
		}
		if matchOrder(&o, &f) {
			matched = append(matched, o)
		}
		return true
	})
	if decErr != nil {
		return nil, 0, decErr
	}

	slices.SortFunc(matched, func(a, b bridge.Order) int {
		var c int
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			c = -1
		case a.CreatedAt.After(b.CreatedAt):
			c = 1
		default:
			c = cmpString(a.ID, b.ID)
		}
		if f.Order == SortDesc {
			c = -c
		}
		return c
	})

	total := len(matched)
	start := (f.Page - 1) * f.Limit
	if start >= total {
		return []bridge.Order{}, total, nil
	}
	end := min(start+f.Limit, total)
	return matched[start:end], total, nil
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func matchOrder(o *bridge.Order, f *OrderFilter) bool {
	if f.ID != "" && o.ID != f.ID {
		return false
	}
	if f.Source != nil && o.Source != *f.Source {
		return false
	}
	if f.Dest != nil && o.Dest != *f.Dest {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, o.Status) {
		return false
	}
	if f.From != "" && o.From != f.From {
		return false
	}
	if f.To != "" && o.To != f.To {
		return false
	}
	if f.AmountMin != nil || f.AmountMax != nil {
		amount, err := bridge.ParseAmount(o.Amount)
		if err != nil {
			return false
		}
		if f.AmountMin != nil && amount.Cmp(f.AmountMin) < 0 {
			return false
		}
		if f.AmountMax != nil && amount.Cmp(f.AmountMax) > 0 {
			return false
		}
	}
	if f.CreatedAfter != nil && !o.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !o.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// FindActivesIDs returns up to limit ids of orders the oracle fleet still
// tracks (status pending or in-progress).
func (r *Orders) FindActivesIDs(limit int) ([]string, error) {
	return r.idsByStatuses([]bridge.Status{bridge.StatusPending, bridge.StatusInProgress}, limit)
}

// FindRelayableIDs returns up to limit ids of ready-for-relay orders.
func (r *Orders) FindRelayableIDs(limit int) ([]string, error) {
	return r.idsByStatuses([]bridge.Status{bridge.StatusReadyForRelay}, limit)
}

func (r *Orders) idsByStatuses(statuses []bridge.Status, limit int) ([]string, error) {
	var (
		ids    []string
		curErr error
	)
	for _, st := range statuses {
		if limit > 0 && len(ids) >= limit {
			break
		}
		prefix := []byte{byte(storage.STOrderStatus), statusByte(st)}
		r.store.Seek(storage.SeekRange{Prefix: prefix}, func(k, _ []byte) bool {
			id, err := uuid.FromBytes(k[2:])
			if err != nil {
				curErr = fmt.Errorf("corrupted status index: %w", err)
				return false
			}
			ids = append(ids, id.String())
			return limit <= 0 || len(ids) < limit
		})
		if curErr != nil {
			return nil, curErr
		}
	}
	return ids, nil
}

// AddSignatures stores the given oracle signatures for the order. The input
// is deduplicated, already stored signatures are filtered out and the
// remainder is inserted in one atomic batch. The returned AddResult carries
// the number of rows actually added and the total per-order signature count
// after the call.
func (r *Orders) AddSignatures(orderID string, sigs []string) (AddResult, error) {
	uid, err := uuid.Parse(orderID)
	if err != nil {
		return AddResult{}, fmt.Errorf("invalid order id: %w", err)
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	seen := make(map[string]struct{}, len(sigs))
	puts := make(map[string][]byte)
	for _, sig := range sigs {
		if sig == "" {
			continue
		}
		if _, ok := seen[sig]; ok {
			continue
		}
		seen[sig] = struct{}{}
		key := signatureKey(uid, sig)
		if _, err := r.store.Get(key); err == nil {
			continue
		}
		puts[string(key)] = []byte(sig)
	}
	if len(puts) > 0 {
		if err := r.store.PutChangeSet(puts); err != nil {
			return AddResult{}, err
		}
	}

	total := 0
	r.store.Seek(storage.SeekRange{Prefix: signaturesPrefix(uid)}, func(_, _ []byte) bool {
		total++
		return true
	})
	return AddResult{Added: len(puts), Total: total}, nil
}

// Signatures returns all stored signatures for the order in key order.
func (r *Orders) Signatures(orderID string) ([]string, error) {
	uid, err := uuid.Parse(orderID)
	if err != nil {
		return nil, fmt.Errorf("invalid order id: %w", err)
	}
	sigs := []string{}
	r.store.Seek(storage.SeekRange{Prefix: signaturesPrefix(uid)}, func(_, v []byte) bool {
		sigs = append(sigs, string(v))
		return true
	})
	return sigs, nil
}

// FindByIDsWithSignatures joins the given orders with their accumulated
// signatures. Unknown ids are skipped.
func (r *Orders) FindByIDsWithSignatures(ids []string) ([]bridge.OrderWithSignatures, error) {
	res := make([]bridge.OrderWithSignatures, 0, len(ids))
	for _, id := range ids {
		o, err := r.FindByID(id)
		if err != nil {
			return nil, err
		}
		if o == nil {
			continue
		}
		sigs, err := r.Signatures(id)
		if err != nil {
			return nil, err
		}
		res = append(res, bridge.OrderWithSignatures{Order: *o, Signatures: sigs})
	}
	return res, nil
}
