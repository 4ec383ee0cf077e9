package repository

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(id string) bridge.Order {
	return bridge.Order{
		ID:            id,
		Source:        bridge.ChainSolana,
		Dest:          bridge.ChainQubic,
		From:          "solfrom",
		To:            "qubicto",
		Amount:        "1000000",
		RelayerFee:    "5",
		OriginTrxHash: "trx-" + id,
		Status:        bridge.StatusPending,
	}
}

func TestOrdersCreateFind(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())

	t.Run("fills defaults", func(t *testing.T) {
		created, err := r.Create(bridge.Order{
			Source:        bridge.ChainQubic,
			Dest:          bridge.ChainSolana,
			From:          "a",
			To:            "b",
			Amount:        "10",
			OriginTrxHash: "fresh-hash",
		})
		require.NoError(t, err)
		_, err = uuid.Parse(created.ID)
		require.NoError(t, err, "create must assign a UUID id")
		assert.Equal(t, "0", created.RelayerFee)
		assert.Equal(t, bridge.StatusPending, created.Status)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	})

	t.Run("roundtrip by id and trx hash", func(t *testing.T) {
		o := testOrder(uuid.NewString())
		created, err := r.Create(o)
		require.NoError(t, err)

		got, err := r.FindByID(o.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *created, *got)

		byTrx, err := r.FindByOriginTrxHash(o.OriginTrxHash)
		require.NoError(t, err)
		require.NotNil(t, byTrx)
		assert.Equal(t, o.ID, byTrx.ID)
	})

	t.Run("missing is nil, nil", func(t *testing.T) {
		got, err := r.FindByID(uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)

		byTrx, err := r.FindByOriginTrxHash("unseen-hash")
		require.NoError(t, err)
		assert.Nil(t, byTrx)
	})

	t.Run("duplicate id refused", func(t *testing.T) {
		o := testOrder(uuid.NewString())
		_, err := r.Create(o)
		require.NoError(t, err)
		o.OriginTrxHash = "other-hash-" + o.ID
		_, err = r.Create(o)
		require.ErrorIs(t, err, ErrOrderExists)
	})

	t.Run("duplicate origin trx hash refused", func(t *testing.T) {
		o := testOrder(uuid.NewString())
		_, err := r.Create(o)
		require.NoError(t, err)
		dup := testOrder(uuid.NewString())
		dup.OriginTrxHash = o.OriginTrxHash
		_, err = r.Create(dup)
		require.ErrorIs(t, err, ErrOrderExists)
	})

	t.Run("same chains refused", func(t *testing.T) {
		o := testOrder(uuid.NewString())
		o.Dest = o.Source
		_, err := r.Create(o)
		require.ErrorIs(t, err, bridge.ErrSameChain)
	})
}

func TestOrdersUpdate(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())
	o := testOrder(uuid.NewString())
	_, err := r.Create(o)
	require.NoError(t, err)

	t.Run("partial fields", func(t *testing.T) {
		st := bridge.StatusInProgress
		dst := "dest-hash"
		accept := true
		upd, err := r.Update(o.ID, OrderUpdate{
			Status:              &st,
			DestinationTrxHash:  &dst,
			OracleAcceptToRelay: &accept,
		})
		require.NoError(t, err)
		require.NotNil(t, upd)
		assert.Equal(t, bridge.StatusInProgress, upd.Status)
		assert.Equal(t, "dest-hash", upd.DestinationTrxHash)
		assert.True(t, upd.OracleAcceptToRelay)
		assert.Equal(t, o.Amount, upd.Amount, "untouched fields survive")
	})

	t.Run("missing order is nil, nil", func(t *testing.T) {
		st := bridge.StatusFailed
		upd, err := r.Update(uuid.NewString(), OrderUpdate{Status: &st})
		require.NoError(t, err)
		assert.Nil(t, upd)
	})

	t.Run("finalized never becomes ready-for-relay", func(t *testing.T) {
		fin := bridge.StatusFinalized
		_, err := r.Update(o.ID, OrderUpdate{Status: &fin})
		require.NoError(t, err)

		rfr := bridge.StatusReadyForRelay
		_, err = r.Update(o.ID, OrderUpdate{Status: &rfr})
		require.ErrorIs(t, err, ErrStatusTransition)

		got, err := r.FindByID(o.ID)
		require.NoError(t, err)
		assert.Equal(t, bridge.StatusFinalized, got.Status)
	})
}

func TestOrdersDelete(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())
	o := testOrder(uuid.NewString())
	_, err := r.Create(o)
	require.NoError(t, err)
	_, err = r.AddSignatures(o.ID, []string{"sig1", "sig2"})
	require.NoError(t, err)

	require.NoError(t, r.Delete(o.ID))

	got, err := r.FindByID(o.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	byTrx, err := r.FindByOriginTrxHash(o.OriginTrxHash)
	require.NoError(t, err)
	assert.Nil(t, byTrx)
	sigs, err := r.Signatures(o.ID)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	require.Error(t, r.Delete(o.ID), "second delete reports missing row")
}

func TestOrdersPaginate(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 5; i++ {
		o := testOrder(uuid.NewString())
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		o.Amount = bridge.FormatAmount(big.NewInt(int64(100 * (i + 1))))
		if i%2 == 1 {
			o.Source, o.Dest = bridge.ChainQubic, bridge.ChainSolana
			o.Status = bridge.StatusFinalized
		}
		_, err := r.Create(o)
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	t.Run("default is newest first", func(t *testing.T) {
		page, total, err := r.Paginate(OrderFilter{})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 5)
		assert.Equal(t, ids[4], page[0].ID)
		assert.Equal(t, ids[0], page[4].ID)
	})

	t.Run("paging", func(t *testing.T) {
		page, total, err := r.Paginate(OrderFilter{Page: 2, Limit: 2, Order: SortAsc})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)
	})

	t.Run("past the end", func(t *testing.T) {
		page, total, err := r.Paginate(OrderFilter{Page: 4, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Empty(t, page)
	})

	t.Run("source and status filters", func(t *testing.T) {
		src := bridge.ChainQubic
		page, total, err := r.Paginate(OrderFilter{
			Source:   &src,
			Statuses: []bridge.Status{bridge.StatusFinalized},
		})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		for _, o := range page {
			assert.Equal(t, bridge.ChainQubic, o.Source)
			assert.Equal(t, bridge.StatusFinalized, o.Status)
		}
	})

	t.Run("amount range", func(t *testing.T) {
		minA, maxA := big.NewInt(200), big.NewInt(400)
		_, total, err := r.Paginate(OrderFilter{AmountMin: minA, AmountMax: maxA})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
	})

	t.Run("created range is exclusive", func(t *testing.T) {
		after := base.Add(time.Minute)
		before := base.Add(4 * time.Minute)
		page, total, err := r.Paginate(OrderFilter{CreatedAfter: &after, CreatedBefore: &before, Order: SortAsc})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[3], page[1].ID)
	})

	t.Run("by id", func(t *testing.T) {
		page, total, err := r.Paginate(OrderFilter{ID: ids[3]})
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, page, 1)
		assert.Equal(t, ids[3], page[0].ID)
	})
}

func TestOrdersStatusIndexes(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())

	mk := func(st bridge.Status) string {
		o := testOrder(uuid.NewString())
		o.Status = st
		_, err := r.Create(o)
		require.NoError(t, err)
		return o.ID
	}
	pending := mk(bridge.StatusPending)
	inProgress := mk(bridge.StatusInProgress)
	ready := mk(bridge.StatusReadyForRelay)
	mk(bridge.StatusFinalized)

	actives, err := r.FindActivesIDs(0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pending, inProgress}, actives)

	relayable, err := r.FindRelayableIDs(0)
	require.NoError(t, err)
	assert.Equal(t, []string{ready}, relayable)

	t.Run("limit", func(t *testing.T) {
		got, err := r.FindActivesIDs(1)
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("index follows status updates", func(t *testing.T) {
		st := bridge.StatusReadyForRelay
		_, err := r.Update(pending, OrderUpdate{Status: &st})
		require.NoError(t, err)

		actives, err := r.FindActivesIDs(0)
		require.NoError(t, err)
		assert.Equal(t, []string{inProgress}, actives)

		relayable, err := r.FindRelayableIDs(0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{ready, pending}, relayable)
	})
}

func TestOrdersAddSignatures(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())
	o := testOrder(uuid.NewString())
	_, err := r.Create(o)
	require.NoError(t, err)

	res, err := r.AddSignatures(o.ID, []string{"s1", "s2", "s2", "", "s3"})
	require.NoError(t, err)
	assert.Equal(t, AddResult{Added: 3, Total: 3}, res)

	// Re-adding the same set must not change anything.
	res, err = r.AddSignatures(o.ID, []string{"s1", "s2", "s3"})
	require.NoError(t, err)
	assert.Equal(t, AddResult{Added: 0, Total: 3}, res)

	res, err = r.AddSignatures(o.ID, []string{"s3", "s4"})
	require.NoError(t, err)
	assert.Equal(t, AddResult{Added: 1, Total: 4}, res)

	sigs, err := r.Signatures(o.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s1", "s2", "s3", "s4"}, sigs)

	t.Run("empty input", func(t *testing.T) {
		res, err := r.AddSignatures(o.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, AddResult{Added: 0, Total: 4}, res)
	})
}

func TestOrdersFindByIDsWithSignatures(t *testing.T) {
	r := NewOrders(storage.NewMemoryStore())
	a := testOrder(uuid.NewString())
	b := testOrder(uuid.NewString())
	_, err := r.Create(a)
	require.NoError(t, err)
	_, err = r.Create(b)
	require.NoError(t, err)
	_, err = r.AddSignatures(a.ID, []string{"sa1", "sa2"})
	require.NoError(t, err)

	got, err := r.FindByIDsWithSignatures([]string{a.ID, uuid.NewString(), b.ID})
	require.NoError(t, err)
	require.Len(t, got, 2, "unknown ids are skipped")
	assert.Equal(t, a.ID, got[0].ID)
	assert.ElementsMatch(t, []string{"sa1", "sa2"}, got[0].Signatures)
	assert.Equal(t, b.ID, got[1].ID)
	assert.Empty(t, got[1].Signatures)
}

func TestInit(t *testing.T) {
	st := storage.NewMemoryStore()
	require.NoError(t, Init(st))
	require.NoError(t, Init(st), "second init accepts the same version")

	require.NoError(t, st.PutChangeSet(map[string][]byte{
		string(storage.SYSVersion.Bytes()): []byte("0"),
	}))
	require.Error(t, Init(st), "version mismatch is refused")
}
