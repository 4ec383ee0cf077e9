package oracles

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/netclient"
	"github.com/qsbridge/bridgehub/pkg/repository"
)

// fetchOrders GETs one oracle's current order reports. Oracles not marked
// ok by the health poller are skipped for the round; a payload of
// unexpected shape is dropped with its metadata logged.
func (f *Fleet) fetchOrders(ctx context.Context, server string) ([]bridge.OrderWithSignatures, error) {
	if h, ok := f.registry.Get(server); !ok || h.Status != bridge.HealthOK {
		return nil, nil
	}
	url := strings.TrimRight(server, "/") + "/api/orders"
	header, err := f.signer.Sign(http.MethodGet, url, nil)
	if err != nil {
		f.log.Error("orders request signing failed", zap.String("oracle", server), zap.Error(err))
		return nil, nil
	}
	var raw json.RawMessage
	if err := f.http.GetJSON(ctx, url, header, &raw); err != nil {
		f.log.Warn("oracle orders fetch failed", zap.String("oracle", server), zap.Error(err))
		return nil, err
	}
	reports, err := netclient.DecodeList[bridge.OrderWithSignatures](raw)
	if err != nil {
		var se *netclient.SchemaError
		if errors.As(err, &se) {
			f.log.Warn("oracle orders payload mismatch",
				zap.String("oracle", server),
				zap.String("payloadType", se.PayloadType),
				zap.Strings("payloadKeys", se.PayloadKeys))
			return nil, nil
		}
		f.log.Warn("oracle orders payload undecodable", zap.String("oracle", server), zap.Error(err))
		return nil, nil
	}
	return reports, nil
}

// onOrdersRound reconciles the round's reports group by group. Failures
// are per-group: one bad order never blocks the rest of the round.
func (f *Fleet) onOrdersRound(_ context.Context, responses [][]bridge.OrderWithSignatures) {
	groups := make(map[string][]bridge.OrderWithSignatures)
	for _, resp := range responses {
		for _, rep := range resp {
			if rep.ID == "" {
				continue
			}
			groups[rep.ID] = append(groups[rep.ID], rep)
		}
	}
	// Map order is random, keep group processing stable.
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		f.reconcileGroup(id, groups[id])
	}
}

// reconcileGroup runs one order group through consensus, signature
// accumulation and status advancement.
func (f *Fleet) reconcileGroup(id string, group []bridge.OrderWithSignatures) {
	reports := make([]bridge.Order, len(group))
	sigs := make([]string, 0, len(group))
	for i, rep := range group {
		reports[i] = rep.Order
		sigs = append(sigs, rep.Signatures...)
	}
	consensus, err := Reconcile(reports)
	if err != nil {
		incReconcileFailures()
		f.log.Warn("order group skipped", zap.String("orderId", id), zap.Error(err))
		return
	}

	row, err := f.orders.FindByID(consensus.ID)
	if err != nil {
		f.log.Error("order lookup failed", zap.String("orderId", id), zap.Error(err))
		return
	}
	if row == nil {
		if _, err := f.orders.Create(consensus); err != nil && !errors.Is(err, repository.ErrOrderExists) {
			f.log.Error("order create failed", zap.String("orderId", id), zap.Error(err))
			return
		}
	}

	counts, err := f.orders.AddSignatures(consensus.ID, sigs)
	if err != nil {
		f.log.Error("signature insert failed", zap.String("orderId", id), zap.Error(err))
		return
	}
	if counts.Added > 0 {
		addSignaturesStored(counts.Added)
	}

	var (
		required       = RequiredSignatures(f.cfg.Threshold, f.oracleCount())
		meetsThreshold = counts.Total >= required
		canBeRelayable = consensus.Status != bridge.StatusFinalized && consensus.Status != bridge.StatusRelayed
		newStatus      = consensus.Status
	)
	if meetsThreshold && canBeRelayable {
		newStatus = bridge.StatusReadyForRelay
	}
	upd := repository.OrderUpdate{Status: &newStatus}
	if consensus.DestinationTrxHash != "" {
		upd.DestinationTrxHash = &consensus.DestinationTrxHash
	}
	updated, err := f.orders.Update(consensus.ID, upd)
	if err != nil {
		if errors.Is(err, repository.ErrStatusTransition) {
			f.log.Warn("order status update refused",
				zap.String("orderId", id),
				zap.String("status", string(newStatus)))
			return
		}
		f.log.Error("order update failed", zap.String("orderId", id), zap.Error(err))
		return
	}
	if updated == nil {
		f.log.Warn("skipped missing order", zap.String("orderId", id))
		return
	}
	incReconciled()
	f.log.Debug("order reconciled",
		zap.String("orderId", id),
		zap.Int("reports", len(group)),
		zap.Int("signatures", counts.Total),
		zap.Int("required", required),
		zap.String("status", string(updated.Status)))
}

// oracleCount is the vote base for the signature threshold: the configured
// count when set, the fleet size otherwise.
func (f *Fleet) oracleCount() int {
	if f.cfg.OracleCount > 0 {
		return f.cfg.OracleCount
	}
	return len(f.cfg.Servers)
}
