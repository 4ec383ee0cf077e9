package apisrv

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qsbridge/bridgehub/pkg/bridge"
	"github.com/qsbridge/bridgehub/pkg/fees"
	"github.com/qsbridge/bridgehub/pkg/repository"
	"github.com/qsbridge/bridgehub/pkg/services/oracles"
)

// dataResponse is the generic {"data": ...} envelope.
type dataResponse struct {
	Data any `json:"data"`
}

// errorResponse is the envelope of every non-2xx response.
type errorResponse struct {
	Message string `json:"message"`
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write API response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, errorResponse{Message: msg})
}

// serverError logs the failure and responds with the opaque 500 envelope.
func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, zap.Error(err))
	s.writeError(w, http.StatusInternalServerError, "Internal Server Error")
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	s.writeError(w, http.StatusNotFound, "Not Found")
}

type bridgeHealth struct {
	Paused bool `json:"paused"`
}

func (s *Server) handleBridgeHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, bridgeHealth{Paused: s.cfg.Paused})
}

type oraclesHealth struct {
	Oracles []bridge.OracleHealth `json:"oracles"`
}

func (s *Server) handleOraclesHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, oraclesHealth{Oracles: s.registry.List()})
}

func (s *Server) handleKeys(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.keys.Current().PublicView())
}

type pageInfo struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type ordersPage struct {
	Data       []bridge.Order `json:"data"`
	Pagination pageInfo       `json:"pagination"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	f, err := orderFilterFromQuery(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Normalize()
	items, total, err := s.orders.Paginate(f)
	if err != nil {
		s.serverError(w, "order listing failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, ordersPage{
		Data:       items,
		Pagination: pageInfo{Page: f.Page, Limit: f.Limit, Total: total},
	})
}

// orderFilterFromQuery maps the /api/orders query parameters onto a
// repository filter. Malformed parameter values are rejected.
func orderFilterFromQuery(q url.Values) (repository.OrderFilter, error) {
	var (
		f   repository.OrderFilter
		err error
	)
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("invalid page %q", v)
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("order"); v != "" {
		switch o := repository.SortOrder(strings.ToLower(v)); o {
		case repository.SortAsc, repository.SortDesc:
			f.Order = o
		default:
			return f, fmt.Errorf("invalid order %q", v)
		}
	}
	if v := q.Get("source"); v != "" {
		c, cerr := bridge.ParseChain(v)
		if cerr != nil {
			return f, cerr
		}
		f.Source = &c
	}
	if v := q.Get("dest"); v != "" {
		c, cerr := bridge.ParseChain(v)
		if cerr != nil {
			return f, cerr
		}
		f.Dest = &c
	}
	if v := q.Get("status"); v != "" {
		for _, raw := range strings.Split(v, ",") {
			st := bridge.Status(strings.TrimSpace(raw))
			if !st.Valid() {
				return f, fmt.Errorf("unknown status %q", raw)
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	f.From = q.Get("from")
	f.To = q.Get("to")
	if v := q.Get("amount_min"); v != "" {
		x, aerr := bridge.ParseAmount(v)
		if aerr != nil {
			return f, fmt.Errorf("invalid amount_min %q", v)
		}
		f.AmountMin = x
	}
	if v := q.Get("amount_max"); v != "" {
		x, aerr := bridge.ParseAmount(v)
		if aerr != nil {
			return f, fmt.Errorf("invalid amount_max %q", v)
		}
		f.AmountMax = x
	}
	if v := q.Get("created_after"); v != "" {
		t, terr := time.Parse(time.RFC3339, v)
		if terr != nil {
			return f, fmt.Errorf("invalid created_after %q", v)
		}
		f.CreatedAfter = &t
	}
	if v := q.Get("created_before"); v != "" {
		t, terr := time.Parse(time.RFC3339, v)
		if terr != nil {
			return f, fmt.Errorf("invalid created_before %q", v)
		}
		f.CreatedBefore = &t
	}
	f.ID = q.Get("id")
	return f, nil
}

type orderSignatures struct {
	OrderID    string   `json:"orderId"`
	Signatures []string `json:"signatures"`
}

// handleOrderSignatures serves the ready-for-relay orders that accumulated
// enough oracle signatures for a relayer to proceed.
func (s *Server) handleOrderSignatures(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.orders.FindRelayableIDs(0)
	if err != nil {
		s.serverError(w, "relayable order lookup failed", err)
		return
	}
	rows, err := s.orders.FindByIDsWithSignatures(ids)
	if err != nil {
		s.serverError(w, "relayable order lookup failed", err)
		return
	}
	required := oracles.RequiredSignatures(s.cfg.Threshold, s.cfg.OracleCount)
	out := make([]orderSignatures, 0, len(rows))
	for _, row := range rows {
		if len(row.Signatures) < required {
			continue
		}
		out = append(out, orderSignatures{OrderID: row.ID, Signatures: row.Signatures})
	}
	s.writeJSON(w, http.StatusOK, dataResponse{Data: out})
}

type eventCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        uint64    `json:"id"`
}

type eventsPage struct {
	Data   []bridge.StoredEvent `json:"data"`
	Cursor eventCursor          `json:"cursor"`
}

// handleOrderEvents serves the stored event feed after the (created_after,
// after_id) cursor. The returned cursor points at the last served event and
// echoes the request when there is nothing newer.
func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	var (
		q       = r.URL.Query()
		after   time.Time
		afterID uint64
		limit   int
		err     error
	)
	if v := q.Get("created_after"); v != "" {
		if after, err = time.Parse(time.RFC3339, v); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid created_after %q", v))
			return
		}
	}
	if v := q.Get("after_id"); v != "" {
		if afterID, err = strconv.ParseUint(v, 10, 64); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid after_id %q", v))
			return
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
	}
	items, err := s.events.ListAfterCreatedAt(after, afterID, limit)
	if err != nil {
		s.serverError(w, "event listing failed", err)
		return
	}
	cur := eventCursor{CreatedAt: after, ID: afterID}
	if len(items) > 0 {
		last := items[len(items)-1]
		cur = eventCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	if items == nil {
		items = []bridge.StoredEvent{}
	}
	s.writeJSON(w, http.StatusOK, eventsPage{Data: items, Cursor: cur})
}

func (s *Server) handleOrderByTrxHash(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		s.writeError(w, http.StatusBadRequest, "missing hash parameter")
		return
	}
	o, err := s.orders.FindByOriginTrxHash(hash)
	if err != nil {
		s.serverError(w, "order lookup failed", err)
		return
	}
	if o == nil {
		s.writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	s.writeJSON(w, http.StatusOK, dataResponse{Data: o})
}

type estimateRequest struct {
	NetworkIn   string `json:"networkIn"`
	NetworkOut  string `json:"networkOut"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      string `json:"amount"`
}

// toInput validates the request fields into an estimator input.
func (req *estimateRequest) toInput() (fees.Input, error) {
	var (
		in  fees.Input
		err error
	)
	if in.NetworkIn, err = bridge.ParseChain(req.NetworkIn); err != nil {
		return in, err
	}
	if in.NetworkOut, err = bridge.ParseChain(req.NetworkOut); err != nil {
		return in, err
	}
	amount, err := bridge.ParseAmount(req.Amount)
	if err != nil {
		return in, fmt.Errorf("invalid amount %q", req.Amount)
	}
	in.FromAddress = req.FromAddress
	in.ToAddress = req.ToAddress
	in.Amount = amount
	return in, nil
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	in, err := req.toInput()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	est, err := s.fees.Estimate(r.Context(), in)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, dataResponse{Data: est})
	case errors.Is(err, fees.ErrEstimateUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, bridge.ErrSameChain):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.serverError(w, "fee estimate failed", err)
	}
}
