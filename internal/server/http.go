package server

import (
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ingestion"
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/query"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

type route struct {
	method   string
	pattern  string
	endpoint string
	handler  runtime.HandlerFunc
}

type api struct {
	deps   *ServerDeps
	logger zerolog.Logger
}

// NewHTTPHandler builds the JSON API on a grpc-gateway mux with the health
// endpoints mounted alongside.
func NewHTTPHandler(deps *ServerDeps) (http.Handler, error) {
	if deps == nil || deps.Venue == nil {
		return nil, fmt.Errorf("server: venue is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.StartTime.IsZero() {
		deps.StartTime = deps.Now()
	}

	a := &api{deps: deps, logger: observability.NewLogger("server")}
	mux := runtime.NewServeMux()

	routes := []route{
		{"POST", "/v1/fills", "record_fill", a.recordFill},
		{"POST", "/v1/markets/{market}/liquidations", "liquidate", a.liquidate},
		{"POST", "/v1/markets/{market}/settle", "settle_market", a.settleMarket},
		{"POST", "/v1/markets/{market}/settlement-requests", "request_settlement", a.requestSettlement},
		{"POST", "/v1/settlements/process", "process_settlements", a.processSettlements},
		{"POST", "/v1/accounts/{owner}/claims", "claim", a.claim},
		{"GET", "/v1/markets", "list_markets", a.listMarkets},
		{"GET", "/v1/markets/{market}", "get_market", a.getMarket},
		{"GET", "/v1/markets/{market}/positions/{owner}", "get_position", a.getPosition},
		{"GET", "/v1/accounts/{owner}/balances/{account}/{asset}", "get_balance", a.getBalance},
		{"GET", "/v1/points/{epoch}", "get_points", a.getPoints},
		{"GET", "/v1/status", "status", a.status},
	}
	if deps.QueryService != nil {
		routes = append(routes,
			route{"GET", "/v1/records", "list_records", a.listRecords},
			route{"GET", "/v1/accounts/{owner}/journals", "list_journals", a.listJournals},
			route{"GET", "/v1/admin/integrity", "verify_integrity", a.verifyIntegrity},
		)
	}
	if deps.SnapshotMgr != nil {
		routes = append(routes, route{"POST", "/v1/admin/snapshots", "take_snapshot", a.takeSnapshot})
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, a.instrument(r.endpoint, r.handler)); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)

	return httpMux, nil
}

// --- Intents ---

func (a *api) recordFill(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ingestion.DecodeFill(body, a.deps.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	res, err := a.deps.Venue.RecordFill(cmd.MarketID, cmd.Input)
	if err != nil {
		a.writeEngineError(w, "record_fill", err)
		return
	}
	writeJSON(w, http.StatusOK, fillResponse{
		Record:         res.Record,
		Duplicate:      res.Duplicate,
		FeeChange:      res.FeeChange,
		MarginChange:   res.MarginChange,
		DiscountChange: res.DiscountChange,
		Payout:         res.Payout,
	})
}

func (a *api) liquidate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ingestion.DecodeLiquidation(body, a.deps.Now())
	if err == nil {
		cmd.MarketID, err = pathMarket(params, cmd.MarketID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	res, err := a.deps.Venue.Liquidate(cmd.MarketID, cmd.Input)
	if err != nil {
		a.writeEngineError(w, "liquidate", err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{Record: res.Record, Duplicate: res.Duplicate})
}

func (a *api) settleMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ingestion.DecodeSettleMarket(body, a.deps.Now())
	if err == nil {
		cmd.MarketID, err = pathMarket(params, cmd.MarketID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	res, err := a.deps.Venue.SettleMarket(cmd.MarketID, cmd.Feed, cmd.Now)
	if err != nil {
		a.writeEngineError(w, "settle_market", err)
		return
	}
	writeJSON(w, http.StatusOK, settleResponse{Record: res.Record, Changed: res.Changed})
}

func (a *api) requestSettlement(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ingestion.DecodeSettlementRequest(body, a.deps.Now())
	if err == nil {
		cmd.MarketID, err = pathMarket(params, cmd.MarketID)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	rec, err := a.deps.Venue.RequestSettlement(cmd.MarketID, cmd.Requester, cmd.Now)
	if err != nil {
		a.writeEngineError(w, "request_settlement", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (a *api) processSettlements(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	cmd, err := ingestion.DecodeProcessSettlements(body, a.deps.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	res, err := a.deps.Venue.ProcessDueSettlements(cmd.MarketIDs, cmd.Keeper, cmd.Now)
	if err != nil {
		a.writeEngineError(w, "process_settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{
		RequestsConsumed: res.RequestsConsumed,
		PositionsSettled: res.PositionsSettled,
		KeeperPoints:     res.KeeperPoints,
		Skipped:          res.Skipped,
		Processed:        res.Processed,
		Positions:        res.Positions,
	})
}

func (a *api) claim(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("invalid owner: %w", err))
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("parse claim: %w", err))
		return
	}
	subType, err := parseClaimable(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	coin, err := a.deps.Venue.Claim(owner, subType, req.Asset, a.deps.Now())
	if err != nil {
		a.writeEngineError(w, "claim", err)
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

// --- Queries ---

func (a *api) listMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]any{"markets": a.deps.Venue.Markets()})
}

func (a *api) getMarket(w http.ResponseWriter, r *http.Request, params map[string]string) {
	snap, err := a.deps.Venue.Market(params["market"])
	if err != nil {
		a.writeEngineError(w, "get_market", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *api) getPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("invalid owner: %w", err))
		return
	}
	pos, ok := a.deps.Venue.Position(owner, params["market"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found",
			fmt.Errorf("no position for %s in market %s", owner, params["market"]))
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Owner:         pos.Owner,
		MarketID:      pos.MarketID,
		Side:          pos.Side,
		Quantity:      pos.Quantity,
		EntryPrice1e6: pos.EntryPrice1e6,
		Margin:        pos.Margin,
		Status:        pos.Status.String(),
		Version:       pos.Version,
	})
}

func (a *api) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("invalid owner: %w", err))
		return
	}
	subType, err := parseClaimable(params["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	assetID, ok := ledger.GetAssetID(params["asset"])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("unknown asset %s", params["asset"]))
		return
	}
	key := ledger.NewUserAccountKey(owner, subType, assetID)
	writeJSON(w, http.StatusOK, balanceResponse{
		Account: key.AccountPath(),
		Asset:   params["asset"],
		Balance: a.deps.Venue.Balance(key),
	})
}

func (a *api) getPoints(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var epoch uint64
	if params["epoch"] == "current" {
		epoch = a.deps.Venue.Epoch(a.deps.Now())
	} else {
		e, err := strconv.ParseUint(params["epoch"], 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("invalid epoch: %w", err))
			return
		}
		epoch = e
	}

	actors, total := a.deps.Venue.Points(epoch)
	resp := pointsResponse{Epoch: epoch, Total: total, Actors: make(map[string]uint64, len(actors))}
	for id, pts := range actors {
		resp.Actors[id.String()] = pts
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) status(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	now := a.deps.Now()
	seq, tip := a.deps.Venue.Sequence()
	writeJSON(w, http.StatusOK, statusResponse{
		NextSequence:  seq,
		StateHash:     hex.EncodeToString(tip[:]),
		Paused:        a.deps.Venue.Paused(),
		Epoch:         a.deps.Venue.Epoch(now),
		Markets:       len(a.deps.Venue.Markets()),
		UptimeSeconds: int64(now.Sub(a.deps.StartTime).Seconds()),
	})
}

func (a *api) listRecords(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	page, err := parsePage(q.Get("limit"), q.Get("after"), q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	records, err := a.deps.QueryService.ListRecords(r.Context(), q.Get("market"), q.Get("type"), page)
	if err != nil {
		a.writeInternal(w, "list_records", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *api) listJournals(w http.ResponseWriter, r *http.Request, params map[string]string) {
	owner, err := uuid.Parse(params["owner"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("invalid owner: %w", err))
		return
	}
	q := r.URL.Query()
	page, err := parsePage(q.Get("limit"), q.Get("after"), q.Get("before"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", err)
		return
	}
	entries, err := a.deps.QueryService.GetJournalHistory(r.Context(), owner, page)
	if err != nil {
		a.writeInternal(w, "list_journals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"journals": entries})
}

func (a *api) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := a.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		a.writeInternal(w, "verify_integrity", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *api) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	snap := a.deps.Venue.Snapshot(a.deps.Now())
	if err := a.deps.SnapshotMgr.SaveSnapshot(r.Context(), snap); err != nil {
		a.writeInternal(w, "take_snapshot", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sequence":   snap.Engine.Sequence,
		"state_hash": snap.Engine.StateHash,
	})
}

// --- helpers ---

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (a *api) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)

		if m := a.deps.Metrics; m != nil {
			m.APIRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
			m.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

// classify maps an engine error to an HTTP status and failure class.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrUnknownMarket), errors.Is(err, core.ErrPositionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrIntegrityViolation):
		return http.StatusConflict, "integrity_violation"
	case errors.Is(err, core.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, core.ErrPolicyViolation):
		return http.StatusUnprocessableEntity, "policy_violation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (a *api) writeEngineError(w http.ResponseWriter, endpoint string, err error) {
	code, class := classify(err)
	if code == http.StatusInternalServerError {
		a.writeInternal(w, endpoint, err)
		return
	}
	a.logger.Debug().Str("endpoint", endpoint).Str("class", class).Err(err).Msg("request rejected")
	writeError(w, code, class, err)
}

func (a *api) writeInternal(w http.ResponseWriter, endpoint string, err error) {
	a.logger.Error().Str("endpoint", endpoint).Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal", errors.New("internal error"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, class string, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error(), Class: class})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed", fmt.Errorf("read body: %w", err))
		return nil, false
	}
	return body, true
}

// pathMarket resolves the market of a market-scoped route. A body that names
// a different market is rejected.
func pathMarket(params map[string]string, fromBody string) (string, error) {
	market := params["market"]
	if fromBody != "" && fromBody != market {
		return "", fmt.Errorf("body market %q does not match path market %q", fromBody, market)
	}
	return market, nil
}

func parseClaimable(name string) (ledger.AccountSubType, error) {
	switch strings.ToLower(name) {
	case "maker_rebate":
		return ledger.SubTypeMakerRebate, nil
	case "keeper_rewards":
		return ledger.SubTypeKeeperRewards, nil
	case "claimable":
		return ledger.SubTypeClaimable, nil
	default:
		return 0, fmt.Errorf("unknown account %q", name)
	}
}

func parsePage(limit, after, before string) (query.Page, error) {
	var page query.Page
	var err error
	if limit != "" {
		if page.Limit, err = strconv.Atoi(limit); err != nil {
			return page, fmt.Errorf("invalid limit: %w", err)
		}
	}
	if after != "" {
		if page.After, err = strconv.ParseInt(after, 10, 64); err != nil {
			return page, fmt.Errorf("invalid after: %w", err)
		}
	}
	if before != "" {
		if page.Before, err = strconv.ParseInt(before, 10, 64); err != nil {
			return page, fmt.Errorf("invalid before: %w", err)
		}
	}
	return page, nil
}

// --- wire types ---

type errorResponse struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

type fillResponse struct {
	Record         *event.FillRecord `json:"record"`
	Duplicate      bool              `json:"duplicate"`
	FeeChange      ledger.Coin       `json:"fee_change"`
	MarginChange   ledger.Coin       `json:"margin_change"`
	DiscountChange ledger.Coin       `json:"discount_change"`
	Payout         ledger.Coin       `json:"payout"`
}

type liquidationResponse struct {
	Record    *event.LiquidationRecord `json:"record"`
	Duplicate bool                     `json:"duplicate"`
}

type settleResponse struct {
	Record  *event.MarketSettled `json:"record"`
	Changed bool                 `json:"changed"`
}

type processResponse struct {
	RequestsConsumed int                          `json:"requests_consumed"`
	PositionsSettled int                          `json:"positions_settled"`
	KeeperPoints     uint64                       `json:"keeper_points"`
	Skipped          []string                     `json:"skipped,omitempty"`
	Processed        []*event.SettlementProcessed `json:"processed,omitempty"`
	Positions        []*event.PositionSettled     `json:"positions,omitempty"`
}

type claimRequest struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
}

type positionResponse struct {
	Owner         uuid.UUID  `json:"owner"`
	MarketID      string     `json:"market_id"`
	Side          event.Side `json:"side"`
	Quantity      uint64     `json:"quantity"`
	EntryPrice1e6 uint64     `json:"entry_price_1e6"`
	Margin        uint64     `json:"margin"`
	Status        string     `json:"status"`
	Version       int64      `json:"version"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

type pointsResponse struct {
	Epoch  uint64            `json:"epoch"`
	Total  uint64            `json:"total"`
	Actors map[string]uint64 `json:"actors"`
}

type statusResponse struct {
	NextSequence  int64  `json:"next_sequence"`
	StateHash     string `json:"state_hash"`
	Paused        bool   `json:"paused"`
	Epoch         uint64 `json:"epoch"`
	Markets       int    `json:"markets"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}
