package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"UnxvFutures/internal/core"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/server"
	"UnxvFutures/internal/state"
	"UnxvFutures/internal/venue"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now    = time.UnixMilli(1_750_000_000_000).UTC()
	trader = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
)

func newHandler(t *testing.T) (http.Handler, *venue.Venue) {
	t.Helper()
	reg, tok, err := registry.New(registry.Config{
		Fees:   registry.FeeConfig{TakerBps: 10},
		Timing: registry.Timing{MaxPriceAge: time.Minute, EpochLength: time.Hour},
	})
	require.NoError(t, err)
	v := venue.New(reg, tok, core.NewEngine(core.Config{}))
	require.NoError(t, v.WhitelistUnderlying("ETH", "feed-eth"))
	_, err = v.ListMarket(state.MarketSpec{
		Symbol:     "ETH-1",
		Underlying: "ETH",
		ExpiryMs:   uint64(now.Add(time.Hour).UnixMilli()),
		Margin:     state.MarginParams{InitialBps: 1000, MaintenanceBps: 500},
	})
	require.NoError(t, err)

	hc := observability.NewHealthChecker()
	h, err := server.NewHTTPHandler(&server.ServerDeps{
		Venue:         v,
		HealthChecker: hc,
		StartTime:     now,
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return h, v
}

func fillBody(market string) map[string]any {
	return map[string]any{
		"fill_id":   "550e8400-e29b-41d4-a716-446655440000",
		"trader":    trader.String(),
		"market":    market,
		"side":      "sell",
		"quantity":  3,
		"price_1e6": 2_000_000,
		"underlying_feed": map[string]any{
			"feed_id":      "feed-eth",
			"price":        2_000_000,
			"expo":         -6,
			"publish_time": now.Format(time.RFC3339Nano),
		},
		"fee_coin":    map[string]any{"asset": "USDC", "value": 1_000_000},
		"margin_coin": map[string]any{"asset": "USDC", "value": 900_000},
	}
}

func do(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestRecordFill(t *testing.T) {
	h, _ := newHandler(t)

	rec, out := do(t, h, "POST", "/v1/fills", fillBody("ETH-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, out["duplicate"])
	record := out["record"].(map[string]any)
	assert.Equal(t, "ETH-1", record["market"])

	rec, out = do(t, h, "POST", "/v1/fills", fillBody("ETH-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["duplicate"])

	rec, out = do(t, h, "GET", "/v1/markets/ETH-1/positions/"+trader.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, out["quantity"])
	assert.Equal(t, "ETH-1", out["market_id"])

	rec, out = do(t, h, "GET", "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["next_sequence"])
	assert.Len(t, out["state_hash"], 64)
}

func TestErrorClasses(t *testing.T) {
	h, _ := newHandler(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
		class  string
	}{
		{"malformed fill", "POST", "/v1/fills", []byte("{"), http.StatusBadRequest, "malformed"},
		{"unknown market", "POST", "/v1/fills", fillBody("BTC-9"), http.StatusNotFound, "not_found"},
		{"settle before expiry", "POST", "/v1/markets/ETH-1/settle", map[string]any{
			"feed": map[string]any{"feed_id": "feed-eth", "price": 2_000_000, "expo": -6, "publish_time": now},
		}, http.StatusUnprocessableEntity, "policy_violation"},
		{"settle with future timestamp", "POST", "/v1/markets/ETH-1/settle", map[string]any{
			"feed":         map[string]any{"feed_id": "feed-eth", "price": 2_000_000, "expo": -6, "publish_time": now.Add(2 * time.Hour)},
			"timestamp_ms": now.Add(2 * time.Hour).UnixMilli(),
		}, http.StatusBadRequest, "malformed"},
		{"request on live market", "POST", "/v1/markets/ETH-1/settlement-requests", map[string]any{
			"requester": trader.String(),
		}, http.StatusUnprocessableEntity, "policy_violation"},
		{"market mismatch", "POST", "/v1/markets/ETH-1/liquidations", map[string]any{
			"market": "BTC-9", "owner": trader.String(), "keeper": trader.String(),
		}, http.StatusBadRequest, "malformed"},
		{"missing position", "GET", "/v1/markets/ETH-1/positions/" + trader.String(), nil, http.StatusNotFound, "not_found"},
		{"bad epoch", "GET", "/v1/points/abc", nil, http.StatusBadRequest, "malformed"},
		{"bad claim account", "POST", "/v1/accounts/" + trader.String() + "/claims", map[string]any{
			"account": "treasury", "asset": "USDC",
		}, http.StatusBadRequest, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := do(t, h, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Equal(t, tt.class, out["class"])
		})
	}
}

func TestQueries(t *testing.T) {
	h, _ := newHandler(t)

	rec, out := do(t, h, "GET", "/v1/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["markets"], 1)

	rec, out = do(t, h, "GET", "/v1/markets/ETH-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ETH-1", out["symbol"])

	rec, out = do(t, h, "GET", "/v1/points/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, out["total"])

	rec, out = do(t, h, "GET", "/v1/accounts/"+trader.String()+"/balances/claimable/USDC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", out["balance"])
	assert.Contains(t, out["account"], trader.String())

	rec, _ = do(t, h, "POST", "/v1/settlements/process", map[string]any{"keeper": trader.String()})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutesAndHealth(t *testing.T) {
	h, _ := newHandler(t)

	rec, _ := do(t, h, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, "GET", "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// Record-log routes need a query service.
	rec, _ = do(t, h, "GET", "/v1/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewHTTPHandler_RequiresVenue(t *testing.T) {
	_, err := server.NewHTTPHandler(&server.ServerDeps{})
	assert.Error(t, err)
}
