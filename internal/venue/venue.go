package venue

import (
	"UnxvFutures/internal/core"
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/oracle"
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Venue owns the registry, the market book and the engine. Every operation
// runs under one mutex, so the engine sees a single writer.
type Venue struct {
	mu sync.Mutex

	reg     *registry.RiskRegistry
	tok     *registry.AdminToken
	markets map[string]*state.MarketState
	engine  *core.Engine
	logger  zerolog.Logger
}

// New wraps a registry, its admin token and an engine.
func New(reg *registry.RiskRegistry, tok *registry.AdminToken, engine *core.Engine) *Venue {
	return &Venue{
		reg:     reg,
		tok:     tok,
		markets: make(map[string]*state.MarketState),
		engine:  engine,
		logger:  observability.NewLogger("venue"),
	}
}

func (v *Venue) market(id string) (*state.MarketState, error) {
	m, ok := v.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownMarket, id)
	}
	return m, nil
}

// --- Admin ---

func (v *Venue) WhitelistUnderlying(underlying, feedID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.WhitelistUnderlying(v.tok, underlying, feedID)
}

func (v *Venue) SetPaused(paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.SetPaused(v.tok, paused)
}

func (v *Venue) SetFeeConfig(fees registry.FeeConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.SetFeeConfig(v.tok, fees)
}

// ListMarket creates a market from spec. Symbols are unique.
func (v *Venue) ListMarket(spec state.MarketSpec) (state.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.markets[spec.Symbol]; exists {
		return state.Snapshot{}, fmt.Errorf("market %s already listed", spec.Symbol)
	}
	m, err := state.ListMarket(v.tok, v.reg, spec)
	if err != nil {
		return state.Snapshot{}, err
	}
	v.markets[m.ID()] = m

	log := observability.ForMarket(v.logger, m.ID())
	log.Info().
		Str("underlying", m.Underlying()).
		Uint64("expiry_ms", m.ExpiryMs()).
		Msg("market listed")
	return m.Snapshot(), nil
}

func (v *Venue) SetMarketPaused(marketID string, paused bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return err
	}
	return m.SetPaused(v.tok, paused)
}

func (v *Venue) SetRiskCaps(marketID string, caps state.RiskCaps) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return err
	}
	return m.SetRiskCaps(v.tok, caps)
}

func (v *Venue) OpenSettlementWindow(marketID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return err
	}
	return m.OpenSettlementWindow(v.tok)
}

// --- Operations ---

func (v *Venue) RecordFill(marketID string, in core.FillInput) (*core.FillResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return nil, err
	}
	return v.engine.RecordFill(v.reg, m, in)
}

func (v *Venue) Liquidate(marketID string, in core.LiquidationInput) (*core.LiquidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return nil, err
	}
	return v.engine.Liquidate(v.reg, m, in)
}

func (v *Venue) SettleMarket(marketID string, feed oracle.PriceFeed, now time.Time) (*core.SettleResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return nil, err
	}
	return v.engine.SettleMarket(v.reg, m, feed, now)
}

func (v *Venue) RequestSettlement(marketID string, requester uuid.UUID, now time.Time) (*event.SettlementRequested, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return nil, err
	}
	return v.engine.RequestSettlement(v.reg, m, requester, now)
}

// ProcessDueSettlements processes the listed markets, or every market when
// marketIDs is empty. Unknown ids are reported as skipped.
func (v *Venue) ProcessDueSettlements(marketIDs []string, keeper uuid.UUID, now time.Time) (*core.ProcessResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(marketIDs) == 0 {
		marketIDs = v.sortedIDs()
	}

	var unknown []string
	markets := make([]*state.MarketState, 0, len(marketIDs))
	for _, id := range marketIDs {
		m, ok := v.markets[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		markets = append(markets, m)
	}

	res, err := v.engine.ProcessDueSettlements(v.reg, markets, keeper, now)
	if res != nil {
		res.Skipped = append(res.Skipped, unknown...)
	}
	return res, err
}

func (v *Venue) Claim(owner uuid.UUID, subType ledger.AccountSubType, asset string, now time.Time) (ledger.Coin, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.Claim(owner, subType, asset, now)
}

// --- Queries ---

func (v *Venue) Market(marketID string) (state.Snapshot, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, err := v.market(marketID)
	if err != nil {
		return state.Snapshot{}, err
	}
	return m.Snapshot(), nil
}

// Markets returns every market ordered by symbol.
func (v *Venue) Markets() []state.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	result := make([]state.Snapshot, 0, len(v.markets))
	for _, id := range v.sortedIDs() {
		result = append(result, v.markets[id].Snapshot())
	}
	return result
}

// Position returns a copy of the live position, if any.
func (v *Venue) Position(owner uuid.UUID, marketID string) (state.Position, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos := v.engine.Positions().Get(owner, marketID)
	if pos == nil {
		return state.Position{}, false
	}
	return *pos, true
}

// Points returns the per-actor points and total of an epoch.
func (v *Venue) Points(epoch uint64) (map[uuid.UUID]uint64, uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.Points().Actors(epoch), v.engine.Points().Total(epoch)
}

// Balance returns an account balance as a decimal string.
func (v *Venue) Balance(key ledger.AccountKey) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.Balances().GetBalance(key).Dec()
}

func (v *Venue) Epoch(now time.Time) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.Epoch(now)
}

func (v *Venue) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reg.Paused()
}

// Sequence returns the next record sequence and the chain tip.
func (v *Venue) Sequence() (int64, [32]byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.engine.GetSequence(), v.engine.GetStateHash()
}

func (v *Venue) sortedIDs() []string {
	ids := make([]string, 0, len(v.markets))
	for id := range v.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
