package state

import (
	"UnxvFutures/internal/event"
	fpmath "UnxvFutures/internal/math"
	"UnxvFutures/internal/registry"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrMarketSettled      = errors.New("market already settled")
	ErrSettlementConflict = errors.New("market already settled at a different price")
	ErrNotPerpetual       = errors.New("settlement window only applies to non-expiring markets")
	ErrOpenInterest       = errors.New("open interest underflow")
)

// MarketStatus is the market lifecycle: Active until settled, then retired.
type MarketStatus int32

const (
	MarketStatusActive MarketStatus = iota
	MarketStatusSettled
)

func (s MarketStatus) String() string {
	switch s {
	case MarketStatusActive:
		return "Active"
	case MarketStatusSettled:
		return "Settled"
	default:
		return "Unknown"
	}
}

// MarginParams are the per-market margin and liquidation parameters in bps.
type MarginParams struct {
	InitialBps         uint64 `yaml:"initial_bps" json:"initial_bps"`
	MaintenanceBps     uint64 `yaml:"maintenance_bps" json:"maintenance_bps"`
	LiquidationFeeBps  uint64 `yaml:"liquidation_fee_bps" json:"liquidation_fee_bps"`
	KeeperIncentiveBps uint64 `yaml:"keeper_incentive_bps" json:"keeper_incentive_bps"`
}

// Validate checks 0 < mm <= im <= 10000 and the fee fields are within 0..10000.
func (p MarginParams) Validate() error {
	if p.MaintenanceBps == 0 {
		return fmt.Errorf("maintenance_bps must be > 0")
	}
	if p.InitialBps < p.MaintenanceBps {
		return fmt.Errorf("initial_bps (%d) must be >= maintenance_bps (%d)", p.InitialBps, p.MaintenanceBps)
	}
	if p.InitialBps > fpmath.BpsDenominator {
		return fmt.Errorf("initial_bps must be <= 10000, got %d", p.InitialBps)
	}
	if p.LiquidationFeeBps > fpmath.BpsDenominator {
		return fmt.Errorf("liquidation_fee_bps must be <= 10000, got %d", p.LiquidationFeeBps)
	}
	if p.KeeperIncentiveBps > fpmath.BpsDenominator {
		return fmt.Errorf("keeper_incentive_bps must be <= 10000, got %d", p.KeeperIncentiveBps)
	}
	return nil
}

// RiskCaps is the risk-control block. A zero cap disables that check.
type RiskCaps struct {
	AccountMaxNotional1e6 uint64 `yaml:"account_max_notional_1e6" json:"account_max_notional_1e6"`
	MarketMaxNotional1e6  uint64 `yaml:"market_max_notional_1e6" json:"market_max_notional_1e6"`
	AccountShareOfOiBps   uint64 `yaml:"account_share_of_oi_bps" json:"account_share_of_oi_bps"`

	// Parallel arrays sorted by threshold, strictly ascending.
	TierThresholds1e6 []uint64 `yaml:"tier_thresholds_1e6" json:"tier_thresholds_1e6"`
	TierImBps         []uint64 `yaml:"tier_im_bps" json:"tier_im_bps"`

	PriceDeviationBps     uint64 `yaml:"price_deviation_bps" json:"price_deviation_bps"`
	ImbalanceThresholdBps uint64 `yaml:"imbalance_threshold_bps" json:"imbalance_threshold_bps"`
	ImbalanceSurchargeBps uint64 `yaml:"imbalance_surcharge_bps" json:"imbalance_surcharge_bps"`
}

func (c RiskCaps) Validate() error {
	if len(c.TierThresholds1e6) != len(c.TierImBps) {
		return fmt.Errorf("tier arrays differ in length: %d thresholds, %d bps",
			len(c.TierThresholds1e6), len(c.TierImBps))
	}
	for i := range c.TierThresholds1e6 {
		if i > 0 && c.TierThresholds1e6[i] <= c.TierThresholds1e6[i-1] {
			return fmt.Errorf("tier thresholds must be strictly ascending at index %d", i)
		}
		if c.TierImBps[i] > fpmath.BpsDenominator {
			return fmt.Errorf("tier_im_bps[%d] must be <= 10000, got %d", i, c.TierImBps[i])
		}
	}
	for name, v := range map[string]uint64{
		"account_share_of_oi_bps": c.AccountShareOfOiBps,
		"price_deviation_bps":     c.PriceDeviationBps,
		"imbalance_threshold_bps": c.ImbalanceThresholdBps,
		"imbalance_surcharge_bps": c.ImbalanceSurchargeBps,
	} {
		if v > fpmath.BpsDenominator {
			return fmt.Errorf("%s must be <= 10000, got %d", name, v)
		}
	}
	return nil
}

// TierImBpsFor returns the IM bps of the highest tier threshold not exceeding
// notional1e6, or fallback when notional is below every threshold.
func (c RiskCaps) TierImBpsFor(notional1e6 uint64, fallback uint64) uint64 {
	bps := fallback
	for i, threshold := range c.TierThresholds1e6 {
		if threshold > notional1e6 {
			break
		}
		bps = c.TierImBps[i]
	}
	return bps
}

// MarketSpec is the immutable creation input of a market, produced by the
// deployment catalog and consumed verbatim.
type MarketSpec struct {
	Symbol          string       `yaml:"symbol" json:"symbol"`
	Underlying      string       `yaml:"underlying" json:"underlying"`
	ExpiryMs        uint64       `yaml:"expiry_ms" json:"expiry_ms"` // 0 = perpetual
	CollateralAsset string       `yaml:"collateral_asset" json:"collateral_asset"`
	ContractSize    uint64       `yaml:"contract_size" json:"contract_size"`
	TickSize        uint64       `yaml:"tick_size" json:"tick_size"`
	LotSize         uint64       `yaml:"lot_size" json:"lot_size"`
	MinSize         uint64       `yaml:"min_size" json:"min_size"`
	Margin          MarginParams `yaml:"margin" json:"margin"`
	Caps            RiskCaps     `yaml:"caps" json:"caps"`
}

// MarketState is the per-symbol contract. Open interest is kept per side so
// long OI + short OI equals the sum of absolute position quantities.
type MarketState struct {
	spec MarketSpec
	reg  *registry.RiskRegistry

	longOI       uint64
	shortOI      uint64
	volume       uint64
	lastPrice1e6 uint64
	paused       bool

	status             MarketStatus
	settlementPrice1e6 uint64
	settlementWindow   bool
}

// ListMarket creates a market. It is admin-gated and requires the underlying
// to be whitelisted on the registry.
func ListMarket(tok *registry.AdminToken, reg *registry.RiskRegistry, spec MarketSpec) (*MarketState, error) {
	if err := reg.Authorize(tok); err != nil {
		return nil, err
	}
	if spec.Symbol == "" {
		return nil, fmt.Errorf("market symbol is required")
	}
	if !reg.IsWhitelisted(spec.Underlying) {
		return nil, fmt.Errorf("%w: %s", registry.ErrNotListed, spec.Underlying)
	}
	if spec.CollateralAsset == "" {
		spec.CollateralAsset = "USDC"
	}
	if err := spec.Margin.Validate(); err != nil {
		return nil, fmt.Errorf("invalid margin params for %s: %w", spec.Symbol, err)
	}
	if err := spec.Caps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk caps for %s: %w", spec.Symbol, err)
	}

	spec.Caps.TierThresholds1e6 = append([]uint64(nil), spec.Caps.TierThresholds1e6...)
	spec.Caps.TierImBps = append([]uint64(nil), spec.Caps.TierImBps...)

	return &MarketState{spec: spec, reg: reg}, nil
}

func (m *MarketState) ID() string                 { return m.spec.Symbol }
func (m *MarketState) Spec() MarketSpec           { return m.spec }
func (m *MarketState) Underlying() string         { return m.spec.Underlying }
func (m *MarketState) ExpiryMs() uint64           { return m.spec.ExpiryMs }
func (m *MarketState) IsPerpetual() bool          { return m.spec.ExpiryMs == 0 }
func (m *MarketState) CollateralAsset() string    { return m.spec.CollateralAsset }
func (m *MarketState) Margin() MarginParams       { return m.spec.Margin }
func (m *MarketState) Caps() RiskCaps             { return m.spec.Caps }
func (m *MarketState) LongOI() uint64             { return m.longOI }
func (m *MarketState) ShortOI() uint64            { return m.shortOI }
func (m *MarketState) Volume() uint64             { return m.volume }
func (m *MarketState) LastPrice1e6() uint64       { return m.lastPrice1e6 }
func (m *MarketState) Paused() bool               { return m.paused }
func (m *MarketState) Status() MarketStatus       { return m.status }
func (m *MarketState) SettlementPrice1e6() uint64 { return m.settlementPrice1e6 }
func (m *MarketState) SettlementWindowOpen() bool { return m.settlementWindow }

// OpenInterest is long OI + short OI, saturating.
func (m *MarketState) OpenInterest() uint64 {
	return fpmath.SaturatingAdd(m.longOI, m.shortOI)
}

// SideOI returns the open interest held on one side.
func (m *MarketState) SideOI(side event.Side) uint64 {
	if side == event.SideShort {
		return m.shortOI
	}
	return m.longOI
}

// RequiredInitialMargin is notional * tierImBps / 10000 for qty at price.
func (m *MarketState) RequiredInitialMargin(qty, price1e6 uint64) uint64 {
	notional := fpmath.Notional(qty, price1e6)
	// Only the tier lookup sees a clamped notional.
	tierNotional, _ := fpmath.ClampU64(notional)
	bps := m.spec.Caps.TierImBpsFor(tierNotional, m.spec.Margin.InitialBps)
	v, _ := fpmath.ClampU64(fpmath.ApplyBps(notional, bps))
	return v
}

// MaintenanceMargin is notional * maintenanceBps / 10000 for qty at price.
func (m *MarketState) MaintenanceMargin(qty, price1e6 uint64) uint64 {
	v, _ := fpmath.ClampU64(fpmath.ApplyBps(fpmath.Notional(qty, price1e6), m.spec.Margin.MaintenanceBps))
	return v
}

// ApplyOIChange moves open interest: closeQty leaves the closeSide, openQty
// joins the openSide. It fails without mutating on underflow.
func (m *MarketState) ApplyOIChange(closeSide event.Side, closeQty uint64, openSide event.Side, openQty uint64) error {
	long, short := m.longOI, m.shortOI
	if closeQty > 0 {
		switch closeSide {
		case event.SideLong:
			if closeQty > long {
				return fmt.Errorf("%w: long %d < %d", ErrOpenInterest, long, closeQty)
			}
			long -= closeQty
		case event.SideShort:
			if closeQty > short {
				return fmt.Errorf("%w: short %d < %d", ErrOpenInterest, short, closeQty)
			}
			short -= closeQty
		}
	}
	if openQty > 0 {
		switch openSide {
		case event.SideLong:
			long = fpmath.SaturatingAdd(long, openQty)
		case event.SideShort:
			short = fpmath.SaturatingAdd(short, openQty)
		}
	}
	m.longOI, m.shortOI = long, short
	return nil
}

// RecordTrade accumulates volume (saturating) and stores the last price.
func (m *MarketState) RecordTrade(notional, price1e6 uint64) {
	m.volume = fpmath.SaturatingAdd(m.volume, notional)
	m.lastPrice1e6 = price1e6
}

// MarkSettled writes the final settlement price. Settling again at the same
// price reports changed=false; a different price is ErrSettlementConflict.
func (m *MarketState) MarkSettled(price1e6 uint64) (changed bool, err error) {
	if m.status == MarketStatusSettled {
		if m.settlementPrice1e6 == price1e6 {
			return false, nil
		}
		return false, fmt.Errorf("%w: %s settled at %d, got %d",
			ErrSettlementConflict, m.spec.Symbol, m.settlementPrice1e6, price1e6)
	}
	m.status = MarketStatusSettled
	m.settlementPrice1e6 = price1e6
	m.settlementWindow = false
	return true, nil
}

// ImbalanceBps returns |long-short| * 10000 / (long+short) for the given
// totals, or 0 when there is no open interest.
func ImbalanceBps(long, short uint64) uint64 {
	total := new(uint256.Int).AddUint64(uint256.NewInt(long), short)
	if total.IsZero() {
		return 0
	}
	diff := long - short
	if short > long {
		diff = short - long
	}
	return fpmath.DivRound(fpmath.Notional(diff, fpmath.BpsDenominator), total, fpmath.RoundDown)
}

func (m *MarketState) SetPaused(tok *registry.AdminToken, paused bool) error {
	if err := m.reg.Authorize(tok); err != nil {
		return err
	}
	m.paused = paused
	return nil
}

func (m *MarketState) SetRiskCaps(tok *registry.AdminToken, caps RiskCaps) error {
	if err := m.reg.Authorize(tok); err != nil {
		return err
	}
	if err := caps.Validate(); err != nil {
		return fmt.Errorf("invalid risk caps for %s: %w", m.spec.Symbol, err)
	}
	caps.TierThresholds1e6 = append([]uint64(nil), caps.TierThresholds1e6...)
	caps.TierImBps = append([]uint64(nil), caps.TierImBps...)
	m.spec.Caps = caps
	return nil
}

func (m *MarketState) SetMarginParams(tok *registry.AdminToken, params MarginParams) error {
	if err := m.reg.Authorize(tok); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid margin params for %s: %w", m.spec.Symbol, err)
	}
	m.spec.Margin = params
	return nil
}

// OpenSettlementWindow allows a perpetual market to be settled.
func (m *MarketState) OpenSettlementWindow(tok *registry.AdminToken) error {
	if err := m.reg.Authorize(tok); err != nil {
		return err
	}
	if !m.IsPerpetual() {
		return fmt.Errorf("%w: %s expires at %d", ErrNotPerpetual, m.spec.Symbol, m.spec.ExpiryMs)
	}
	if m.status == MarketStatusSettled {
		return fmt.Errorf("%w: %s", ErrMarketSettled, m.spec.Symbol)
	}
	m.settlementWindow = true
	return nil
}

// Snapshot is a read-only view of a market for queries and hashing.
type Snapshot struct {
	Symbol             string       `json:"symbol"`
	Underlying         string       `json:"underlying"`
	ExpiryMs           uint64       `json:"expiry_ms"`
	CollateralAsset    string       `json:"collateral_asset"`
	ContractSize       uint64       `json:"contract_size"`
	TickSize           uint64       `json:"tick_size"`
	LotSize            uint64       `json:"lot_size"`
	MinSize            uint64       `json:"min_size"`
	Margin             MarginParams `json:"margin"`
	Caps               RiskCaps     `json:"caps"`
	LongOI             uint64       `json:"long_oi"`
	ShortOI            uint64       `json:"short_oi"`
	OpenInterest       uint64       `json:"open_interest"`
	Volume             uint64       `json:"volume"`
	LastPrice1e6       uint64       `json:"last_price_1e6"`
	Paused             bool         `json:"paused"`
	Status             string       `json:"status"`
	SettlementPrice1e6 uint64       `json:"settlement_price_1e6"`
	SettlementWindow   bool         `json:"settlement_window"`
}

func (m *MarketState) Snapshot() Snapshot {
	return Snapshot{
		Symbol:             m.spec.Symbol,
		Underlying:         m.spec.Underlying,
		ExpiryMs:           m.spec.ExpiryMs,
		CollateralAsset:    m.spec.CollateralAsset,
		ContractSize:       m.spec.ContractSize,
		TickSize:           m.spec.TickSize,
		LotSize:            m.spec.LotSize,
		MinSize:            m.spec.MinSize,
		Margin:             m.spec.Margin,
		Caps:               m.spec.Caps,
		LongOI:             m.longOI,
		ShortOI:            m.shortOI,
		OpenInterest:       m.OpenInterest(),
		Volume:             m.volume,
		LastPrice1e6:       m.lastPrice1e6,
		Paused:             m.paused,
		Status:             m.status.String(),
		SettlementPrice1e6: m.settlementPrice1e6,
		SettlementWindow:   m.settlementWindow,
	}
}

// RestoreMarket rebuilds a market from a snapshot taken by Snapshot. It is
// admin-gated like ListMarket and applies the same validation.
func RestoreMarket(tok *registry.AdminToken, reg *registry.RiskRegistry, snap Snapshot) (*MarketState, error) {
	m, err := ListMarket(tok, reg, MarketSpec{
		Symbol:          snap.Symbol,
		Underlying:      snap.Underlying,
		ExpiryMs:        snap.ExpiryMs,
		CollateralAsset: snap.CollateralAsset,
		ContractSize:    snap.ContractSize,
		TickSize:        snap.TickSize,
		LotSize:         snap.LotSize,
		MinSize:         snap.MinSize,
		Margin:          snap.Margin,
		Caps:            snap.Caps,
	})
	if err != nil {
		return nil, err
	}

	switch snap.Status {
	case MarketStatusActive.String():
		m.status = MarketStatusActive
	case MarketStatusSettled.String():
		m.status = MarketStatusSettled
	default:
		return nil, fmt.Errorf("market %s: unknown status %q", snap.Symbol, snap.Status)
	}
	m.longOI = snap.LongOI
	m.shortOI = snap.ShortOI
	m.volume = snap.Volume
	m.lastPrice1e6 = snap.LastPrice1e6
	m.paused = snap.Paused
	m.settlementPrice1e6 = snap.SettlementPrice1e6
	m.settlementWindow = snap.SettlementWindow
	return m, nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (m *MarketState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 64+len(m.spec.Symbol))
	buf = append(buf, byte(len(m.spec.Symbol)))
	buf = append(buf, m.spec.Symbol...)
	buf = appendUint64LE(buf, m.longOI)
	buf = appendUint64LE(buf, m.shortOI)
	buf = appendUint64LE(buf, m.volume)
	buf = appendUint64LE(buf, m.lastPrice1e6)
	buf = append(buf, byte(m.status))
	buf = appendUint64LE(buf, m.settlementPrice1e6)
	return buf
}
