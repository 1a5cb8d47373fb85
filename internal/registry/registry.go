package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnauthorized = errors.New("admin token missing or not issued by this registry")
	ErrInvalidBps   = errors.New("basis points must be within 0..10000")
	ErrNotListed    = errors.New("underlying is not whitelisted")
)

const maxBps = 10_000

// AdminToken is the capability required by every privileged write. Possession
// of the token issued by New is the only authorization check.
type AdminToken struct {
	id uuid.UUID
}

// FeeConfig is the venue-wide trade-fee schedule. All fields are basis points.
type FeeConfig struct {
	TakerBps        uint64 `yaml:"taker_bps" json:"taker_bps"`
	MakerRebateBps  uint64 `yaml:"maker_rebate_bps" json:"maker_rebate_bps"`
	UnxvDiscountBps uint64 `yaml:"unxv_discount_bps" json:"unxv_discount_bps"`
	BotSplitBps     uint64 `yaml:"bot_split_bps" json:"bot_split_bps"`
}

// Validate checks every field is within 0..10000.
func (f FeeConfig) Validate() error {
	for name, v := range map[string]uint64{
		"taker_bps":         f.TakerBps,
		"maker_rebate_bps":  f.MakerRebateBps,
		"unxv_discount_bps": f.UnxvDiscountBps,
		"bot_split_bps":     f.BotSplitBps,
	} {
		if v > maxBps {
			return fmt.Errorf("%w: %s=%d", ErrInvalidBps, name, v)
		}
	}
	return nil
}

// Timing holds the settlement timing parameters.
type Timing struct {
	MaxPriceAge time.Duration // oldest acceptable price-feed reading
	EpochLength time.Duration // keeper points epoch length
}

// Config seeds a new registry.
type Config struct {
	Fees   FeeConfig
	Timing Timing
	// DiscountFeedID is the feed the discount token must be priced with.
	DiscountFeedID string
}

// RiskRegistry is the process-wide configuration object. It is created once,
// mutated only through AdminToken-gated methods and never destroyed.
type RiskRegistry struct {
	adminID        uuid.UUID
	paused         bool
	fees           FeeConfig
	timing         Timing
	discountFeedID string
	underlyings    map[string]string // underlying symbol -> bound feed id
}

// New creates the registry and the single admin token that controls it.
func New(cfg Config) (*RiskRegistry, *AdminToken, error) {
	if err := cfg.Fees.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Timing.EpochLength < time.Millisecond {
		return nil, nil, fmt.Errorf("epoch length must be >= 1ms, got %s", cfg.Timing.EpochLength)
	}

	tok := &AdminToken{id: uuid.New()}
	return &RiskRegistry{
		adminID:        tok.id,
		fees:           cfg.Fees,
		timing:         cfg.Timing,
		discountFeedID: cfg.DiscountFeedID,
		underlyings:    make(map[string]string),
	}, tok, nil
}

// Authorize reports whether tok is this registry's admin token.
func (r *RiskRegistry) Authorize(tok *AdminToken) error {
	if tok == nil || tok.id != r.adminID {
		return ErrUnauthorized
	}
	return nil
}

func (r *RiskRegistry) Paused() bool               { return r.paused }
func (r *RiskRegistry) Fees() FeeConfig            { return r.fees }
func (r *RiskRegistry) MaxPriceAge() time.Duration { return r.timing.MaxPriceAge }
func (r *RiskRegistry) EpochLength() time.Duration { return r.timing.EpochLength }
func (r *RiskRegistry) DiscountFeedID() string     { return r.discountFeedID }

// Epoch maps a wall-clock instant to its keeper-points epoch.
func (r *RiskRegistry) Epoch(now time.Time) uint64 {
	ms := now.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms) / uint64(r.timing.EpochLength.Milliseconds())
}

// FeedFor returns the feed id bound to a whitelisted underlying.
func (r *RiskRegistry) FeedFor(underlying string) (string, error) {
	feed, ok := r.underlyings[underlying]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotListed, underlying)
	}
	return feed, nil
}

// IsWhitelisted reports whether the underlying can back a market.
func (r *RiskRegistry) IsWhitelisted(underlying string) bool {
	_, ok := r.underlyings[underlying]
	return ok
}

func (r *RiskRegistry) SetPaused(tok *AdminToken, paused bool) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	r.paused = paused
	return nil
}

func (r *RiskRegistry) SetFeeConfig(tok *AdminToken, fees FeeConfig) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	if err := fees.Validate(); err != nil {
		return err
	}
	r.fees = fees
	return nil
}

func (r *RiskRegistry) SetTiming(tok *AdminToken, timing Timing) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	if timing.EpochLength < time.Millisecond {
		return fmt.Errorf("epoch length must be >= 1ms, got %s", timing.EpochLength)
	}
	r.timing = timing
	return nil
}

func (r *RiskRegistry) SetDiscountFeed(tok *AdminToken, feedID string) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	r.discountFeedID = feedID
	return nil
}

// WhitelistUnderlying binds an underlying symbol to the feed id its markets
// must be priced and settled with. Rebinding replaces the previous feed.
func (r *RiskRegistry) WhitelistUnderlying(tok *AdminToken, underlying, feedID string) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	if underlying == "" || feedID == "" {
		return fmt.Errorf("underlying and feed id are required")
	}
	r.underlyings[underlying] = feedID
	return nil
}

func (r *RiskRegistry) RemoveUnderlying(tok *AdminToken, underlying string) error {
	if err := r.Authorize(tok); err != nil {
		return err
	}
	delete(r.underlyings, underlying)
	return nil
}
