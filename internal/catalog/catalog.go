package catalog

import (
	"UnxvFutures/internal/registry"
	"UnxvFutures/internal/state"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Catalog is the deployment description of the venue: fee schedule, timing,
// whitelisted underlyings and the markets to list at boot.
type Catalog struct {
	Fees           registry.FeeConfig `yaml:"fees"`
	Timing         TimingConfig       `yaml:"timing"`
	DiscountFeedID string             `yaml:"discount_feed_id"`
	Underlyings    []Underlying       `yaml:"underlyings"`
	Markets        []state.MarketSpec `yaml:"markets"`
}

type TimingConfig struct {
	MaxPriceAge time.Duration `yaml:"max_price_age"`
	EpochLength time.Duration `yaml:"epoch_length"`
}

// Underlying binds a symbol to the price feed its markets must use.
type Underlying struct {
	Symbol string `yaml:"symbol"`
	FeedID string `yaml:"feed_id"`
}

// Venue is the subset of the venue the catalog drives.
type Venue interface {
	WhitelistUnderlying(underlying, feedID string) error
	HasMarket(marketID string) bool
	ListMarket(spec state.MarketSpec) (state.Snapshot, error)
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	c := Catalog{
		Timing: TimingConfig{
			MaxPriceAge: time.Minute,
			EpochLength: 24 * time.Hour,
		},
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	for i := range c.Markets {
		c.Markets[i].Symbol = strings.TrimSpace(c.Markets[i].Symbol)
		if c.Markets[i].CollateralAsset == "" {
			c.Markets[i].CollateralAsset = "USDC"
		}
	}

	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("catalog validation failed: %w", err)
	}
	return &c, nil
}

func validate(c *Catalog) error {
	if err := c.Fees.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if c.Timing.EpochLength < time.Millisecond {
		return fmt.Errorf("timing.epoch_length must be at least 1ms")
	}
	if c.Timing.MaxPriceAge < 0 {
		return fmt.Errorf("timing.max_price_age must not be negative")
	}

	feeds := make(map[string]bool, len(c.Underlyings))
	for _, u := range c.Underlyings {
		if u.Symbol == "" || u.FeedID == "" {
			return fmt.Errorf("underlyings: symbol and feed_id are required")
		}
		if feeds[u.Symbol] {
			return fmt.Errorf("underlyings: %s listed twice", u.Symbol)
		}
		feeds[u.Symbol] = true
	}

	symbols := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("markets: symbol is required")
		}
		if symbols[m.Symbol] {
			return fmt.Errorf("markets: %s listed twice", m.Symbol)
		}
		symbols[m.Symbol] = true
		if !feeds[m.Underlying] {
			return fmt.Errorf("markets.%s: underlying %q is not in underlyings", m.Symbol, m.Underlying)
		}
		if err := m.Margin.Validate(); err != nil {
			return fmt.Errorf("markets.%s.margin: %w", m.Symbol, err)
		}
		if err := m.Caps.Validate(); err != nil {
			return fmt.Errorf("markets.%s.caps: %w", m.Symbol, err)
		}
	}
	return nil
}

// RegistryConfig returns the registry seed described by the catalog.
func (c *Catalog) RegistryConfig() registry.Config {
	return registry.Config{
		Fees: c.Fees,
		Timing: registry.Timing{
			MaxPriceAge: c.Timing.MaxPriceAge,
			EpochLength: c.Timing.EpochLength,
		},
		DiscountFeedID: c.DiscountFeedID,
	}
}

// Apply whitelists every underlying and lists the markets the venue does not
// have yet. It returns the symbols it listed.
func (c *Catalog) Apply(v Venue) ([]string, error) {
	for _, u := range c.Underlyings {
		if err := v.WhitelistUnderlying(u.Symbol, u.FeedID); err != nil {
			return nil, fmt.Errorf("whitelist %s: %w", u.Symbol, err)
		}
	}

	var listed []string
	for _, spec := range c.Markets {
		if v.HasMarket(spec.Symbol) {
			continue
		}
		if _, err := v.ListMarket(spec); err != nil {
			return listed, fmt.Errorf("list %s: %w", spec.Symbol, err)
		}
		listed = append(listed, spec.Symbol)
	}
	return listed, nil
}
