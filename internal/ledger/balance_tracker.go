package ledger

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances. Balances are 256-bit
// so sinks can keep accumulating clamped u64 fees without wrapping. The
// external boundary is tracked as inflow/outflow totals instead of a signed
// balance.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	inflow   map[AssetID]*uint256.Int
	outflow  map[AssetID]*uint256.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
		inflow:   make(map[AssetID]*uint256.Int),
		outflow:  make(map[AssetID]*uint256.Int),
	}
}

func addTo(m map[AccountKey]*uint256.Int, key AccountKey, amount uint64) {
	v, ok := m[key]
	if !ok {
		v = new(uint256.Int)
		m[key] = v
	}
	v.AddUint64(v, amount)
}

func addFlow(m map[AssetID]*uint256.Int, asset AssetID, amount uint64) {
	v, ok := m[asset]
	if !ok {
		v = new(uint256.Int)
		m[asset] = v
	}
	v.AddUint64(v, amount)
}

// ApplyBatch applies all journals in a batch. Every credit is checked against
// the running balances first, so a failing batch leaves no partial effect.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	pending := make(map[AccountKey]*uint256.Int)
	for _, j := range batch.Journals {
		if j.CreditAccount.Scope == AccountScopeExternal {
			continue
		}
		need, ok := pending[j.CreditAccount]
		if !ok {
			need = new(uint256.Int)
			pending[j.CreditAccount] = need
		}
		need.AddUint64(need, j.Amount)
	}
	// Credits may be funded by debits earlier in the same batch.
	for _, j := range batch.Journals {
		if j.DebitAccount.Scope == AccountScopeExternal {
			continue
		}
		if need, ok := pending[j.DebitAccount]; ok {
			if need.LtUint64(j.Amount) {
				need.Clear()
			} else {
				need.SubUint64(need, j.Amount)
			}
		}
	}
	for key, need := range pending {
		if bt.GetBalance(key).Lt(need) {
			return fmt.Errorf("account %s has insufficient balance: have=%s, need=%s",
				key.AccountPath(), bt.GetBalance(key).Dec(), need.Dec())
		}
	}

	for _, j := range batch.Journals {
		bt.applyJournal(j)
	}

	return nil
}

func (bt *BalanceTracker) applyJournal(j Journal) {
	if j.DebitAccount.Scope == AccountScopeExternal {
		addFlow(bt.outflow, j.AssetID, j.Amount)
	} else {
		addTo(bt.balances, j.DebitAccount, j.Amount)
	}

	if j.CreditAccount.Scope == AccountScopeExternal {
		addFlow(bt.inflow, j.AssetID, j.Amount)
	} else {
		v := bt.balances[j.CreditAccount]
		v.SubUint64(v, j.Amount)
	}
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// BalanceU64 returns the balance saturated to u64.
func (bt *BalanceTracker) BalanceU64(key AccountKey) uint64 {
	v := bt.GetBalance(key)
	if v.IsUint64() {
		return v.Uint64()
	}
	return ^uint64(0)
}

// ValidateConservation checks that, per asset, the sum of all internal
// balances equals what entered through the coin boundary minus what left.
func (bt *BalanceTracker) ValidateConservation() error {
	totals := make(map[AssetID]*uint256.Int)
	for key, v := range bt.balances {
		addFlow(totals, key.AssetID, 0)
		totals[key.AssetID].Add(totals[key.AssetID], v)
	}

	for asset, in := range bt.inflow {
		out := new(uint256.Int)
		if o, ok := bt.outflow[asset]; ok {
			out.Set(o)
		}
		held := new(uint256.Int)
		if t, ok := totals[asset]; ok {
			held.Set(t)
		}
		if expected := new(uint256.Int).Sub(in, out); !expected.Eq(held) {
			name, _ := GetAssetName(asset)
			return fmt.Errorf("conservation broken for %s: inflow-outflow=%s, held=%s",
				name, expected.Dec(), held.Dec())
		}
	}

	return nil
}

// BalanceEntry is one account balance in decimal form, for snapshots.
type BalanceEntry struct {
	Key    AccountKey `json:"key"`
	Amount string     `json:"amount"`
}

// FlowEntry is the external inflow/outflow total of one asset.
type FlowEntry struct {
	AssetID AssetID `json:"asset_id"`
	Inflow  string  `json:"inflow"`
	Outflow string  `json:"outflow"`
}

// Entries returns every non-zero balance ordered by account path.
func (bt *BalanceTracker) Entries() []BalanceEntry {
	entries := make([]BalanceEntry, 0, len(bt.balances))
	for k, v := range bt.balances {
		if v.IsZero() {
			continue
		}
		entries = append(entries, BalanceEntry{Key: k, Amount: v.Dec()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.AccountPath() < entries[j].Key.AccountPath()
	})
	return entries
}

// Flows returns the external boundary totals ordered by asset.
func (bt *BalanceTracker) Flows() []FlowEntry {
	assets := make(map[AssetID]bool)
	for a := range bt.inflow {
		assets[a] = true
	}
	for a := range bt.outflow {
		assets[a] = true
	}

	flows := make([]FlowEntry, 0, len(assets))
	for a := range assets {
		in, out := new(uint256.Int), new(uint256.Int)
		if v, ok := bt.inflow[a]; ok {
			in.Set(v)
		}
		if v, ok := bt.outflow[a]; ok {
			out.Set(v)
		}
		flows = append(flows, FlowEntry{AssetID: a, Inflow: in.Dec(), Outflow: out.Dec()})
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].AssetID < flows[j].AssetID })
	return flows
}

// Restore replaces all balances and flows with snapshot contents and checks
// the result is conserved.
func (bt *BalanceTracker) Restore(entries []BalanceEntry, flows []FlowEntry) error {
	balances := make(map[AccountKey]*uint256.Int, len(entries))
	for _, e := range entries {
		v, err := uint256.FromDecimal(e.Amount)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", e.Key.AccountPath(), err)
		}
		balances[e.Key] = v
	}

	inflow := make(map[AssetID]*uint256.Int, len(flows))
	outflow := make(map[AssetID]*uint256.Int, len(flows))
	for _, f := range flows {
		in, err := uint256.FromDecimal(f.Inflow)
		if err != nil {
			return fmt.Errorf("inflow of asset %d: %w", f.AssetID, err)
		}
		out, err := uint256.FromDecimal(f.Outflow)
		if err != nil {
			return fmt.Errorf("outflow of asset %d: %w", f.AssetID, err)
		}
		inflow[f.AssetID] = in
		outflow[f.AssetID] = out
	}

	restored := &BalanceTracker{balances: balances, inflow: inflow, outflow: outflow}
	if err := restored.ValidateConservation(); err != nil {
		return err
	}
	*bt = *restored
	return nil
}
