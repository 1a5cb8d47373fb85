package ledger

import (
	fpmath "UnxvFutures/internal/math"

	"github.com/google/uuid"
)

// JournalGenerator routes engine amounts into journal batches. It reads the
// tracker so vault payouts can be capped at what the vault actually holds.
type JournalGenerator struct {
	balanceTracker *BalanceTracker
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{balanceTracker: tracker}
}

// Available returns the balance of key as it would stand after batch b.
func (jg *JournalGenerator) Available(b *Batch, key AccountKey) uint64 {
	v := jg.balanceTracker.GetBalance(key)
	for _, j := range b.Journals {
		if j.DebitAccount == key {
			v.AddUint64(v, j.Amount)
		}
		if j.CreditAccount == key {
			if v.LtUint64(j.Amount) {
				v.Clear()
			} else {
				v.SubUint64(v, j.Amount)
			}
		}
	}
	if v.IsUint64() {
		return v.Uint64()
	}
	return fpmath.MaxU64
}

// GenerateFillFees routes a fee breakdown: treasury and bot shares, the maker
// rebate accrual and the discount-token units into the epoch reserve.
func (jg *JournalGenerator) GenerateFillFees(
	b *Batch,
	owner uuid.UUID,
	collateral AssetID,
	discountAsset AssetID,
	epoch uint64,
	fb fpmath.FeeBreakdown,
) {
	external := NewExternalAccountKey(collateral)

	b.Transfer(NewSystemAccountKey(SubTypeSystemTreasury, collateral), external, fb.TreasuryShare, JournalTypeFeeTreasury)
	b.Transfer(NewSystemAccountKey(SubTypeSystemBotRewards, collateral), external, fb.BotShare, JournalTypeFeeBotRewards)
	b.Transfer(NewUserAccountKey(owner, SubTypeMakerRebate, collateral), external, fb.MakerRebate, JournalTypeMakerRebate)

	if fb.DiscountTokenUnits > 0 {
		b.Transfer(NewDiscountReserveKey(epoch, discountAsset), NewExternalAccountKey(discountAsset), fb.DiscountTokenUnits, JournalTypeDiscountReserve)
	}
}

// GenerateMarginLock moves margin from an incoming coin into the market vault.
func (jg *JournalGenerator) GenerateMarginLock(b *Batch, marketID string, asset AssetID, amount uint64) {
	b.Transfer(NewMarketVaultKey(marketID, asset), NewExternalAccountKey(asset), amount, JournalTypeMarginLock)
}

// GenerateVaultPayout pays amount out of the market vault into to, capped at
// what the vault holds. It returns the amount paid and the uncovered shortfall.
func (jg *JournalGenerator) GenerateVaultPayout(
	b *Batch,
	marketID string,
	to AccountKey,
	amount uint64,
	jt JournalType,
) (paid uint64, shortfall uint64) {
	vault := NewMarketVaultKey(marketID, to.AssetID)
	paid = amount
	if avail := jg.Available(b, vault); avail < paid {
		paid = avail
	}
	b.Transfer(to, vault, paid, jt)
	return paid, amount - paid
}

// GenerateLiquidationFees splits a liquidation fee held in the market vault
// between the keeper's accrual account and the treasury.
func (jg *JournalGenerator) GenerateLiquidationFees(
	b *Batch,
	marketID string,
	asset AssetID,
	keeper uuid.UUID,
	keeperShare, treasuryShare uint64,
) {
	vault := NewMarketVaultKey(marketID, asset)
	b.Transfer(NewUserAccountKey(keeper, SubTypeKeeperRewards, asset), vault, keeperShare, JournalTypeLiquidationKeeper)
	b.Transfer(NewSystemAccountKey(SubTypeSystemTreasury, asset), vault, treasuryShare, JournalTypeLiquidationTreasury)
}

// GenerateClaim pays out everything accrued on a user account.
func (jg *JournalGenerator) GenerateClaim(b *Batch, owner uuid.UUID, subType AccountSubType, asset AssetID) uint64 {
	key := NewUserAccountKey(owner, subType, asset)
	amount := jg.Available(b, key)
	b.Transfer(NewExternalAccountKey(asset), key, amount, JournalTypeRewardClaim)
	return amount
}
