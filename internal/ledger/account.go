package ledger

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeMakerRebate AccountSubType = iota
	SubTypeKeeperRewards
	SubTypeClaimable

	// System sub-types
	SubTypeSystemTreasury
	SubTypeSystemBotRewards
	SubTypeSystemMarketVault
	SubTypeSystemDiscountReserve

	// External sub-types
	SubTypeExternalCoins
)

// AssetID maps asset strings to numeric IDs
type AssetID uint16

const (
	AssetUSDC AssetID = 1
	AssetUSDT AssetID = 2
	AssetUNXV AssetID = 3
)

var (
	assetToID = map[string]AssetID{
		"USDC": AssetUSDC,
		"USDT": AssetUSDT,
		"UNXV": AssetUNXV,
	}
	idToAsset = map[AssetID]string{
		AssetUSDC: "USDC",
		AssetUSDT: "USDT",
		AssetUNXV: "UNXV",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking.
// Entity is a user id, a market id or an epoch number depending on SubType.
type AccountKey struct {
	Scope   AccountScope
	Entity  string
	SubType AccountSubType
	AssetID AssetID
}

// NewUserAccountKey creates a key for user accrual accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  userID.String(),
		SubType: subType,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for venue-wide sinks (treasury, bot rewards).
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewMarketVaultKey is the per-market pool holding locked margin.
func NewMarketVaultKey(marketID string, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Entity:  marketID,
		SubType: SubTypeSystemMarketVault,
		AssetID: assetID,
	}
}

// NewDiscountReserveKey is the epoch-scoped reserve keyed by (epoch, token kind).
func NewDiscountReserveKey(epoch uint64, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Entity:  strconv.FormatUint(epoch, 10),
		SubType: SubTypeSystemDiscountReserve,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for the coin boundary
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalCoins,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.subTypeName(), assetName)
	case AccountScopeSystem:
		if k.Entity == "" {
			return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
		}
		return fmt.Sprintf("system:%s:%s:%s", k.subTypeName(), k.Entity, assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeMakerRebate:
		return "maker_rebate"
	case SubTypeKeeperRewards:
		return "keeper_rewards"
	case SubTypeClaimable:
		return "claimable"
	case SubTypeSystemTreasury:
		return "treasury"
	case SubTypeSystemBotRewards:
		return "bot_rewards"
	case SubTypeSystemMarketVault:
		return "market_vault"
	case SubTypeSystemDiscountReserve:
		return "discount_reserve"
	case SubTypeExternalCoins:
		return "coins"
	default:
		return "unknown"
	}
}
