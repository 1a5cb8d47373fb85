package ledger

import (
	fpmath "UnxvFutures/internal/math"
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFeeTreasury JournalType = iota
	JournalTypeFeeBotRewards
	JournalTypeMakerRebate
	JournalTypeDiscountReserve
	JournalTypeMarginLock
	JournalTypeMarginRelease
	JournalTypeLiquidationKeeper
	JournalTypeLiquidationTreasury
	JournalTypeSettlementPayout
	JournalTypeRewardClaim
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeFeeTreasury:
		return "fee_treasury"
	case JournalTypeFeeBotRewards:
		return "fee_bot_rewards"
	case JournalTypeMakerRebate:
		return "maker_rebate"
	case JournalTypeDiscountReserve:
		return "discount_reserve"
	case JournalTypeMarginLock:
		return "margin_lock"
	case JournalTypeMarginRelease:
		return "margin_release"
	case JournalTypeLiquidationKeeper:
		return "liquidation_keeper"
	case JournalTypeLiquidationTreasury:
		return "liquidation_treasury"
	case JournalTypeSettlementPayout:
		return "settlement_payout"
	case JournalTypeRewardClaim:
		return "reward_claim"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one operation
	EventRef      string      // Key of the source operation
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        uint64      // Native amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Operation timestamp (epoch milliseconds)
}

// Batch represents the set of journal entries produced by one operation.
// A batch is applied all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// NewBatch starts an empty batch for the operation identified by eventRef.
func NewBatch(eventRef string, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Timestamp: timestamp,
	}
}

// Transfer appends an entry moving amount from credit to debit. Zero amounts
// are skipped so callers can route every leg unconditionally.
func (b *Batch) Transfer(debit, credit AccountKey, amount uint64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Total returns the summed amount of entries of the given type.
func (b *Batch) Total(jt JournalType) uint64 {
	var total uint64
	for _, j := range b.Journals {
		if j.JournalType == jt {
			total = fpmath.SaturatingAdd(total, j.Amount)
		}
	}
	return total
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two distinct accounts of the same asset, so every entry is
// balanced by construction.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == 0 {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.CreditAccount.AssetID || j.AssetID != j.DebitAccount.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
