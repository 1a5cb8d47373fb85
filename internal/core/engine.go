package core

import (
	"UnxvFutures/internal/event"
	"UnxvFutures/internal/ledger"
	"UnxvFutures/internal/observability"
	"UnxvFutures/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine applies fills, liquidations and settlements as single atomic
// transitions. It is not safe for concurrent use; the venue is the single
// writer. Registry and markets are passed into every operation explicitly.
type Engine struct {
	sequence    int64
	hasher      *StateHasher
	balances    *ledger.BalanceTracker
	journalGen  *ledger.JournalGenerator
	positions   *state.PositionLedger
	queue       *state.SettlementQueue
	points      *state.PointsLedger
	idempotency *IdempotencyChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// CoreOutput is one emitted record with the journals it produced.
type CoreOutput struct {
	Envelope *event.RecordEnvelope
	Record   event.Record
	Batch    *ledger.Batch
}

// Config wires an Engine. Channels and the DB checker are optional.
type Config struct {
	StartSequence       int64
	IdempotencyCapacity int
	DBChecker           DBIdempotencyChecker
	Metrics             *observability.Metrics
	PersistChan         chan<- CoreOutput
	PublishChan         chan<- CoreOutput
}

func NewEngine(cfg Config) *Engine {
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	balances := ledger.NewBalanceTracker()

	return &Engine{
		sequence:    cfg.StartSequence,
		hasher:      NewStateHasher(),
		balances:    balances,
		journalGen:  ledger.NewJournalGenerator(balances),
		positions:   state.NewPositionLedger(),
		queue:       state.NewSettlementQueue(),
		points:      state.NewPointsLedger(),
		idempotency: NewIdempotencyChecker(cfg.IdempotencyCapacity, cfg.DBChecker, cfg.Metrics),
		metrics:     cfg.Metrics,
		logger:      observability.NewLogger("core"),
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

func (e *Engine) Balances() *ledger.BalanceTracker { return e.balances }
func (e *Engine) Positions() *state.PositionLedger { return e.positions }
func (e *Engine) Queue() *state.SettlementQueue    { return e.queue }
func (e *Engine) Points() *state.PointsLedger      { return e.points }
func (e *Engine) Idempotency() *IdempotencyChecker { return e.idempotency }
func (e *Engine) GetSequence() int64               { return e.sequence }
func (e *Engine) GetStateHash() [32]byte           { return e.hasher.GetPrevHash() }

// RestoreChain resumes sequencing after the last persisted record.
func (e *Engine) RestoreChain(nextSequence int64, tip [32]byte) {
	e.sequence = nextSequence
	e.hasher.Restore(tip)
}

// applyBatch commits journals. A failure here means a computed batch did not
// fit the balances, which the planning step rules out.
func (e *Engine) applyBatch(b *ledger.Batch) error {
	if len(b.Journals) == 0 {
		return nil
	}
	if err := e.balances.ApplyBatch(b); err != nil {
		return fmt.Errorf("apply batch failed: %w", err)
	}
	if e.metrics != nil {
		for _, j := range b.Journals {
			e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	return nil
}

// emit hashes and sequences a record, then hands it to the output channels.
// The persist channel uses a blocking send; the publish channel drops when full.
func (e *Engine) emit(rec event.Record, batch *ledger.Batch, touched ...[]byte) {
	payload, err := json.Marshal(rec)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode %s record: %v", rec.RecordType(), err))
	}

	digest := e.computeStateDigest(batch)
	for _, t := range touched {
		digest = append(digest, t...)
	}

	prev := e.hasher.GetPrevHash()
	hash := e.hasher.ComputeHash(e.sequence, payload, digest)

	output := CoreOutput{
		Envelope: &event.RecordEnvelope{
			Sequence:       e.sequence,
			IdempotencyKey: rec.IdempotencyKey(),
			RecordType:     rec.RecordType(),
			MarketID:       rec.MarketID(),
			Timestamp:      rec.OccurredAt(),
			Payload:        payload,
			StateHash:      hash,
			PrevHash:       prev,
		},
		Record: rec,
		Batch:  batch,
	}
	e.sequence++

	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.CoreSequence.Set(float64(e.sequence))
	}
}

// computeStateDigest creates canonical bytes of the accounts a batch touched
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		b := e.balances.GetBalance(key).Bytes32()
		digest = append(digest, b[:]...)
	}
	return digest
}

func (e *Engine) observe(op string, start time.Time) {
	if e.metrics != nil {
		e.metrics.CoreOpsApplied.WithLabelValues(op).Inc()
		e.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// reject counts and logs a failed operation and returns err unchanged.
func (e *Engine) reject(op string, err error) error {
	reason := "other"
	switch {
	case errors.Is(err, ErrIntegrityViolation):
		reason = "integrity"
		e.logger.Error().Err(err).Str("op", op).Msg("integrity violation")
	case errors.Is(err, ErrPolicyViolation):
		reason = "policy"
	case errors.Is(err, ErrInsufficientFunds):
		reason = "insufficient_funds"
	}
	e.logger.Debug().Err(err).Str("op", op).Str("reason", reason).Msg("operation rejected")
	if e.metrics != nil {
		e.metrics.CoreOpsRejected.WithLabelValues(op, reason).Inc()
	}
	return err
}

func (e *Engine) observeMarket(m *state.MarketState) {
	if e.metrics != nil {
		e.metrics.OpenInterest.WithLabelValues(m.ID(), "long").Set(float64(m.LongOI()))
		e.metrics.OpenInterest.WithLabelValues(m.ID(), "short").Set(float64(m.ShortOI()))
		e.metrics.Volume.WithLabelValues(m.ID()).Set(float64(m.Volume()))
	}
}

// collateralAsset resolves a market's collateral to a ledger asset.
func collateralAsset(m *state.MarketState) (ledger.AssetID, error) {
	id, ok := ledger.GetAssetID(m.CollateralAsset())
	if !ok {
		return 0, fmt.Errorf("%w: unknown collateral asset %s", ErrPolicyViolation, m.CollateralAsset())
	}
	return id, nil
}

// Claim pays out everything accrued on an owner's account of the given kind.
func (e *Engine) Claim(owner uuid.UUID, subType ledger.AccountSubType, asset string, now time.Time) (ledger.Coin, error) {
	assetID, ok := ledger.GetAssetID(asset)
	if !ok {
		return ledger.Coin{}, fmt.Errorf("%w: unknown asset %s", ErrPolicyViolation, asset)
	}
	switch subType {
	case ledger.SubTypeMakerRebate, ledger.SubTypeKeeperRewards, ledger.SubTypeClaimable:
	default:
		return ledger.Coin{}, fmt.Errorf("%w: account kind is not claimable", ErrPolicyViolation)
	}

	b := ledger.NewBatch(fmt.Sprintf("claim:%s", owner), now.UnixMilli())
	amount := e.journalGen.GenerateClaim(b, owner, subType, assetID)
	if err := e.applyBatch(b); err != nil {
		return ledger.Coin{}, err
	}
	return ledger.NewCoin(asset, amount), nil
}
