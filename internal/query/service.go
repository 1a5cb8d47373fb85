package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// QueryService reads the persisted record log. Live market, position and
// points state is served by the venue; this covers history and audit.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ListRecords returns records in ascending sequence order, optionally
// filtered by market and record type.
func (qs *QueryService) ListRecords(
	ctx context.Context,
	marketID string,
	recordType string,
	page Page,
) ([]RecordResponse, error) {
	query := `
		SELECT sequence, record_type, idempotency_key, COALESCE(market_id, ''),
		       payload, state_hash, prev_hash, timestamp
		FROM record_log.records
		WHERE sequence > $1
	`
	args := []interface{}{page.After}
	argIdx := 2

	if marketID != "" {
		query += fmt.Sprintf(" AND market_id = $%d", argIdx)
		args = append(args, marketID)
		argIdx++
	}
	if recordType != "" {
		query += fmt.Sprintf(" AND record_type = $%d", argIdx)
		args = append(args, recordType)
		argIdx++
	}
	if page.Before > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, page.Before)
		argIdx++
	}

	query += " ORDER BY sequence ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, page.limit(100, 1000))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordResponse
	for rows.Next() {
		var r RecordResponse
		var payload, stateHash, prevHash []byte
		if err := rows.Scan(
			&r.Sequence, &r.RecordType, &r.IdempotencyKey, &r.MarketID,
			&payload, &stateHash, &prevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Record = payload
		r.StateHash = hex.EncodeToString(stateHash)
		r.PrevHash = hex.EncodeToString(prevHash)
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetJournalHistory returns journal entries touching any account of owner,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	page Page,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::TEXT, journal_type, timestamp
		FROM record_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if page.Before > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, page.Before)
		argIdx++
	}
	if page.After > 0 {
		query += fmt.Sprintf(" AND sequence > $%d", argIdx)
		args = append(args, page.After)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, page.limit(100, 500))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity, sequence density and that
// only fund-moving records carry journals.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), -1) FROM record_log.records
	`).Scan(&report.LastSequence); err != nil {
		return nil, fmt.Errorf("last sequence: %w", err)
	}

	var err error
	report.HashChainBreaks, err = qs.sequences(ctx, `
		SELECT r1.sequence
		FROM record_log.records r1
		JOIN record_log.records r2 ON r2.sequence = r1.sequence - 1
		WHERE r1.prev_hash != r2.state_hash
		ORDER BY r1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}

	// A gap is reported as the first missing sequence.
	report.SequenceGaps, err = qs.sequences(ctx, `
		SELECT r1.sequence + 1
		FROM record_log.records r1
		LEFT JOIN record_log.records r2 ON r2.sequence = r1.sequence + 1
		WHERE r2.sequence IS NULL
		  AND r1.sequence < (SELECT MAX(sequence) FROM record_log.records)
		ORDER BY r1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("sequence gaps: %w", err)
	}

	report.OrphanJournals, err = qs.sequences(ctx, `
		SELECT DISTINCT j.sequence
		FROM record_log.journal j
		JOIN record_log.records r ON r.sequence = j.sequence
		WHERE r.record_type IN ('settlement_requested', 'settlement_processed', 'market_settled')
		ORDER BY j.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, fmt.Errorf("orphan journals: %w", err)
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.OrphanJournals) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) sequences(ctx context.Context, query string) ([]int64, error) {
	rows, err := qs.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seqs []int64
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, rows.Err()
}
