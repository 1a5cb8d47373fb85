package persistence

import (
	"UnxvFutures/internal/venue"
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// SnapshotManager stores venue snapshots and reads the record log for
// restart. A snapshot becomes usable once the record log has caught up with
// it and the chain hashes agree.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot keyed by the engine's next sequence.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *venue.Snapshot) error {
	if snap.Engine == nil {
		return fmt.Errorf("snapshot has no engine state")
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	stateHash, err := hex.DecodeString(snap.Engine.StateHash)
	if err != nil {
		return fmt.Errorf("decode state hash: %w", err)
	}

	formatVersion := int32(1) // v1: JSON-encoded venue.Snapshot
	// Nothing precedes sequence 0, so an empty venue is trivially consistent.
	verified := snap.Engine.Sequence == 0

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO record_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Engine.Sequence, data, stateHash, formatVersion, len(data), verified, snap.TakenAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. It returns nil
// without error when there is none.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*venue.Snapshot, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM record_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap venue.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE record_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// VerifyPending checks unverified snapshots against the record log. A
// snapshot taken at next-sequence N is verified when record N-1 exists and
// its state hash equals the snapshot's. Snapshots whose record has not been
// flushed yet are left for a later pass.
func (sm *SnapshotManager) VerifyPending(ctx context.Context) (int, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT s.sequence, s.state_hash, r.state_hash
		FROM record_log.snapshots s
		JOIN record_log.records r ON r.sequence = s.sequence - 1
		WHERE s.verified = FALSE
		ORDER BY s.sequence ASC
	`)
	if err != nil {
		return 0, err
	}

	type candidate struct {
		sequence   int64
		snapHash   []byte
		recordHash []byte
	}
	var pending []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.sequence, &c.snapHash, &c.recordHash); err != nil {
			rows.Close()
			return 0, err
		}
		pending = append(pending, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	verified := 0
	for _, c := range pending {
		if !bytes.Equal(c.snapHash, c.recordHash) {
			log.Printf("ERROR: snapshot at sequence %d disagrees with record log (snapshot=%x record=%x)",
				c.sequence, c.snapHash, c.recordHash)
			continue
		}
		if err := sm.MarkVerified(ctx, c.sequence); err != nil {
			return verified, err
		}
		verified++
	}
	return verified, nil
}

// ChainTip returns the next sequence and the state hash of the last
// persisted record. ok is false when the record log is empty.
func (sm *SnapshotManager) ChainTip(ctx context.Context) (next int64, tip [32]byte, ok bool, err error) {
	var seq int64
	var hash []byte
	err = sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM record_log.records
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tip, false, nil
	}
	if err != nil {
		return 0, tip, false, err
	}
	if len(hash) != len(tip) {
		return 0, tip, false, fmt.Errorf("record %d has a %d-byte state hash", seq, len(hash))
	}
	copy(tip[:], hash)
	return seq + 1, tip, true, nil
}

// LoadRecordsFrom loads records from a given sequence, oldest first.
func (sm *SnapshotManager) LoadRecordsFrom(ctx context.Context, fromSequence int64, limit int) ([]RecordRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, record_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp
		FROM record_log.records
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordRow
	for rows.Next() {
		var r RecordRow
		if err := rows.Scan(
			&r.Sequence, &r.RecordType, &r.IdempotencyKey, &r.MarketID,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// GetLatestSequence returns the highest sequence in the record log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM record_log.records
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
