package query

import (
	"encoding/json"
	"time"
)

// RecordResponse is one record-log row for API queries.
type RecordResponse struct {
	Sequence       int64           `json:"sequence"`
	RecordType     string          `json:"record_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	MarketID       string          `json:"market_id,omitempty"`
	Record         json.RawMessage `json:"record"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LastSequence    int64   `json:"last_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
	SequenceGaps    []int64 `json:"sequence_gaps,omitempty"`
	// OrphanJournals lists sequences whose journals reference a record type
	// that never moves funds.
	OrphanJournals []int64 `json:"orphan_journals,omitempty"`
}

// Page bounds a listing query.
type Page struct {
	Limit int
	// After and Before are exclusive sequence bounds; zero means unbounded.
	After  int64
	Before int64
}

func (p Page) limit(def, max int) int {
	if p.Limit <= 0 {
		return def
	}
	if p.Limit > max {
		return max
	}
	return p.Limit
}
