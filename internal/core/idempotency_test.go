package core_test

import (
	"errors"
	"testing"

	"UnxvFutures/internal/core"

	"github.com/stretchr/testify/assert"
)

type stubDB struct {
	seen map[string]bool
	err  error
}

func (s *stubDB) IsDuplicate(op, key string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.seen[op+":"+key], nil
}

func TestIdempotencyChecker_TwoTiers(t *testing.T) {
	db := &stubDB{seen: map[string]bool{"fill:persisted": true}}
	ic := core.NewIdempotencyChecker(8, db, nil)

	assert.False(t, ic.IsDuplicate("fill", "fresh"))
	ic.MarkProcessed("fill", "fresh")
	assert.True(t, ic.IsDuplicate("fill", "fresh"))

	// Same key under another op is distinct.
	assert.False(t, ic.IsDuplicate("liquidation", "fresh"))

	assert.True(t, ic.IsDuplicate("fill", "persisted"))
}

func TestIdempotencyChecker_DBOutageFailsOpen(t *testing.T) {
	ic := core.NewIdempotencyChecker(8, &stubDB{err: errors.New("connection refused")}, nil)

	assert.False(t, ic.IsDuplicate("fill", "k"))
	assert.Equal(t, int64(1), ic.Tier2Errors())
}

func TestIdempotencyLRU_EvictsOldest(t *testing.T) {
	lru := core.NewIdempotencyLRU(2)
	lru.Add("a")
	lru.Add("b")
	lru.Add("c")

	assert.False(t, lru.Contains("a"))
	assert.True(t, lru.Contains("b"))
	assert.True(t, lru.Contains("c"))
	assert.Equal(t, 2, lru.Size())
	assert.Equal(t, int64(1), lru.Evictions())
}

func TestStateHasher_RestoreContinuesChain(t *testing.T) {
	a := core.NewStateHasher()
	h0 := a.ComputeHash(0, []byte("r0"), nil)
	h1 := a.ComputeHash(1, []byte("r1"), []byte("s1"))

	b := core.NewStateHasher()
	b.Restore(h0)
	assert.Equal(t, h1, b.ComputeHash(1, []byte("r1"), []byte("s1")))
	assert.NotEqual(t, h0, h1)
}
