package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "unxv:futures:genesis:v1"

// StateHasher chains record hashes:
// hash[N] = SHA-256(hash[N-1] || sequence || record digest || state digest)
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	return &StateHasher{
		prevHash: sha256.Sum256([]byte(GenesisHashSeed)),
	}
}

// Restore resumes the chain from a persisted tip.
func (h *StateHasher) Restore(tip [32]byte) {
	h.prevHash = tip
}

// ComputeHash advances the chain and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, recordDigest, stateDigest []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	rd := sha256.Sum256(recordDigest)
	hasher.Write(rd[:])
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
