package config

import (
	"github.com/tolelom/loopcore/core"
)

// GenesisPrevHash is the canonical previous-hash value for height 0: no
// real predecessor exists, so the empty string is used rather than a
// magic all-zeros hash (there is nothing to disambiguate it from).
const GenesisPrevHash = ""

// CreateGenesisBlock builds and signs the channel's height-0 block: an
// empty, zero-transaction block whose signature establishes the leader
// that minted it as the channel's bootstrap authority.
func CreateGenesisBlock(sign func(data []byte) string) *core.Block {
	block := core.NewBlock(0, GenesisPrevHash, nil)
	block.BlockHash = block.ComputeHash()
	block.Signature = sign([]byte(block.BlockHash))
	return block
}

// IsGenesisHash reports whether hash is the canonical genesis prev-hash.
func IsGenesisHash(hash string) bool {
	return hash == GenesisPrevHash
}
