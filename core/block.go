package core

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/loopcore/crypto"
)

// BlockType distinguishes ordinary blocks from the peer-list and vote-only
// variants the siever/lft consensus strategies produce.
type BlockType string

const (
	// BlockGeneral is a normal block carrying zero or more transactions.
	BlockGeneral BlockType = "general"
	// BlockPeerList carries a peer-membership snapshot; self-confirms on
	// arrival (see manager.AddUnconfirmedBlock preprocessing).
	BlockPeerList BlockType = "peer_list"
	// BlockVote is a zero-transaction block whose only purpose is to carry
	// a PrevBlockConfirm piggyback signal (siever/lft).
	BlockVote BlockType = "vote"
)

// BlockHeader contains the block metadata that is hashed.
type BlockHeader struct {
	Height          uint64    `json:"height"`
	PrevBlockHash   string    `json:"prev_block_hash"`
	MerkleRoot      string    `json:"merkle_root"`
	Timestamp       int64     `json:"timestamp"`
	BlockType       BlockType `json:"block_type"`
	PrevBlockConfirm *bool    `json:"prev_block_confirm,omitempty"`
}

// Block is an ordered list of confirmed (or proposed) transactions behind a
// hashed header. Two blocks with equal BlockHash are byte-equal.
type Block struct {
	Header                   BlockHeader    `json:"header"`
	ConfirmedTransactionList []*Transaction `json:"confirmed_transaction_list"`
	BlockHash                string         `json:"block_hash"`
	Signature                string         `json:"signature,omitempty"` // leader signature, optional
}

// ComputeHash returns H(header || merkle_root) as specified: the header is
// canonically encoded and the merkle root bytes are appended before
// hashing, so a header whose MerkleRoot field is tampered with still
// changes the resulting hash even if the encoder were to special-case it.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return ""
	}
	data = append(data, []byte(b.Header.MerkleRoot)...)
	return crypto.Hash(data)
}

// Sign sets BlockHash and signs it with the leader's private key.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.BlockHash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.BlockHash))
}

// VerifySignature checks that BlockHash matches the recomputed header hash
// and that Signature is valid under pub.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	if computed := b.ComputeHash(); b.BlockHash != computed {
		return fmt.Errorf("core: block hash mismatch: stored %s computed %s", b.BlockHash, computed)
	}
	return crypto.Verify(pub, []byte(b.BlockHash), b.Signature)
}

// VerifyIntegrity checks hash consistency and merkle-root correctness,
// independent of any signature.
func (b *Block) VerifyIntegrity() error {
	if computed := b.ComputeHash(); b.BlockHash != computed {
		return fmt.Errorf("core: block hash mismatch: stored %s computed %s", b.BlockHash, computed)
	}
	if root := ComputeMerkleRoot(b.ConfirmedTransactionList); b.Header.MerkleRoot != root {
		return errors.New("core: merkle_root mismatch")
	}
	return nil
}

// IsVoteOnly reports whether the block carries no transactions and is not a
// peer-list block — i.e. it exists purely to carry a PrevBlockConfirm
// signal and validation/voting on its content should be skipped (spec.md
// §4.4 "Peer tick", step 2).
func (b *Block) IsVoteOnly() bool {
	return len(b.ConfirmedTransactionList) == 0 && b.Header.BlockType != BlockPeerList
}

// ComputeMerkleRoot builds a deterministic root hash over transaction
// hashes. Each hash is length-prefixed (4-byte big-endian) to prevent
// boundary ambiguity between different tx-hash sets.
func ComputeMerkleRoot(txs []*Transaction) string {
	if len(txs) == 0 {
		return crypto.Hash([]byte("empty"))
	}
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, tx := range txs {
		id := []byte(tx.TxHash)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(id)))
		buf.Write(lenBuf[:])
		buf.Write(id)
	}
	return crypto.Hash(buf.Bytes())
}

// NewBlock creates an unsigned general block. Call Sign (or leave
// Signature empty for the `none` strategy's self-confirm path) before
// broadcasting.
func NewBlock(height uint64, prevBlockHash string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:        height,
			PrevBlockHash: prevBlockHash,
			MerkleRoot:    ComputeMerkleRoot(txs),
			Timestamp:     time.Now().UnixNano(),
			BlockType:     BlockGeneral,
		},
		ConfirmedTransactionList: txs,
	}
}

// NewVoteBlock creates a zero-transaction block piggybacking confirmation
// of the predecessor (siever/lft "vote block").
func NewVoteBlock(height uint64, prevBlockHash string) *Block {
	confirm := true
	return &Block{
		Header: BlockHeader{
			Height:           height,
			PrevBlockHash:    prevBlockHash,
			MerkleRoot:       ComputeMerkleRoot(nil),
			Timestamp:        time.Now().UnixNano(),
			BlockType:        BlockVote,
			PrevBlockConfirm: &confirm,
		},
	}
}
