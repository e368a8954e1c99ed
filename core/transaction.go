package core

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/tolelom/loopcore/crypto"
)

// Transaction is the atomic unit of work submitted by clients. Data is
// opaque to the core: it is interpreted only by the Executor collaborator.
// A Transaction is immutable once minted (TxHash assigned by Sign).
type Transaction struct {
	TxHash    string `json:"tx_hash"`
	Timestamp int64  `json:"timestamp"`
	Data      []byte `json:"data"`
	Signature string `json:"signature"`
}

// ErrEmptyTxData is returned when a transaction carries no payload.
var ErrEmptyTxData = errors.New("core: transaction has no data")

// signingBody returns the bytes covered by TxHash/Signature: everything
// except the hash and signature themselves.
func (tx *Transaction) signingBody() []byte {
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(tx.Timestamp))
	buf := make([]byte, 0, 8+len(tx.Data))
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, tx.Data...)
	return buf
}

// ComputeHash returns the content hash of the transaction (sans Signature).
func (tx *Transaction) ComputeHash() string {
	return crypto.Hash(tx.signingBody())
}

// NewTransaction builds an unsigned transaction with the current timestamp.
// The caller must call Sign before broadcasting it.
func NewTransaction(data []byte) (*Transaction, error) {
	if len(data) == 0 {
		return nil, ErrEmptyTxData
	}
	return &Transaction{
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	}, nil
}

// Sign computes TxHash and signs it with priv, setting Signature.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.TxHash = tx.ComputeHash()
	tx.Signature = crypto.Sign(priv, []byte(tx.TxHash))
}

// VerifyHash reports whether TxHash matches the recomputed content hash.
// Signature verification is the Authority collaborator's job (it owns the
// signer's public key material); this only guards content-hash tampering.
func (tx *Transaction) VerifyHash() error {
	if computed := tx.ComputeHash(); tx.TxHash != computed {
		return errors.New("core: tx_hash mismatch")
	}
	return nil
}
