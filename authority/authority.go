// Package authority implements the node's signing identity: an
// ed25519 key pair held in memory (decrypted once from an encrypted
// keystore file at startup) plus the Sign/Verify contract manager.BlockManager
// depends on. Adapted from the teacher's wallet/crypto key handling.
package authority

import (
	"github.com/tolelom/loopcore/crypto"
)

// Authority signs and verifies data on the node's behalf. It implements
// manager.Authority.
type Authority struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New wraps an already-loaded private key as an Authority.
func New(priv crypto.PrivateKey) *Authority {
	return &Authority{priv: priv, pub: priv.Public()}
}

// Generate creates a fresh ed25519 identity, useful for tests and
// single-shot tooling that doesn't need a persisted keystore.
func Generate() (*Authority, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return &Authority{priv: priv, pub: pub}, nil
}

// Sign returns a hex-encoded ed25519 signature over data.
func (a *Authority) Sign(data []byte) string {
	return crypto.Sign(a.priv, data)
}

// Verify checks a hex-encoded signature against data under pub.
func (a *Authority) Verify(pub crypto.PublicKey, data []byte, sig string) error {
	return crypto.Verify(pub, data, sig)
}

// PublicKey returns this node's public key.
func (a *Authority) PublicKey() crypto.PublicKey {
	return a.pub
}

// PrivateKey returns the key pair's private half, for persisting a
// freshly generated identity to a keystore file.
func (a *Authority) PrivateKey() crypto.PrivateKey {
	return a.priv
}
