// Package sectionchain implements the BLS section-key DAG: the append-only
// chain of public keys rooted at genesis that every Section Authority
// Provider (SAP) is anchored to, plus the SAP and membership types signed
// under those keys.
//
// Signing uses go.dedis.ch/kyber/v3's BN256 pairing suite, the same scheme
// used for threshold BLS signatures elsewhere in the retrieval pack
// (go.dedis.ch/kyber/v3/sign/bls, go.dedis.ch/kyber/v3/sign/tbls). The DKG
// protocol that produces key shares is out of scope here: this package only
// verifies signatures over keys it is handed.
package sectionchain

import (
	"errors"
	"fmt"
	"sync"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing"
	"go.dedis.ch/kyber/v3/sign/bls"
)

var (
	suiteOnce sync.Once
	suite     *pairing.SuiteBn256
)

// Suite returns the pairing suite used for every BLS operation in this
// package. It is process-wide and stateless, matching how the retrieval
// pack's DKG examples construct a single shared suite.
func Suite() *pairing.SuiteBn256 {
	suiteOnce.Do(func() {
		suite = pairing.NewSuiteBn256()
	})
	return suite
}

// PublicKey is a BLS public key: a section key or a per-elder key share.
type PublicKey = kyber.Point

// ErrInvalidSignature is returned when a signature fails to verify under
// the expected public key.
var ErrInvalidSignature = errors.New("sectionchain: signature does not verify under the given key")

// MarshalKey renders a public key to its wire bytes.
func MarshalKey(pk PublicKey) ([]byte, error) {
	b, err := pk.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("sectionchain: marshal key: %w", err)
	}
	return b, nil
}

// UnmarshalKey parses wire bytes produced by MarshalKey.
func UnmarshalKey(b []byte) (PublicKey, error) {
	pk := Suite().Point()
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("sectionchain: unmarshal key: %w", err)
	}
	return pk, nil
}

// KeyEqual reports whether two public keys are the same point.
func KeyEqual(a, b PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(b)
}

// Scalar is a BLS private key (or key share).
type Scalar = kyber.Scalar

// SignMessage produces a BLS signature over msg under priv.
func SignMessage(priv Scalar, msg []byte) ([]byte, error) {
	sig, err := bls.Sign(Suite(), priv, msg)
	if err != nil {
		return nil, fmt.Errorf("sectionchain: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a BLS signature over msg under pub.
func Verify(pub PublicKey, msg, sig []byte) error {
	if err := bls.Verify(Suite(), pub, msg, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return nil
}

// KeyPair is a BLS private/public pair, as generated for a section's
// genesis key by a node bootstrapping with --first. The DKG subsystem that
// normally produces key shares for an established section is out of scope
// (§1 Non-goals); a first node has no peers to run DKG with, so it
// self-certifies a genesis key the same way the retrieval pack's DKG demos
// pick a single-party keypair before any sharing round.
type KeyPair struct {
	Private Scalar
	Public  PublicKey
}

// GenerateKeyPair draws a fresh BLS keypair from the suite's random stream.
func GenerateKeyPair() KeyPair {
	suite := Suite()
	priv := suite.Scalar().Pick(suite.RandomStream())
	pub := suite.Point().Mul(priv, nil)
	return KeyPair{Private: priv, Public: pub}
}
