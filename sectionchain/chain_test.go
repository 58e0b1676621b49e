package sectionchain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type keyPair struct {
	priv Scalar
	pub  PublicKey
}

func newKeyPair(t *testing.T) keyPair {
	t.Helper()
	priv := Suite().Scalar().Pick(Suite().RandomStream())
	pub := Suite().Point().Mul(priv, nil)
	return keyPair{priv: priv, pub: pub}
}

func TestChainInsertAndProofChain(t *testing.T) {
	genesis := newKeyPair(t)
	child1 := newKeyPair(t)
	child2 := newKeyPair(t)

	chain := NewChain(genesis.pub)

	childMsg, err := MarshalKey(child1.pub)
	require.NoError(t, err)
	sig, err := SignMessage(genesis.priv, childMsg)
	require.NoError(t, err)
	require.NoError(t, chain.Insert(genesis.pub, child1.pub, sig))

	grandchildMsg, err := MarshalKey(child2.pub)
	require.NoError(t, err)
	sig2, err := SignMessage(child1.priv, grandchildMsg)
	require.NoError(t, err)
	require.NoError(t, chain.Insert(child1.pub, child2.pub, sig2))

	proof, err := chain.ProofChainTo(child2.pub)
	require.NoError(t, err)
	require.Len(t, proof, 2)
	require.NoError(t, VerifyProofChain(genesis.pub, proof))
}

func TestChainInsertRejectsBadSignature(t *testing.T) {
	genesis := newKeyPair(t)
	child := newKeyPair(t)
	other := newKeyPair(t)

	chain := NewChain(genesis.pub)
	childMsg, err := MarshalKey(child.pub)
	require.NoError(t, err)
	badSig, err := SignMessage(other.priv, childMsg) // signed by the wrong key
	require.NoError(t, err)

	err = chain.Insert(genesis.pub, child.pub, badSig)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestChainInsertIsIdempotent(t *testing.T) {
	genesis := newKeyPair(t)
	child := newKeyPair(t)

	chain := NewChain(genesis.pub)
	childMsg, err := MarshalKey(child.pub)
	require.NoError(t, err)
	sig, err := SignMessage(genesis.priv, childMsg)
	require.NoError(t, err)

	require.NoError(t, chain.Insert(genesis.pub, child.pub, sig))
	require.NoError(t, chain.Insert(genesis.pub, child.pub, sig)) // re-apply, same edge
}

func TestChainInsertRejectsConflictingParent(t *testing.T) {
	genesis := newKeyPair(t)
	child := newKeyPair(t)
	otherParent := newKeyPair(t)

	chain := NewChain(genesis.pub)
	childMsg, err := MarshalKey(child.pub)
	require.NoError(t, err)
	sig, err := SignMessage(genesis.priv, childMsg)
	require.NoError(t, err)
	require.NoError(t, chain.Insert(genesis.pub, child.pub, sig))

	// Insert genesis/otherParent link so otherParent is known.
	otherMsg, err := MarshalKey(otherParent.pub)
	require.NoError(t, err)
	otherSig, err := SignMessage(genesis.priv, otherMsg)
	require.NoError(t, err)
	require.NoError(t, chain.Insert(genesis.pub, otherParent.pub, otherSig))

	sig2, err := SignMessage(otherParent.priv, childMsg)
	require.NoError(t, err)
	err = chain.Insert(otherParent.pub, child.pub, sig2)
	require.ErrorIs(t, err, ErrConflictingParent)
}

// TestChainMergeIsOrderIndependent exercises the universal invariant from
// §8: for all sequences of validated updates applied in any order, the
// final chain is identical.
func TestChainMergeIsOrderIndependent(t *testing.T) {
	genesis := newKeyPair(t)
	a := newKeyPair(t)
	b := newKeyPair(t)

	aMsg, err := MarshalKey(a.pub)
	require.NoError(t, err)
	aSig, err := SignMessage(genesis.priv, aMsg)
	require.NoError(t, err)

	bMsg, err := MarshalKey(b.pub)
	require.NoError(t, err)
	bSig, err := SignMessage(genesis.priv, bMsg)
	require.NoError(t, err)

	forward := NewChain(genesis.pub)
	require.NoError(t, forward.Insert(genesis.pub, a.pub, aSig))
	require.NoError(t, forward.Insert(genesis.pub, b.pub, bSig))

	reverse := NewChain(genesis.pub)
	require.NoError(t, reverse.Insert(genesis.pub, b.pub, bSig))
	require.NoError(t, reverse.Insert(genesis.pub, a.pub, aSig))

	require.Equal(t, len(forward.edges), len(reverse.edges))
	for id, edge := range forward.edges {
		other, ok := reverse.edges[id]
		require.True(t, ok)
		require.Equal(t, edge.Signature, other.Signature)
	}
}
