package node

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-sectiond/networkknowledge"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

type kp struct {
	priv sectionchain.Scalar
	pub  sectionchain.PublicKey
}

func newKP(t *testing.T) kp {
	t.Helper()
	priv := sectionchain.Suite().Scalar().Pick(sectionchain.Suite().RandomStream())
	pub := sectionchain.Suite().Point().Mul(priv, nil)
	return kp{priv: priv, pub: pub}
}

func signSAP(t *testing.T, sap sectionchain.SAP, signer kp) sectionchain.SignedSAP {
	t.Helper()
	signed, err := sectionchain.Sign(sap, signer.priv)
	require.NoError(t, err)
	return signed
}

func edgeFrom(t *testing.T, parent kp, childPub sectionchain.PublicKey) sectionchain.Edge {
	t.Helper()
	msg, err := sectionchain.MarshalKey(childPub)
	require.NoError(t, err)
	sig, err := sectionchain.SignMessage(parent.priv, msg)
	require.NoError(t, err)
	return sectionchain.Edge{Parent: parent.pub, Child: childPub, Signature: sig}
}

// selfName falls in prefix "0" (its top bit is zero).
var selfName = xorname.XorName{0x00}

func newKnowledgeAtKey2(t *testing.T) (*networkknowledge.Knowledge, kp, kp) {
	t.Helper()
	k1 := newKP(t)
	genesis := signSAP(t, sectionchain.SAP{Prefix: xorname.RootPrefix(), SectionKey: k1.pub, Generation: 0}, k1)
	kn := networkknowledge.New(genesis)

	k2 := newKP(t)
	rotated := signSAP(t, sectionchain.SAP{Prefix: xorname.RootPrefix(), SectionKey: k2.pub, Generation: 1}, k1)
	changed, err := kn.UpdateIfValid(networkknowledge.SectionTreeUpdate{
		SignedSAP:  rotated,
		ProofChain: []sectionchain.Edge{edgeFrom(t, k1, k2.pub)},
	}, selfName)
	require.NoError(t, err)
	require.True(t, changed)

	return kn, k1, k2
}

// Scenario 1 (§8): everything up to date — entropy check returns None.
func TestCheckEntropy_UpToDate_ReturnsNone(t *testing.T) {
	kn, _, k2 := newKnowledgeAtKey2(t)

	dst, err := wiremsg.DstFromSectionKey(selfName, k2.pub)
	require.NoError(t, err)

	outcome, err := CheckEntropy(kn, dst)
	require.NoError(t, err)
	require.Equal(t, EntropyNone, outcome.Kind)
}

// Scenario 2 (§8): outdated dst key within our section — emits Retry
// carrying the current signed SAP and a chain ending at the current key.
func TestCheckEntropy_StaleKeyInOurPrefix_ReturnsRetry(t *testing.T) {
	kn, k1, k2 := newKnowledgeAtKey2(t)

	dst, err := wiremsg.DstFromSectionKey(selfName, k1.pub)
	require.NoError(t, err)

	outcome, err := CheckEntropy(kn, dst)
	require.NoError(t, err)
	require.Equal(t, EntropyRetry, outcome.Kind)
	require.True(t, sectionchain.KeyEqual(outcome.SignedSAP.SAP.SectionKey, k2.pub))
	require.NotEmpty(t, outcome.ProofChain)
	require.True(t, sectionchain.KeyEqual(outcome.ProofChain[len(outcome.ProofChain)-1].Child, k2.pub))
}

// Scenario 3 (§8): redirect to a known sibling, targeting the elder whose
// name is XOR-closest to XorName(sibling_section_key).
func TestCheckEntropy_KnownSibling_ReturnsRedirectWithClosestElder(t *testing.T) {
	k1 := newKP(t)
	genesis := signSAP(t, sectionchain.SAP{Prefix: xorname.RootPrefix(), SectionKey: k1.pub, Generation: 0}, k1)
	kn := networkknowledge.New(genesis)

	zero, err := xorname.RootPrefix().PushBit(0)
	require.NoError(t, err)
	one, err := xorname.RootPrefix().PushBit(1)
	require.NoError(t, err)

	siblingKey := newKP(t)
	elderA := sectionchain.Elder{Name: xorname.XorName{0xFF}, Address: "a:1"}
	elderB := sectionchain.Elder{Name: xorname.XorName{0x01}, Address: "b:1"}
	siblingSAP := sectionchain.SAP{
		Prefix:     one,
		SectionKey: siblingKey.pub,
		Elders:     []sectionchain.Elder{elderA, elderB},
		Generation: 0,
	}
	signedSibling := signSAP(t, siblingSAP, k1)
	changed, err := kn.UpdateIfValid(networkknowledge.SectionTreeUpdate{
		SignedSAP:  signedSibling,
		ProofChain: []sectionchain.Edge{edgeFrom(t, k1, siblingKey.pub)},
	}, selfName)
	require.NoError(t, err)
	require.True(t, changed)

	// Promote ourselves into prefix "0" so dst.Name routes to the sibling.
	ourKey := newKP(t)
	ourSAP := sectionchain.SAP{Prefix: zero, SectionKey: ourKey.pub, Generation: 1}
	signedOur := signSAP(t, ourSAP, k1)
	changed, err = kn.UpdateIfValid(networkknowledge.SectionTreeUpdate{
		SignedSAP:  signedOur,
		ProofChain: []sectionchain.Edge{edgeFrom(t, k1, ourKey.pub)},
	}, selfName)
	require.NoError(t, err)
	require.True(t, changed)

	oneName := xorname.XorName{0xFF} // falls under prefix "1"
	dst, err := wiremsg.DstFromSectionKey(oneName, ourKey.pub)
	require.NoError(t, err)

	outcome, err := CheckEntropy(kn, dst)
	require.NoError(t, err)
	require.Equal(t, EntropyRedirect, outcome.Kind)
	require.True(t, sectionchain.KeyEqual(outcome.SignedSAP.SAP.SectionKey, siblingKey.pub))

	target, err := RedirectTarget(outcome.SignedSAP.SAP)
	require.NoError(t, err)

	// The chosen elder must be the one whose name is XOR-closest to
	// XorName(sibling_section_key), computed independently here so the
	// test does not hardcode which of elderA/elderB that happens to be,
	// and so it would catch a regression back to using dst's own key.
	siblingKeyBytes, err := sectionchain.MarshalKey(siblingKey.pub)
	require.NoError(t, err)
	want := xorname.FromContent(siblingKeyBytes)
	if xorname.CloserTo(want, elderB.Name, elderA.Name) {
		require.Equal(t, elderB.Name, target.Name)
	} else {
		require.Equal(t, elderA.Name, target.Name)
	}
}

// Scenario 4 (§8): sibling not yet known — NoMatchingSection, message
// dropped.
func TestCheckEntropy_UnknownSibling_ReturnsNoMatchingSection(t *testing.T) {
	k1 := newKP(t)
	genesis := signSAP(t, sectionchain.SAP{Prefix: xorname.RootPrefix(), SectionKey: k1.pub, Generation: 0}, k1)
	kn := networkknowledge.New(genesis)

	zero, err := xorname.RootPrefix().PushBit(0)
	require.NoError(t, err)
	ourKey := newKP(t)
	ourSAP := sectionchain.SAP{Prefix: zero, SectionKey: ourKey.pub, Generation: 1}
	signedOur := signSAP(t, ourSAP, k1)
	changed, err := kn.UpdateIfValid(networkknowledge.SectionTreeUpdate{
		SignedSAP:  signedOur,
		ProofChain: []sectionchain.Edge{edgeFrom(t, k1, ourKey.pub)},
	}, selfName)
	require.NoError(t, err)
	require.True(t, changed)

	oneName := xorname.XorName{0xFF}
	dst, err := wiremsg.DstFromSectionKey(oneName, ourKey.pub)
	require.NoError(t, err)

	_, err = CheckEntropy(kn, dst)
	require.ErrorIs(t, err, ErrNoMatchingSection)
}
