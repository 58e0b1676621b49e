// Package node implements the facade described in spec §4.5: the single
// rw-locked cell of mutable node state, and the anti-entropy engine built
// on top of it (§4.2).
package node

import (
	"errors"
	"fmt"

	"github.com/forestrie/go-sectiond/networkknowledge"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

// ErrNoMatchingSection is returned when a Redirect condition applies but no
// known SAP's prefix is a closer match for the message's destination.
var ErrNoMatchingSection = errors.New("node: no matching section known for destination")

// EntropyKind discriminates the outcome of the entropy check.
type EntropyKind uint8

const (
	// EntropyNone means the message is addressed correctly; the handler
	// should run normally.
	EntropyNone EntropyKind = iota
	EntropyRetry
	EntropyRedirect
)

// EntropyOutcome is the result of CheckEntropy.
type EntropyOutcome struct {
	Kind       EntropyKind
	SignedSAP  sectionchain.SignedSAP
	ProofChain []sectionchain.Edge
}

// CheckEntropy runs the entropy check algorithm from spec §4.2 against k
// for an inbound message's destination. It is run on every inbound message
// except join requests and AE messages themselves (the caller is
// responsible for that exclusion).
func CheckEntropy(k *networkknowledge.Knowledge, dst wiremsg.Dst) (EntropyOutcome, error) {
	ourPrefix := k.OurPrefix()

	if !ourPrefix.Matches(dst.Name) {
		sap, proof, ok := k.ClosestSignedSAPWithChain(dst.Name)
		if !ok {
			return EntropyOutcome{}, ErrNoMatchingSection
		}
		return EntropyOutcome{Kind: EntropyRedirect, SignedSAP: sap, ProofChain: proof}, nil
	}

	ourKey := k.SectionKey()
	dstKey, err := sectionchain.UnmarshalKey(dst.SectionKey)
	if err == nil && sectionchain.KeyEqual(dstKey, ourKey) {
		return EntropyOutcome{Kind: EntropyNone}, nil
	}

	ourSigned := k.SignedSAP()
	proof, ok := k.GetProofChainTo(ourKey)
	if !ok {
		proof = nil
	}
	return EntropyOutcome{Kind: EntropyRetry, SignedSAP: ourSigned, ProofChain: proof}, nil
}

// RedirectTarget picks the re-send target for a Redirect outcome: the
// elder of the advertised SAP whose name is XOR-closest to
// XorName(sap.section_key) (§4.2 step 3), computed from the advertised
// SAP's own key rather than anything carried by the bounced message, so
// every node holding the same SAP converges on the same target
// regardless of which stale key the original message happened to carry.
func RedirectTarget(sap sectionchain.SAP) (sectionchain.Elder, error) {
	keyBytes, err := sectionchain.MarshalKey(sap.SectionKey)
	if err != nil {
		return sectionchain.Elder{}, fmt.Errorf("node: marshalling redirect SAP key: %w", err)
	}
	target := xorname.FromContent(keyBytes)
	elder, ok := sap.ElderClosestTo(target)
	if !ok {
		return sectionchain.Elder{}, fmt.Errorf("node: redirect SAP %s has no elders", sap.Prefix)
	}
	return elder, nil
}
