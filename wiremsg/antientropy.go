package wiremsg

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/forestrie/go-sectiond/sectionchain"
)

// AEKind discriminates the three AntiEntropy payload variants (§4.2).
type AEKind uint8

const (
	AEUpdate AEKind = iota
	AERetry
	AERedirect
)

// SectionTreeUpdateWire is the CBOR-shaped mirror of
// networkknowledge.SectionTreeUpdate: a signed SAP, its proof chain, and an
// optional signed member set, all reduced to the byte forms sectionchain
// exposes for marshalling.
type SectionTreeUpdateWire struct {
	SignedSAP  SignedSAPWire   `cbor:"1,keyasint"`
	ProofChain []EdgeWire      `cbor:"2,keyasint"`
	Members    *SignedMembersWire `cbor:"3,keyasint,omitempty"`
}

type SignedSAPWire struct {
	SAP       SAPWire `cbor:"1,keyasint"`
	Signature []byte  `cbor:"2,keyasint"`
}

type SAPWire struct {
	Prefix       []byte      `cbor:"1,keyasint"` // xorname.Prefix.Bits() raw bit pattern; UnmarshalSAP rebuilds the Prefix with PrefixLen
	PrefixLen    uint        `cbor:"2,keyasint"`
	SectionKey   []byte      `cbor:"3,keyasint"`
	Elders       []ElderWire `cbor:"4,keyasint"`
	Generation   uint64      `cbor:"5,keyasint"`
	MembersCount int         `cbor:"6,keyasint"`
}

type ElderWire struct {
	Name    [32]byte `cbor:"1,keyasint"`
	Address string   `cbor:"2,keyasint"`
}

type EdgeWire struct {
	Parent    []byte `cbor:"1,keyasint"`
	Child     []byte `cbor:"2,keyasint"`
	Signature []byte `cbor:"3,keyasint"`
}

type SignedMembersWire struct {
	Members   []NodeStateWire `cbor:"1,keyasint"`
	Signature []byte          `cbor:"2,keyasint"`
}

type NodeStateWire struct {
	Name         [32]byte  `cbor:"1,keyasint"`
	Address      string    `cbor:"2,keyasint"`
	Age          uint8     `cbor:"3,keyasint"`
	State        uint8     `cbor:"4,keyasint"`
	RelocatedTo  *[32]byte `cbor:"5,keyasint,omitempty"`
	PreviousName *[32]byte `cbor:"6,keyasint,omitempty"`
}

// AntiEntropyPayload is the payload carried by Node-kind wire messages that
// perform AE: Update carries a fresh member set broadcast, Retry and
// Redirect additionally echo the exact original bytes of the bounced
// message so the original sender can re-emit without re-signing (§6).
type AntiEntropyPayload struct {
	Kind              AEKind                `cbor:"1,keyasint"`
	SectionTreeUpdate SectionTreeUpdateWire `cbor:"2,keyasint"`
	BouncedMsg        []byte                `cbor:"3,keyasint,omitempty"`
}

// EncodeAntiEntropy serializes an AntiEntropyPayload for embedding as a
// WireMsg's Payload.
func EncodeAntiEntropy(p AntiEntropyPayload) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("wiremsg: encoding anti-entropy payload: %w", err)
	}
	return b, nil
}

// DecodeAntiEntropy parses bytes produced by EncodeAntiEntropy.
func DecodeAntiEntropy(b []byte) (AntiEntropyPayload, error) {
	var p AntiEntropyPayload
	if err := cbor.Unmarshal(b, &p); err != nil {
		return AntiEntropyPayload{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return p, nil
}

// MarshalEdge converts a sectionchain.Edge to its wire form.
func MarshalEdge(e sectionchain.Edge) (EdgeWire, error) {
	parent, err := sectionchain.MarshalKey(e.Parent)
	if err != nil {
		return EdgeWire{}, err
	}
	child, err := sectionchain.MarshalKey(e.Child)
	if err != nil {
		return EdgeWire{}, err
	}
	return EdgeWire{Parent: parent, Child: child, Signature: e.Signature}, nil
}

// UnmarshalEdge reconstructs a sectionchain.Edge from its wire form.
func UnmarshalEdge(w EdgeWire) (sectionchain.Edge, error) {
	parent, err := sectionchain.UnmarshalKey(w.Parent)
	if err != nil {
		return sectionchain.Edge{}, err
	}
	child, err := sectionchain.UnmarshalKey(w.Child)
	if err != nil {
		return sectionchain.Edge{}, err
	}
	return sectionchain.Edge{Parent: parent, Child: child, Signature: w.Signature}, nil
}
