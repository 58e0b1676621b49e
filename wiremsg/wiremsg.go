// Package wiremsg implements the wire envelope described in spec §6: a
// msg_id, a kind tag, an opaque payload, a destination descriptor the
// receiver uses for its entropy check, and a scheduling priority.
//
// Payloads are CBOR (github.com/fxamacker/cbor/v2), encoded with
// canonical (deterministic) options so that two nodes holding identical
// Go values always produce identical bytes.
package wiremsg

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// MsgKind discriminates the closed set of wire message kinds (§6).
type MsgKind uint8

const (
	KindNode MsgKind = iota
	KindNodeDataResponse
	KindClient
	KindClientDataResponse
)

func (k MsgKind) String() string {
	switch k {
	case KindNode:
		return "Node"
	case KindNodeDataResponse:
		return "NodeDataResponse"
	case KindClient:
		return "Client"
	case KindClientDataResponse:
		return "ClientDataResponse"
	default:
		return "Unknown"
	}
}

// Dst is the destination descriptor attached to every outbound message: the
// sender's belief about which section and which epoch it is addressing.
type Dst struct {
	Name       xorname.XorName `cbor:"1,keyasint"`
	SectionKey []byte          `cbor:"2,keyasint"`
}

// WireMsg is the envelope described in the wire protocol sketch in spec §6.
type WireMsg struct {
	MsgID    uuid.UUID `cbor:"1,keyasint"`
	Kind     MsgKind   `cbor:"2,keyasint"`
	Payload  []byte    `cbor:"3,keyasint"`
	Dst      Dst       `cbor:"4,keyasint"`
	Priority int32     `cbor:"5,keyasint"`
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wiremsg: building canonical cbor encoder: %v", err))
	}
	return mode
}()

// ErrMalformed wraps any CBOR decode failure on inbound bytes: per §7 these
// are dropped, not treated as a protocol violation worth terminating on.
var ErrMalformed = errors.New("wiremsg: malformed wire bytes")

// Serialize encodes m deterministically.
func Serialize(m WireMsg) ([]byte, error) {
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wiremsg: encoding: %w", err)
	}
	return b, nil
}

// Deserialize decodes bytes produced by Serialize.
func Deserialize(b []byte) (WireMsg, error) {
	var m WireMsg
	if err := cbor.Unmarshal(b, &m); err != nil {
		return WireMsg{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return m, nil
}

// SerializeWithNewDst re-encodes m with dst replacing its destination,
// otherwise byte-identical. Used when re-addressing a bounced message to a
// Retry/Redirect target without disturbing its signed payload.
func SerializeWithNewDst(m WireMsg, dst Dst) ([]byte, error) {
	m.Dst = dst
	return Serialize(m)
}

// DstFromSectionKey packages a XorName and a BLS public key into a Dst.
func DstFromSectionKey(name xorname.XorName, key sectionchain.PublicKey) (Dst, error) {
	b, err := sectionchain.MarshalKey(key)
	if err != nil {
		return Dst{}, fmt.Errorf("wiremsg: marshalling section key: %w", err)
	}
	return Dst{Name: name, SectionKey: b}, nil
}
