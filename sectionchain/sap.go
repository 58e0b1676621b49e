package sectionchain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/forestrie/go-sectiond/xorname"
)

// Elder names one member of a SAP's elder set.
type Elder struct {
	Name    xorname.XorName
	Address string
}

// SAP is a Section Authority Provider: the tuple identifying one epoch of a
// section.
type SAP struct {
	Prefix       xorname.Prefix
	SectionKey   PublicKey
	Elders       []Elder
	Generation   uint64
	MembersCount int
}

// HasElder reports whether name is one of the SAP's elders.
func (s SAP) HasElder(name xorname.XorName) bool {
	for _, e := range s.Elders {
		if e.Name.Equal(name) {
			return true
		}
	}
	return false
}

// ElderClosestTo returns the elder of s whose name is XOR-closest to
// target, tiebroken lexicographically. Used by Redirect routing (§4.2) to
// pick a deterministic re-send target.
func (s SAP) ElderClosestTo(target xorname.XorName) (Elder, bool) {
	if len(s.Elders) == 0 {
		return Elder{}, false
	}
	best := s.Elders[0]
	for _, e := range s.Elders[1:] {
		if xorname.CloserTo(target, e.Name, best.Name) {
			best = e
			continue
		}
		if !xorname.CloserTo(target, best.Name, e.Name) && xorname.Less(e.Name, best.Name) {
			best = e
		}
	}
	return best, true
}

// encodeForSigning produces a deterministic byte encoding of a SAP, used as
// the message a SignedSAP's signature covers. It deliberately avoids a
// general-purpose codec so the signed bytes are independent of struct field
// order or future additive changes to the CBOR wire encoding (see wiremsg).
func (s SAP) encodeForSigning() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(byte(s.Prefix.Len()))
	buf.WriteString(s.Prefix.String())

	keyBytes, err := MarshalKey(s.SectionKey)
	if err != nil {
		return nil, err
	}
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(keyBytes)))
	buf.Write(lenBuf[:])
	buf.Write(keyBytes)

	binary.BigEndian.PutUint64(lenBuf[:], s.Generation)
	buf.Write(lenBuf[:])
	binary.BigEndian.PutUint64(lenBuf[:], uint64(s.MembersCount))
	buf.Write(lenBuf[:])

	elders := make([]Elder, len(s.Elders))
	copy(elders, s.Elders)
	sort.Slice(elders, func(i, j int) bool { return xorname.Less(elders[i].Name, elders[j].Name) })
	for _, e := range elders {
		buf.Write(e.Name[:])
		buf.WriteString(e.Address)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// SignedSAP is a SAP plus a BLS signature from the previous section key:
// the only admissible proof that the SAP is legitimate.
type SignedSAP struct {
	SAP       SAP
	Signature []byte
}

// Sign produces a SignedSAP by signing sap under prevKey's private scalar.
func Sign(sap SAP, prevPriv Scalar) (SignedSAP, error) {
	msg, err := sap.encodeForSigning()
	if err != nil {
		return SignedSAP{}, err
	}
	sig, err := SignMessage(prevPriv, msg)
	if err != nil {
		return SignedSAP{}, err
	}
	return SignedSAP{SAP: sap, Signature: sig}, nil
}

// VerifyUnder checks that s was legitimately signed by prevKey.
func (s SignedSAP) VerifyUnder(prevKey PublicKey) error {
	msg, err := s.SAP.encodeForSigning()
	if err != nil {
		return err
	}
	if err := Verify(prevKey, msg, s.Signature); err != nil {
		return fmt.Errorf("signed SAP for prefix %q: %w", s.SAP.Prefix, err)
	}
	return nil
}
