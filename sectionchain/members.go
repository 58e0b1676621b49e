package sectionchain

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/forestrie/go-sectiond/xorname"
)

// MemberState is the lifecycle state of a NodeState entry.
type MemberState uint8

const (
	Joined MemberState = iota
	Left
	Relocated
)

func (s MemberState) String() string {
	switch s {
	case Joined:
		return "Joined"
	case Left:
		return "Left"
	case Relocated:
		return "Relocated"
	default:
		return "Unknown"
	}
}

// NodeState is a member's signed identity record.
type NodeState struct {
	Name         xorname.XorName
	Address      string
	Age          uint8
	State        MemberState
	RelocatedTo  *xorname.XorName
	PreviousName *xorname.XorName
}

func (n NodeState) encode() []byte {
	var buf bytes.Buffer
	buf.Write(n.Name[:])
	buf.WriteString(n.Address)
	buf.WriteByte(0)
	buf.WriteByte(n.Age)
	buf.WriteByte(byte(n.State))
	if n.RelocatedTo != nil {
		buf.WriteByte(1)
		buf.Write(n.RelocatedTo[:])
	} else {
		buf.WriteByte(0)
	}
	if n.PreviousName != nil {
		buf.WriteByte(1)
		buf.Write(n.PreviousName[:])
	} else {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// ErrMemberSetMismatch is returned when a signed member set's elder subset
// does not equal the SAP's own elder set (§4.1 rule 4).
var ErrMemberSetMismatch = errors.New("sectionchain: signed member elder subset does not match the SAP elder set")

// SignedMembers is a member set signed under one SAP's section key.
type SignedMembers struct {
	Members   []NodeState
	Signature []byte
}

func encodeMembers(members []NodeState) []byte {
	sorted := make([]NodeState, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return xorname.Less(sorted[i].Name, sorted[j].Name) })

	var buf bytes.Buffer
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(sorted)))
	buf.Write(lenBuf[:])
	for _, m := range sorted {
		buf.Write(m.encode())
	}
	return buf.Bytes()
}

// SignMembers signs members under the section key priv corresponds to.
func SignMembers(members []NodeState, priv Scalar) (SignedMembers, error) {
	sig, err := SignMessage(priv, encodeMembers(members))
	if err != nil {
		return SignedMembers{}, err
	}
	return SignedMembers{Members: members, Signature: sig}, nil
}

// VerifyUnder checks sm's signature against sectionKey, and then that its
// elder subset equals sap's elder set exactly. NodeState carries no elder
// flag, so the elder subset is the Joined members that sap names as elders;
// the check therefore fails when an elder of sap is missing from sm or is
// not Joined there.
func (sm SignedMembers) VerifyUnder(sectionKey PublicKey, sap SAP) error {
	if err := Verify(sectionKey, encodeMembers(sm.Members), sm.Signature); err != nil {
		return fmt.Errorf("signed members: %w", err)
	}

	elders := map[xorname.XorName]bool{}
	for _, m := range sm.Members {
		if m.State == Joined && sap.HasElder(m.Name) {
			elders[m.Name] = true
		}
	}
	if len(elders) != len(sap.Elders) {
		return ErrMemberSetMismatch
	}
	for _, e := range sap.Elders {
		if !elders[e.Name] {
			return ErrMemberSetMismatch
		}
	}
	return nil
}
