package wiremsg

import (
	"fmt"

	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// MarshalSAP converts a signed SAP plus its proof chain and optional member
// set into their wire forms, ready for embedding in an AntiEntropyPayload.
func MarshalSAP(signed sectionchain.SignedSAP, proof []sectionchain.Edge, members *sectionchain.SignedMembers) (SectionTreeUpdateWire, error) {
	sap := signed.SAP
	keyBytes, err := sectionchain.MarshalKey(sap.SectionKey)
	if err != nil {
		return SectionTreeUpdateWire{}, fmt.Errorf("wiremsg: marshalling SAP key: %w", err)
	}

	elders := make([]ElderWire, len(sap.Elders))
	for i, e := range sap.Elders {
		elders[i] = ElderWire{Name: e.Name, Address: e.Address}
	}

	bits := sap.Prefix.Bits()
	out := SectionTreeUpdateWire{
		SignedSAP: SignedSAPWire{
			SAP: SAPWire{
				Prefix:       bits[:],
				PrefixLen:    sap.Prefix.Len(),
				SectionKey:   keyBytes,
				Elders:       elders,
				Generation:   sap.Generation,
				MembersCount: sap.MembersCount,
			},
			Signature: signed.Signature,
		},
	}

	for _, edge := range proof {
		w, err := MarshalEdge(edge)
		if err != nil {
			return SectionTreeUpdateWire{}, fmt.Errorf("wiremsg: marshalling proof chain: %w", err)
		}
		out.ProofChain = append(out.ProofChain, w)
	}

	if members != nil {
		ms := make([]NodeStateWire, len(members.Members))
		for i, m := range members.Members {
			ms[i] = MarshalNodeState(m)
		}
		out.Members = &SignedMembersWire{Members: ms, Signature: members.Signature}
	}

	return out, nil
}

// UnmarshalSAP is the inverse of MarshalSAP.
func UnmarshalSAP(w SectionTreeUpdateWire) (sectionchain.SignedSAP, []sectionchain.Edge, *sectionchain.SignedMembers, error) {
	key, err := sectionchain.UnmarshalKey(w.SignedSAP.SAP.SectionKey)
	if err != nil {
		return sectionchain.SignedSAP{}, nil, nil, fmt.Errorf("wiremsg: unmarshalling SAP key: %w", err)
	}

	var bits xorname.XorName
	copy(bits[:], w.SignedSAP.SAP.Prefix)
	prefix, err := xorname.PrefixFromBits(bits, w.SignedSAP.SAP.PrefixLen)
	if err != nil {
		return sectionchain.SignedSAP{}, nil, nil, fmt.Errorf("wiremsg: unmarshalling prefix: %w", err)
	}

	elders := make([]sectionchain.Elder, len(w.SignedSAP.SAP.Elders))
	for i, e := range w.SignedSAP.SAP.Elders {
		elders[i] = sectionchain.Elder{Name: e.Name, Address: e.Address}
	}

	signed := sectionchain.SignedSAP{
		SAP: sectionchain.SAP{
			Prefix:       prefix,
			SectionKey:   key,
			Elders:       elders,
			Generation:   w.SignedSAP.SAP.Generation,
			MembersCount: w.SignedSAP.SAP.MembersCount,
		},
		Signature: w.SignedSAP.Signature,
	}

	var proof []sectionchain.Edge
	for _, e := range w.ProofChain {
		edge, err := UnmarshalEdge(e)
		if err != nil {
			return sectionchain.SignedSAP{}, nil, nil, fmt.Errorf("wiremsg: unmarshalling proof chain: %w", err)
		}
		proof = append(proof, edge)
	}

	var members *sectionchain.SignedMembers
	if w.Members != nil {
		ms := make([]sectionchain.NodeState, len(w.Members.Members))
		for i, m := range w.Members.Members {
			ms[i] = UnmarshalNodeState(m)
		}
		members = &sectionchain.SignedMembers{Members: ms, Signature: w.Members.Signature}
	}

	return signed, proof, members, nil
}

// MarshalNodeState converts a sectionchain.NodeState to its wire form.
func MarshalNodeState(m sectionchain.NodeState) NodeStateWire {
	return NodeStateWire{
		Name:         m.Name,
		Address:      m.Address,
		Age:          m.Age,
		State:        uint8(m.State),
		RelocatedTo:  optName(m.RelocatedTo),
		PreviousName: optName(m.PreviousName),
	}
}

// UnmarshalNodeState is the inverse of MarshalNodeState.
func UnmarshalNodeState(w NodeStateWire) sectionchain.NodeState {
	return sectionchain.NodeState{
		Name:         w.Name,
		Address:      w.Address,
		Age:          w.Age,
		State:        sectionchain.MemberState(w.State),
		RelocatedTo:  wireOptName(w.RelocatedTo),
		PreviousName: wireOptName(w.PreviousName),
	}
}

func optName(n *xorname.XorName) *[32]byte {
	if n == nil {
		return nil
	}
	out := [32]byte(*n)
	return &out
}

func wireOptName(n *[32]byte) *xorname.XorName {
	if n == nil {
		return nil
	}
	out := xorname.XorName(*n)
	return &out
}
