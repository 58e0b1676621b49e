package sectionchain

import (
	"testing"

	"github.com/forestrie/go-sectiond/xorname"
	"github.com/stretchr/testify/require"
)

func TestSignedSAPVerifyUnder(t *testing.T) {
	prev := newKeyPair(t)
	cur := newKeyPair(t)

	sap := SAP{
		Prefix:     xorname.RootPrefix(),
		SectionKey: cur.pub,
		Elders: []Elder{
			{Name: xorname.XorName{1}, Address: "127.0.0.1:1111"},
			{Name: xorname.XorName{2}, Address: "127.0.0.1:2222"},
		},
		Generation:   1,
		MembersCount: 2,
	}

	signed, err := Sign(sap, prev.priv)
	require.NoError(t, err)
	require.NoError(t, signed.VerifyUnder(prev.pub))

	other := newKeyPair(t)
	require.Error(t, signed.VerifyUnder(other.pub))
}

func TestSAPElderClosestToIsDeterministic(t *testing.T) {
	sap := SAP{
		Elders: []Elder{
			{Name: xorname.XorName{0xf0}},
			{Name: xorname.XorName{0x0f}},
			{Name: xorname.XorName{0x00}},
		},
	}
	target := xorname.XorName{0x01}

	first, ok := sap.ElderClosestTo(target)
	require.True(t, ok)
	second, ok := sap.ElderClosestTo(target)
	require.True(t, ok)
	require.Equal(t, first.Name, second.Name)
}

func TestSignedMembersVerifyUnderRequiresExactElderSet(t *testing.T) {
	section := newKeyPair(t)

	elderName := xorname.XorName{1}
	adultName := xorname.XorName{2}

	sap := SAP{
		SectionKey: section.pub,
		Elders:     []Elder{{Name: elderName}},
	}

	members := []NodeState{
		{Name: elderName, State: Joined},
		{Name: adultName, State: Joined},
	}

	signed, err := SignMembers(members, section.priv)
	require.NoError(t, err)
	require.NoError(t, signed.VerifyUnder(section.pub, sap))

	// badSAP names an elder the signed member set does not contain.
	badSAP := sap
	badSAP.Elders = []Elder{{Name: elderName}, {Name: xorname.XorName{3}}}
	require.ErrorIs(t, signed.VerifyUnder(section.pub, badSAP), ErrMemberSetMismatch)
}
