package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-sectiond/comm"
	"github.com/forestrie/go-sectiond/faults"
	"github.com/forestrie/go-sectiond/node"
	"github.com/forestrie/go-sectiond/nodeevents"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

func TestBootstrapGenesis_SelfSignedSoleElder(t *testing.T) {
	selfName, k, err := bootstrapGenesis("127.0.0.1:7000")
	require.NoError(t, err)

	require.True(t, k.OurPrefix().Equal(xorname.RootPrefix()))

	signed := k.SignedSAP()
	require.NoError(t, signed.VerifyUnder(signed.SAP.SectionKey))
	require.Len(t, signed.SAP.Elders, 1)
	require.Equal(t, selfName, signed.SAP.Elders[0].Name)
	require.True(t, k.HasMember(selfName))
}

func TestPeersFromElders(t *testing.T) {
	elders := []sectionchain.Elder{
		{Name: xorname.XorName{0x01}, Address: "a:1"},
		{Name: xorname.XorName{0x02}, Address: "b:2"},
	}
	peers := peersFromElders(elders)
	require.Len(t, peers, 2)
	require.Equal(t, "a:1", peers[0].Address)
	require.Equal(t, elders[1].Name, peers[1].Name.Name)
}

func TestSelfNameFromMembers_GenesisElder(t *testing.T) {
	selfName, k, err := bootstrapGenesis("127.0.0.1:7000")
	require.NoError(t, err)
	require.Equal(t, selfName, selfNameFromMembers(k))
}

func newTestNodeForResend(t *testing.T) (*node.Node, *comm.InMemoryComm, *faults.Detector) {
	t.Helper()
	_, k, err := bootstrapGenesis("127.0.0.1:7000")
	require.NoError(t, err)
	c := comm.NewInMemoryComm()
	fd, err := faults.NewDetector()
	require.NoError(t, err)
	n := node.New(xorname.XorName{0x01}, k, c, fd, nodeevents.NewBus(4), nil)
	return n, c, fd
}

func resendTargetTo(addr string) node.ResendTarget {
	target := sectionchain.Elder{Name: xorname.XorName{0x02}, Address: addr}
	return node.ResendTarget{
		Msg:    wiremsg.WireMsg{MsgID: uuid.New(), Kind: wiremsg.KindNode, Priority: 1},
		Target: target,
	}
}

// resend delivers on the first attempt when the transport succeeds, and
// never touches fault detection.
func TestResend_DeliversOnSuccess(t *testing.T) {
	n, c, fd := newTestNodeForResend(t)
	rt := resendTargetTo("peer:1")

	err := resend(context.Background(), n, rt, time.Second)
	require.NoError(t, err)
	require.Len(t, c.Sent, 1)
	require.Equal(t, 0, fd.IssueCount(rt.Target.Name, faults.IssueCommunication))
}

// resend retries a failing transport send within its bound, then gives up
// and tracks the peer rather than returning an error to the scheduler
// (§4.3: FailedSend is tracked, not auto-resent as a new command).
func TestResend_GivesUpAndTracksFaultAfterExhaustingRetries(t *testing.T) {
	n, c, fd := newTestNodeForResend(t)
	rt := resendTargetTo("peer:2")
	c.Fail[rt.Target.Address] = true

	err := resend(context.Background(), n, rt, 5*time.Millisecond)
	require.NoError(t, err, "resend absorbs delivery failure locally, per §4.3")
	require.Empty(t, c.Sent)
	require.Equal(t, 1, fd.IssueCount(rt.Target.Name, faults.IssueCommunication))
}
