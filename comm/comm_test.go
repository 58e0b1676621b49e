package comm

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCommRecordsSends(t *testing.T) {
	c := NewInMemoryComm()
	peer := Peer{Address: "127.0.0.1:1111"}
	msgID := uuid.New()

	require.NoError(t, c.SendOutBytes(context.Background(), peer, msgID, []byte("hello")))
	require.Len(t, c.Sent, 1)
	require.Equal(t, peer, c.Sent[0].Peer)
	require.Equal(t, msgID, c.Sent[0].MsgID)
}

func TestInMemoryCommFailsConfiguredPeers(t *testing.T) {
	c := NewInMemoryComm()
	peer := Peer{Address: "127.0.0.1:2222"}
	c.Fail[peer.Address] = true

	err := c.SendOutBytes(context.Background(), peer, uuid.New(), []byte("x"))
	require.ErrorIs(t, err, ErrFailedSend)
	require.Empty(t, c.Sent)
}

func TestInMemoryCommTracksTargets(t *testing.T) {
	c := NewInMemoryComm()
	peers := []Peer{{Address: "a"}, {Address: "b"}}
	c.SetCommTargets(peers)
	require.Equal(t, peers, c.Targets())
}
