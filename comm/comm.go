// Package comm defines the transport boundary the node depends on (spec
// §6): sending bytes to a peer and being told which peers are currently
// reachable. Wire framing itself is treated as an external collaborator,
// not part of the core's concern; this package only fixes the interface
// and a couple of concrete implementations.
package comm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/forestrie/go-sectiond/sectionchain"
)

// Peer identifies a reachable node by name and network address.
type Peer struct {
	Name    sectionchain.Elder
	Address string
}

// ErrFailedSend is returned when a send could not be delivered; callers
// mark the peer in fault detection rather than retrying automatically
// (§4.3, "Retries and failure").
var ErrFailedSend = errors.New("comm: failed to send to peer")

// Comm is the boundary the node schedules SendMsg commands against.
type Comm interface {
	// SendOutBytes delivers bytes to peer, tagged with msgID for logging
	// correlation. A non-nil error is always ErrFailedSend-wrapped or a
	// genuine transport error; callers distinguish via errors.Is.
	SendOutBytes(ctx context.Context, peer Peer, msgID uuid.UUID, bytes []byte) error
	// SetCommTargets replaces the set of peers considered reachable,
	// called after every accepted knowledge update.
	SetCommTargets(peers []Peer)
}

// TCPComm is a length-prefixed-framing TCP implementation of Comm. Each
// message is sent as a new connection: a 4-byte big-endian length prefix
// followed by the payload, then the connection is closed. This keeps the
// adapter stateless between sends, at the cost of a handshake per message.
type TCPComm struct {
	mu      sync.RWMutex
	targets map[string]Peer
}

// NewTCPComm constructs a TCPComm with no reachable targets.
func NewTCPComm() *TCPComm {
	return &TCPComm{targets: make(map[string]Peer)}
}

func (c *TCPComm) SetCommTargets(peers []Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = make(map[string]Peer, len(peers))
	for _, p := range peers {
		c.targets[p.Address] = p
	}
}

func (c *TCPComm) SendOutBytes(ctx context.Context, peer Peer, msgID uuid.UUID, bytes []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", peer.Address)
	if err != nil {
		return fmt.Errorf("%w %s (msg %s): %v", ErrFailedSend, peer.Address, msgID, err)
	}
	defer conn.Close()

	var lenPrefix [4]byte
	n := len(bytes)
	lenPrefix[0] = byte(n >> 24)
	lenPrefix[1] = byte(n >> 16)
	lenPrefix[2] = byte(n >> 8)
	lenPrefix[3] = byte(n)

	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("%w %s (msg %s): %v", ErrFailedSend, peer.Address, msgID, err)
	}
	if _, err := conn.Write(bytes); err != nil {
		return fmt.Errorf("%w %s (msg %s): %v", ErrFailedSend, peer.Address, msgID, err)
	}
	return nil
}

// InMemoryComm is a test double recording every send in order, useful for
// asserting routing decisions (Retry/Redirect targets, AE broadcasts)
// without opening real sockets.
type InMemoryComm struct {
	mu      sync.Mutex
	Sent    []SentMessage
	targets []Peer
	Fail    map[string]bool // peer address -> force ErrFailedSend
}

// SentMessage records one call to SendOutBytes.
type SentMessage struct {
	Peer  Peer
	MsgID uuid.UUID
	Bytes []byte
}

func NewInMemoryComm() *InMemoryComm {
	return &InMemoryComm{Fail: make(map[string]bool)}
}

func (c *InMemoryComm) SendOutBytes(_ context.Context, peer Peer, msgID uuid.UUID, bytes []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Fail[peer.Address] {
		return fmt.Errorf("%w %s (msg %s)", ErrFailedSend, peer.Address, msgID)
	}
	c.Sent = append(c.Sent, SentMessage{Peer: peer, MsgID: msgID, Bytes: bytes})
	return nil
}

func (c *InMemoryComm) SetCommTargets(peers []Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets = append([]Peer(nil), peers...)
}

func (c *InMemoryComm) Targets() []Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Peer(nil), c.targets...)
}
