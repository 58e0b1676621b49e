// Package nodeevents carries the NodeEvent stream the runtime consumes;
// cmd/node logs each event it receives. The distilled spec only alludes
// to this via NodeEvent::CouldNotStoreData in §7; the variant set here
// follows original_source's sn_node NodeEvent (node_msgs.rs) adapted to
// this node's own types.
package nodeevents

import (
	"context"
	"errors"

	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// Kind discriminates the event variants the facade publishes after a
// locked mutation.
type Kind uint8

const (
	// CouldNotStoreData reports that the storage collaborator is out of
	// space (§7): the payload is a *CouldNotStoreData. No code in this
	// repository publishes it; storage-full conditions raise no event.
	CouldNotStoreData Kind = iota
	// MembershipChanged reports an accepted member join/leave/relocate. The
	// payload is a *MembershipChanged. No code in this repository publishes
	// it; accepted member updates raise no event.
	MembershipChanged
	// RejoinRequired fires when this node must restart as a fresh joiner
	// (§7). The payload is a *RejoinRequiredEvent. It is the only kind
	// published, by node.HandleAntiEntropy.
	RejoinRequired
)

// Event is one published node event.
type Event struct {
	Kind    Kind
	Payload any
}

// CouldNotStoreData is the payload for the CouldNotStoreData kind.
type CouldNotStoreData struct {
	DataAddress xorname.XorName
	Full        bool
}

// MembershipChanged is the payload for the MembershipChanged kind.
type MembershipChanged struct {
	Member sectionchain.NodeState
}

// RejoinRequiredEvent is the payload for the RejoinRequired kind.
type RejoinRequiredEvent struct {
	Reason string
}

// ErrBusPublishTimedOut is returned by Publish when the bounded channel
// stayed full for the duration of ctx; the facade must not block
// indefinitely inside a locked mutation waiting for a slow consumer.
var ErrBusPublishTimedOut = errors.New("nodeevents: publish timed out, consumer is not draining")

// Bus is a bounded event channel. One consumer goroutine (typically
// cmd/node's runtime loop) drains it; publishers never block past ctx's
// deadline.
type Bus struct {
	ch chan Event
}

// NewBus constructs a Bus with the given channel capacity.
func NewBus(capacity int) *Bus {
	return &Bus{ch: make(chan Event, capacity)}
}

// Publish enqueues ev, or returns ErrBusPublishTimedOut if ctx expires
// first.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ErrBusPublishTimedOut
	}
}

// Events returns the receive-only channel consumers range over.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close closes the underlying channel; no further Publish calls are valid
// afterward.
func (b *Bus) Close() {
	close(b.ch)
}
