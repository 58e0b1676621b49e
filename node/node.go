package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/forestrie/go-sectiond/comm"
	"github.com/forestrie/go-sectiond/command"
	"github.com/forestrie/go-sectiond/faults"
	"github.com/forestrie/go-sectiond/networkknowledge"
	"github.com/forestrie/go-sectiond/nodeevents"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/storage"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

// ErrRejoinRequired signals that this node was removed from its section
// and must restart as a fresh joiner (§7). It is surfaced to the outer
// runtime, not absorbed locally.
type ErrRejoinRequired struct {
	Reason string
}

func (e *ErrRejoinRequired) Error() string {
	return fmt.Sprintf("node: rejoin required: %s", e.Reason)
}

// ErrLockTimeout re-exports networkknowledge.ErrLockTimeout so callers that
// only import node can still errors.Is against it (§4.5, "per-lock
// timeout"); the bound itself is enforced inside Knowledge.UpdateIfValid.
var ErrLockTimeout = networkknowledge.ErrLockTimeout

// Node is the facade: the single cell of mutable state plus the
// collaborators the AE engine and scheduler drive.
type Node struct {
	SelfName xorname.XorName

	Knowledge *networkknowledge.Knowledge
	Comm      comm.Comm
	Faults    *faults.Detector
	Events    *nodeevents.Bus
	Store     *storage.FileStore

	LockTimeout time.Duration

	wasMember bool // membership at construction; HandleAntiEntropy takes its own snapshot per update

	log logger.Logger
}

// New constructs a Node around an already-initialized Knowledge.
func New(selfName xorname.XorName, k *networkknowledge.Knowledge, c comm.Comm, fd *faults.Detector, events *nodeevents.Bus, store *storage.FileStore) *Node {
	n := &Node{
		SelfName:    selfName,
		Knowledge:   k,
		Comm:        c,
		Faults:      fd,
		Events:      events,
		Store:       store,
		LockTimeout: 5 * time.Second,
		wasMember:   k.HasMember(selfName),
		log:         logger.Sugar.WithServiceName("node"),
	}
	k.SetLockTimeout(n.LockTimeout)
	return n
}

// HandleInbound runs the entropy check on an inbound wire message and
// returns the follow-up commands it produces: either none (normal
// dispatch should proceed) or a scheduled AE response.
func (n *Node) HandleInbound(msg wiremsg.WireMsg) ([]command.Command, error) {
	outcome, err := CheckEntropy(n.Knowledge, msg.Dst)
	if err != nil {
		if errors.Is(err, ErrNoMatchingSection) {
			return nil, nil // §4.2: fatal for this message, drop it
		}
		return nil, err
	}
	if outcome.Kind == EntropyNone {
		return nil, nil
	}

	update, err := wiremsg.MarshalSAP(outcome.SignedSAP, outcome.ProofChain, nil)
	if err != nil {
		return nil, fmt.Errorf("node: marshalling AE response: %w", err)
	}
	bounced, err := wiremsg.Serialize(msg)
	if err != nil {
		return nil, fmt.Errorf("node: marshalling bounced message: %w", err)
	}

	aeKind := wiremsg.AERetry
	if outcome.Kind == EntropyRedirect {
		aeKind = wiremsg.AERedirect
	}
	payload := wiremsg.AntiEntropyPayload{
		Kind:              aeKind,
		SectionTreeUpdate: update,
		BouncedMsg:        bounced,
	}
	encoded, err := wiremsg.EncodeAntiEntropy(payload)
	if err != nil {
		return nil, err
	}

	reply := wiremsg.WireMsg{
		MsgID:    uuid.New(),
		Kind:     wiremsg.KindNode,
		Payload:  encoded,
		Priority: msg.Priority,
	}
	return []command.Command{command.NewWithPriority(command.SendMsg, msg.Priority, reply)}, nil
}

// HandleAntiEntropy implements "Handling an incoming AE message" (§4.2).
// sender is who the message arrived from, used as the Retry re-send
// target and for untracking its AE-probe issue on Update.
func (n *Node) HandleAntiEntropy(ctx context.Context, payload wiremsg.AntiEntropyPayload, sender sectionchain.Elder) ([]command.Command, error) {
	signed, proof, members, err := wiremsg.UnmarshalSAP(payload.SectionTreeUpdate)
	if err != nil {
		return nil, fmt.Errorf("node: unmarshalling AE section tree update: %w", err)
	}

	update := networkknowledge.SectionTreeUpdate{SignedSAP: signed, ProofChain: proof, Members: members}

	wasMember := n.Knowledge.HasMember(n.SelfName)
	prevSigned := n.Knowledge.SignedSAP()
	changed, err := n.Knowledge.UpdateIfValid(update, n.SelfName)
	if err != nil {
		n.log.Infof("rejecting untrusted AE update from %s: %v", sender.Name, err)
		return nil, fmt.Errorf("node: untrusted AE update: %w", err)
	}

	var follow []command.Command

	if changed {
		n.log.Debugf("accepted AE update for prefix %s at generation %d", signed.SAP.Prefix, signed.SAP.Generation)
		if members != nil && n.Comm != nil {
			n.Comm.SetCommTargets(peersFromMembers(members.Members))
		}
		if n.Store != nil {
			if err := storage.SaveSectionTree(ctx, n.Store, n.Knowledge); err != nil {
				return nil, fmt.Errorf("node: persisting section tree: %w", err)
			}
		}
		nowMember := n.Knowledge.HasMember(n.SelfName)
		if wasMember && !nowMember {
			n.log.Infof("removed from section, signalling rejoin required")
			if n.Events != nil {
				_ = n.Events.Publish(ctx, nodeevents.Event{Kind: nodeevents.RejoinRequired, Payload: &nodeevents.RejoinRequiredEvent{Reason: "RemovedFromSection"}})
			}
			return nil, &ErrRejoinRequired{Reason: "RemovedFromSection"}
		}
		follow = append(follow, n.broadcastKeyRotation(prevSigned)...)
	}

	if payload.Kind == wiremsg.AEUpdate {
		if n.Faults != nil {
			n.Faults.UntrackNodeIssue(sender.Name, faults.IssueCommunication)
		}
		return follow, nil
	}

	bounced, err := wiremsg.Deserialize(payload.BouncedMsg)
	if err != nil {
		return nil, fmt.Errorf("node: deserialising bounced message: %w", err)
	}

	// §4.2 step 4: if the bounced message's dst key already equals the SAP
	// we just received, the sender re-bounced our own view back at us.
	dstKey, err := sectionchain.UnmarshalKey(bounced.Dst.SectionKey)
	if err == nil && sectionchain.KeyEqual(dstKey, signed.SAP.SectionKey) {
		return follow, nil
	}

	var target sectionchain.Elder
	switch payload.Kind {
	case wiremsg.AERetry:
		target = sender
	case wiremsg.AERedirect:
		target, err = RedirectTarget(signed.SAP)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("node: unknown anti-entropy kind %d", payload.Kind)
	}

	follow = append(follow, command.NewWithPriority(command.SendMsg, bounced.Priority, ResendTarget{Msg: bounced, Target: target}))
	return follow, nil
}

// ResendTarget is the payload of a scheduled SendMsg command produced by the
// AE engine.
type ResendTarget struct {
	Msg    wiremsg.WireMsg
	Target sectionchain.Elder
}

func peersFromMembers(members []sectionchain.NodeState) []comm.Peer {
	out := make([]comm.Peer, 0, len(members))
	for _, m := range members {
		if m.State != sectionchain.Joined {
			continue
		}
		out = append(out, comm.Peer{Name: sectionchain.Elder{Name: m.Name, Address: m.Address}, Address: m.Address})
	}
	return out
}
