// Package command defines the closed set of work items the scheduler
// drains (spec §4.3). Every unit of deferred work in the node is a Command:
// a kind, a fixed or payload-derived priority, a unique id and a creation
// timestamp.
package command

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind names a variant of work. The zero value is not a valid Kind.
type Kind int

const (
	HandleAgreement Kind = iota + 1
	HandleNewEldersAgreement
	HandleDkgOutcome
	HandleDkgFailure
	HandlePeerLost
	HandleNodeLeft
	ProposeOffline

	HandleDkgTimeout
	HandleNewNodeOnline
	EnqueueDataForReplication

	ScheduleDkgTimeout
	StartConnectivityTest
	TestConnectivity

	HandleMsg
	SendMsg
	SignOutgoingSystemMsg
	SendMsgDeliveryGroup
	HandleFailedSendToNode

	CleanupPeerLinks
)

func (k Kind) String() string {
	switch k {
	case HandleAgreement:
		return "HandleAgreement"
	case HandleNewEldersAgreement:
		return "HandleNewEldersAgreement"
	case HandleDkgOutcome:
		return "HandleDkgOutcome"
	case HandleDkgFailure:
		return "HandleDkgFailure"
	case HandlePeerLost:
		return "HandlePeerLost"
	case HandleNodeLeft:
		return "HandleNodeLeft"
	case ProposeOffline:
		return "ProposeOffline"
	case HandleDkgTimeout:
		return "HandleDkgTimeout"
	case HandleNewNodeOnline:
		return "HandleNewNodeOnline"
	case EnqueueDataForReplication:
		return "EnqueueDataForReplication"
	case ScheduleDkgTimeout:
		return "ScheduleDkgTimeout"
	case StartConnectivityTest:
		return "StartConnectivityTest"
	case TestConnectivity:
		return "TestConnectivity"
	case HandleMsg:
		return "HandleMsg"
	case SendMsg:
		return "SendMsg"
	case SignOutgoingSystemMsg:
		return "SignOutgoingSystemMsg"
	case SendMsgDeliveryGroup:
		return "SendMsgDeliveryGroup"
	case HandleFailedSendToNode:
		return "HandleFailedSendToNode"
	case CleanupPeerLinks:
		return "CleanupPeerLinks"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Fixed priorities from the §4.3 table. Kinds whose priority is
// payload-dependent (HandleMsg, SendMsg, SignOutgoingSystemMsg,
// SendMsgDeliveryGroup) are not listed here: their priority is carried
// explicitly on the Command instead of derived from Kind alone.
const (
	PriorityControlDecision = 10
	PriorityControlFollowup = 9
	PriorityDeferred        = 8
	PriorityMaintenance     = -10
)

// fixedPriority reports the table-driven priority for kind, and whether one
// exists; wire-priority kinds return false.
func fixedPriority(kind Kind) (int32, bool) {
	switch kind {
	case HandleAgreement, HandleNewEldersAgreement, HandleDkgOutcome, HandleDkgFailure,
		HandlePeerLost, HandleNodeLeft, ProposeOffline:
		return PriorityControlDecision, true
	case HandleDkgTimeout, HandleNewNodeOnline, EnqueueDataForReplication:
		return PriorityControlFollowup, true
	case ScheduleDkgTimeout, StartConnectivityTest, TestConnectivity:
		return PriorityDeferred, true
	case CleanupPeerLinks:
		return PriorityMaintenance, true
	default:
		return 0, false
	}
}

var seq uint64

func nextSeq() uint64 {
	return atomic.AddUint64(&seq, 1)
}

// Command is a scheduled unit of work. ID is unique and monotonically
// increasing within a process. The scheduler does not use it for ordering:
// it breaks priority ties by its own per-queue insertion sequence.
type Command struct {
	ID        uint64
	Kind      Kind
	Priority  int32
	CreatedAt time.Time
	MsgID     uuid.UUID // non-zero only for wire.priority kinds tied to a WireMsg
	Payload   any
}

// New constructs a Command for a fixed-priority kind. It panics if kind's
// priority is payload-dependent; use NewWithPriority for those.
func New(kind Kind, payload any) Command {
	priority, ok := fixedPriority(kind)
	if !ok {
		panic(fmt.Sprintf("command: %s has no fixed priority, use NewWithPriority", kind))
	}
	return Command{ID: nextSeq(), Kind: kind, Priority: priority, CreatedAt: timeNow(), Payload: payload}
}

// NewWithPriority constructs a Command whose priority is inherited from its
// triggering wire message (e.g. an AE response inherits the bounced
// message's priority).
func NewWithPriority(kind Kind, priority int32, payload any) Command {
	return Command{ID: nextSeq(), Kind: kind, Priority: priority, CreatedAt: timeNow(), Payload: payload}
}

// timeNow is a var so tests can freeze it; production code never overrides
// it.
var timeNow = time.Now
