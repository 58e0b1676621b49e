// Command node runs a section-overlay node: it parses the configuration
// surface from spec §6, bootstraps or restores network knowledge, and
// drives the anti-entropy engine and command scheduler against a TCP
// comms adapter until told to shut down.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/forestrie/go-sectiond/comm"
	"github.com/forestrie/go-sectiond/command"
	"github.com/forestrie/go-sectiond/config"
	"github.com/forestrie/go-sectiond/faults"
	"github.com/forestrie/go-sectiond/networkknowledge"
	"github.com/forestrie/go-sectiond/node"
	"github.com/forestrie/go-sectiond/nodeevents"
	"github.com/forestrie/go-sectiond/scheduler"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/storage"
	"github.com/forestrie/go-sectiond/wiremsg"
	"github.com/forestrie/go-sectiond/xorname"
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 1
	exitRejoinRequired = 2
	exitStorageFailure = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	logger.New("INFO")
	log := logger.Sugar.WithServiceName("cmd/node")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := bootstrap(ctx, cfg, log)
	if err != nil {
		log.Infof("bootstrap failed: %v", err)
		var rejoin *node.ErrRejoinRequired
		if errors.As(err, &rejoin) {
			return exitRejoinRequired
		}
		return exitStorageFailure
	}

	ln, err := net.Listen("tcp", cfg.LocalAddr)
	if err != nil {
		log.Infof("listen failed: %v", err)
		return exitStorageFailure
	}
	defer ln.Close()

	sched := newScheduler(ctx, n, cfg, log)
	defer sched.Stop()

	go drainEvents(ctx, n.Events, log)
	go acceptLoop(ctx, ln, n, sched, cfg, log)

	log.Infof("node %s serving %s, prefix %s", n.SelfName, ln.Addr(), n.Knowledge.OurPrefix())

	<-ctx.Done()
	log.Infof("shutting down")
	return exitOK
}

// bootstrap resolves the node's starting Knowledge: a restart resumes from
// root_dir's persisted section tree if one exists; otherwise the node
// bootstraps fresh per --first or --network-contacts-file (§6), mutually
// exclusive per config.Validate.
func bootstrap(ctx context.Context, cfg config.Config, log logger.Logger) (*node.Node, error) {
	if cfg.ClearData {
		if err := os.RemoveAll(cfg.RootDir); err != nil {
			return nil, fmt.Errorf("cmd/node: clearing root dir: %w", err)
		}
	}

	store, err := storage.NewFileStore(cfg.RootDir)
	if err != nil {
		return nil, fmt.Errorf("cmd/node: opening storage: %w", err)
	}

	var selfName xorname.XorName
	var knowledge *networkknowledge.Knowledge

	if k, loadErr := storage.LoadSectionTree(ctx, store); loadErr == nil {
		log.Infof("resuming from persisted section tree")
		knowledge = k
		selfName = selfNameFromMembers(k)
	} else if !errors.Is(loadErr, storage.ErrDoesNotExist) {
		return nil, fmt.Errorf("cmd/node: loading persisted section tree: %w", loadErr)
	} else if cfg.First {
		selfName, knowledge, err = bootstrapGenesis(cfg.LocalAddr)
		if err != nil {
			return nil, err
		}
		if err := storage.SaveSectionTree(ctx, store, knowledge); err != nil {
			return nil, fmt.Errorf("cmd/node: persisting genesis section tree: %w", err)
		}
	} else {
		knowledge, err = storage.LoadSectionTreeFile(cfg.NetworkContactsFile)
		if err != nil {
			return nil, fmt.Errorf("cmd/node: loading network contacts file: %w", err)
		}
		selfName = selfNameFromMembers(knowledge)
	}

	c := comm.NewTCPComm()
	c.SetCommTargets(peersFromElders(knowledge.Elders()))

	fd, err := faults.NewDetector()
	if err != nil {
		return nil, fmt.Errorf("cmd/node: constructing fault detector: %w", err)
	}

	events := nodeevents.NewBus(64)

	n := node.New(selfName, knowledge, c, fd, events, store)
	n.LockTimeout = cfg.CmdTimeout
	knowledge.SetLockTimeout(n.LockTimeout)
	return n, nil
}

// bootstrapGenesis builds a fresh single-elder section at the root prefix,
// self-signed: a --first node has no peers to run DKG with (§1 Non-goals),
// so it self-certifies its own genesis key and membership.
func bootstrapGenesis(localAddr string) (xorname.XorName, *networkknowledge.Knowledge, error) {
	kp := sectionchain.GenerateKeyPair()
	keyBytes, err := sectionchain.MarshalKey(kp.Public)
	if err != nil {
		return xorname.XorName{}, nil, fmt.Errorf("cmd/node: marshalling genesis key: %w", err)
	}
	selfName := xorname.FromContent(keyBytes)

	sap := sectionchain.SAP{
		Prefix:       xorname.RootPrefix(),
		SectionKey:   kp.Public,
		Elders:       []sectionchain.Elder{{Name: selfName, Address: localAddr}},
		Generation:   0,
		MembersCount: 1,
	}
	signed, err := sectionchain.Sign(sap, kp.Private)
	if err != nil {
		return xorname.XorName{}, nil, fmt.Errorf("cmd/node: self-signing genesis SAP: %w", err)
	}

	knowledge := networkknowledge.New(signed)
	knowledge.SeedMembers([]sectionchain.NodeState{{
		Name:    selfName,
		Address: localAddr,
		Age:     1,
		State:   sectionchain.Joined,
	}})
	return selfName, knowledge, nil
}

func selfNameFromMembers(k *networkknowledge.Knowledge) xorname.XorName {
	for _, e := range k.Elders() {
		return e.Name
	}
	return xorname.XorName{}
}

func peersFromElders(elders []sectionchain.Elder) []comm.Peer {
	out := make([]comm.Peer, 0, len(elders))
	for _, e := range elders {
		out = append(out, comm.Peer{Name: e, Address: e.Address})
	}
	return out
}

// newScheduler wires the command scheduler to a handler that dispatches
// SendMsg commands carrying a node.ResendTarget to comms. Other command
// kinds (DKG, membership-consensus, replication) name collaborator modules
// out of this core's scope (§1 Non-goals); the scheduler still accepts and
// drops them rather than rejecting them, matching "routes to, does not
// redesign" from §1.
func newScheduler(ctx context.Context, n *node.Node, cfg config.Config, log logger.Logger) *scheduler.Scheduler {
	handler := func(_ context.Context, c command.Command) ([]command.Command, error) {
		if c.Kind != command.SendMsg {
			return nil, nil
		}
		rt, ok := c.Payload.(node.ResendTarget)
		if !ok {
			// An AE reply bound for the inbound connection's own stream is
			// answered directly by acceptLoop and never reaches the
			// scheduler; anything else with this shape is out of scope.
			return nil, nil
		}
		return nil, resend(ctx, n, rt, cfg.MaxBackoffInterval)
	}

	// resend already retries the transport delivery itself (bounded by
	// maxBackoffInterval) and absorbs delivery failures; it returns an error
	// only when the bounced message cannot be re-serialised. No
	// backoffFactory is registered, so such an error drops the command.
	return scheduler.New(1024, 8, handler, nil)
}

// resend delivers a bounced message to its resend target, retrying the
// transport-level send a bounded number of times with exponential backoff
// before giving up: a single dial failure or reset connection is often
// transient and worth one more attempt, whereas scheduling a brand new
// resend command after the fact is the auto-resend §4.3 rules out. Once
// retries are exhausted the peer is tracked in fault detection and the
// command is dropped, not requeued.
func resend(ctx context.Context, n *node.Node, rt node.ResendTarget, maxInterval time.Duration) error {
	bytes, err := wiremsg.Serialize(rt.Msg)
	if err != nil {
		return fmt.Errorf("cmd/node: re-serialising bounced message: %w", err)
	}
	peer := comm.Peer{Name: rt.Target, Address: rt.Target.Address}

	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxInterval
	b.MaxElapsedTime = maxInterval

	op := func() error {
		return n.Comm.SendOutBytes(ctx, peer, rt.Msg.MsgID, bytes)
	}
	if err := backoff.Retry(op, b); err != nil {
		if n.Faults != nil {
			n.Faults.TrackNodeIssue(rt.Target.Name, faults.IssueCommunication)
		}
		return nil // §4.3: FailedSend is tracked, not retried by the caller
	}
	return nil
}

// acceptLoop accepts one connection per inbound message, the same framing
// TCPComm uses to send: a 4-byte big-endian length prefix followed by a
// serialized WireMsg. AE replies are written back on the same connection
// before it closes, matching "if a response stream is attached... the AE
// reply is sent on that stream" (§4.2); ResendTarget commands instead open
// a fresh outbound connection via comm.SendOutBytes.
func acceptLoop(ctx context.Context, ln net.Listener, n *node.Node, sched *scheduler.Scheduler, cfg config.Config, log logger.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Infof("accept failed: %v", err)
				continue
			}
		}
		go handleConn(ctx, conn, n, sched, log)
	}
}

func handleConn(ctx context.Context, conn net.Conn, n *node.Node, sched *scheduler.Scheduler, log logger.Logger) {
	defer conn.Close()

	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}

	msg, err := wiremsg.Deserialize(body)
	if err != nil {
		log.Infof("dropping malformed wire message from %s: %v", conn.RemoteAddr(), err)
		return
	}

	if payload, err := wiremsg.DecodeAntiEntropy(msg.Payload); err == nil && msg.Kind == wiremsg.KindNode {
		sender := sectionchain.Elder{Address: conn.RemoteAddr().String()}
		follow, err := n.HandleAntiEntropy(ctx, payload, sender)
		if err != nil {
			var rejoin *node.ErrRejoinRequired
			if errors.As(err, &rejoin) {
				log.Infof("%v", err)
			}
			return
		}
		for _, f := range follow {
			_ = sched.Enqueue(f)
		}
		return
	}

	follow, err := n.HandleInbound(msg)
	if err != nil {
		log.Infof("entropy check failed: %v", err)
		return
	}
	for _, f := range follow {
		if reply, ok := f.Payload.(wiremsg.WireMsg); ok {
			writeReply(conn, reply)
			continue
		}
		_ = sched.Enqueue(f)
	}
}

func writeReply(conn net.Conn, reply wiremsg.WireMsg) {
	bytes, err := wiremsg.Serialize(reply)
	if err != nil {
		return
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(bytes)))
	_, _ = conn.Write(lenPrefix[:])
	_, _ = conn.Write(bytes)
}

func drainEvents(ctx context.Context, bus *nodeevents.Bus, log logger.Logger) {
	for {
		select {
		case ev, ok := <-bus.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case nodeevents.CouldNotStoreData:
				log.Infof("storage pressure event: %+v", ev.Payload)
			case nodeevents.MembershipChanged:
				log.Infof("membership changed: %+v", ev.Payload)
			case nodeevents.RejoinRequired:
				log.Infof("rejoin required: %+v", ev.Payload)
			}
		case <-ctx.Done():
			return
		}
	}
}
