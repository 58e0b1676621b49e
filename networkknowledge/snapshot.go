package networkknowledge

import (
	"errors"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// Snapshot is the full persisted state of a Knowledge, as written to
// section_tree.dat (§6). It captures everything needed to reconstruct a
// Knowledge without replaying history: the chain's edges, every tree entry,
// our own prefix, and the current member set.
type Snapshot struct {
	Genesis      sectionchain.PublicKey
	ChainEdges   []sectionchain.Edge
	TreeEntries  []sectionchain.SignedSAP
	OurPrefix    []byte // xorname.Prefix bit pattern; reconstructed by the caller alongside OurPrefixLen
	OurPrefixLen uint
	Members      []sectionchain.NodeState
}

// TakeSnapshot captures the current state of k for persistence.
func (k *Knowledge) TakeSnapshot() Snapshot {
	k.mu.RLock()
	defer k.mu.RUnlock()

	entries := make([]sectionchain.SignedSAP, 0, len(k.tree.entries))
	for _, sap := range k.tree.entries {
		entries = append(entries, sap)
	}

	members := make([]sectionchain.NodeState, 0, len(k.members))
	for _, m := range k.members {
		members = append(members, m)
	}

	bits := k.ourPrefix.Bits()
	return Snapshot{
		Genesis:      k.chain.Genesis(),
		ChainEdges:   k.chain.Edges(),
		TreeEntries:  entries,
		OurPrefix:    bits[:],
		OurPrefixLen: k.ourPrefix.Len(),
		Members:      members,
	}
}

// ErrSnapshotIncomplete is returned when a snapshot's own prefix has no
// matching entry in its tree entries.
var ErrSnapshotIncomplete = errors.New("networkknowledge: snapshot is missing an entry for its own prefix")

// Restore rebuilds a Knowledge from a previously taken Snapshot. It trusts
// the snapshot's contents: validation happened before it was written, not
// on load, matching the teacher's storage layer, which treats its own
// on-disk format as trusted once read back.
func Restore(snap Snapshot) (*Knowledge, error) {
	var bits xorname.XorName
	copy(bits[:], snap.OurPrefix)
	ourPrefix, err := xorname.PrefixFromBits(bits, snap.OurPrefixLen)
	if err != nil {
		return nil, err
	}

	k := &Knowledge{
		chain:       sectionchain.NewChain(snap.Genesis),
		tree:        newTree(),
		ourPrefix:   ourPrefix,
		members:     make(map[xorname.XorName]sectionchain.NodeState),
		lockTimeout: defaultLockTimeout,
		log:         logger.Sugar.WithServiceName("networkknowledge"),
	}

	for _, edge := range snap.ChainEdges {
		if err := k.chain.Insert(edge.Parent, edge.Child, edge.Signature); err != nil {
			return nil, err
		}
	}

	var foundOur bool
	for _, sap := range snap.TreeEntries {
		k.tree.set(sap.SAP.Prefix, sap)
		if sap.SAP.Prefix.Equal(ourPrefix) {
			k.ourSignedSAP = sap
			foundOur = true
		}
	}
	if !foundOur {
		return nil, ErrSnapshotIncomplete
	}

	for _, m := range snap.Members {
		k.members[m.Name] = m
	}

	return k, nil
}
