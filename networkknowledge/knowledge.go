package networkknowledge

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// defaultLockTimeout is the bound UpdateIfValid uses to acquire its locks
// when the node has not configured one explicitly (§4.5, "per-lock
// timeout").
const defaultLockTimeout = 5 * time.Second

// ErrLockTimeout is returned when UpdateIfValid could not acquire a lock
// within its bound; the attempt is abandoned rather than left blocking, so
// the caller's scheduler command may retry (§4.5).
var ErrLockTimeout = errors.New("networkknowledge: lock acquisition timed out")

var (
	// ErrStaleUpdate is returned when an update for our own prefix carries
	// a generation older than what we already hold.
	ErrStaleUpdate = errors.New("networkknowledge: update generation is older than current knowledge")
	// ErrConflictingUpdate is returned when an update claims the same
	// generation as current knowledge but disagrees with it.
	ErrConflictingUpdate = errors.New("networkknowledge: update conflicts with current knowledge at the same generation")
	// ErrProofChainMismatch is returned when a proof chain does not
	// terminate at the SAP's own section key.
	ErrProofChainMismatch = errors.New("networkknowledge: proof chain does not terminate at the SAP's section key")
	// ErrUnknownSigningKey is returned when neither our chain nor the
	// update's own proof chain can account for the key that signed the SAP.
	ErrUnknownSigningKey = errors.New("networkknowledge: no trusted key accounts for the SAP's signature")
)

// SectionTreeUpdate is a proposed change to network knowledge: a signed SAP,
// an optional proof chain rooting it to genesis, and an optional signed
// member set.
type SectionTreeUpdate struct {
	SignedSAP  sectionchain.SignedSAP
	ProofChain []sectionchain.Edge
	Members    *sectionchain.SignedMembers
}

// Knowledge is the per-node view described in spec §3: the section tree,
// section chain, our own prefix/SAP, and our section's member set, guarded
// by one rw-lock so the rest of the system sees every change as an atomic
// transition.
type Knowledge struct {
	mu sync.RWMutex

	chain        *sectionchain.Chain
	tree         *Tree
	ourPrefix    xorname.Prefix
	ourSignedSAP sectionchain.SignedSAP
	members      map[xorname.XorName]sectionchain.NodeState

	lockTimeout time.Duration
	log         logger.Logger
}

// New creates a fresh Knowledge for a node bootstrapping a brand-new
// section as its sole elder, genesis == the section's own key.
func New(genesis sectionchain.SignedSAP) *Knowledge {
	k := &Knowledge{
		chain:        sectionchain.NewChain(genesis.SAP.SectionKey),
		tree:         newTree(),
		ourPrefix:    genesis.SAP.Prefix,
		ourSignedSAP: genesis,
		members:      make(map[xorname.XorName]sectionchain.NodeState),
		lockTimeout:  defaultLockTimeout,
		log:          logger.Sugar.WithServiceName("networkknowledge"),
	}
	k.tree.set(genesis.SAP.Prefix, genesis)
	return k
}

// SetLockTimeout overrides the bound UpdateIfValid uses when acquiring its
// read and write locks (§4.5, "per-lock timeout"). Node.New sets it to
// Node.LockTimeout's default of 5s; cmd/node then wires it to --cmd-timeout
// via Node.LockTimeout.
// Call before the node starts serving: the timeout itself is read outside
// the lock it bounds, so changing it concurrently with in-flight updates
// is not safe.
func (k *Knowledge) SetLockTimeout(d time.Duration) {
	k.lockTimeout = d
}

// tryRLockBounded attempts to acquire the read lock within timeout,
// polling TryRLock since sync.RWMutex has no native timed acquisition. It
// reports whether the lock was acquired; only a true result obliges the
// caller to RUnlock.
func (k *Knowledge) tryRLockBounded(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if k.mu.TryRLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// tryLockBounded is tryRLockBounded's write-lock counterpart.
func (k *Knowledge) tryLockBounded(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if k.mu.TryLock() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// onLockTimeout logs the warning §4.5 requires when a bounded acquisition
// is abandoned: a message plus stack context, so a stuck holder is
// diagnosable after the fact.
func (k *Knowledge) onLockTimeout(op string) {
	k.log.Infof("lock acquisition timed out in %s after %s, abandoning attempt: %s", op, k.lockTimeout, debug.Stack())
}

// OurPrefix returns our current section prefix.
func (k *Knowledge) OurPrefix() xorname.Prefix {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ourPrefix
}

// SignedSAP returns our current signed SAP.
func (k *Knowledge) SignedSAP() sectionchain.SignedSAP {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ourSignedSAP
}

// SectionKey returns our current section key.
func (k *Knowledge) SectionKey() sectionchain.PublicKey {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ourSignedSAP.SAP.SectionKey
}

// Elders returns our current elder set.
func (k *Knowledge) Elders() []sectionchain.Elder {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]sectionchain.Elder, len(k.ourSignedSAP.SAP.Elders))
	copy(out, k.ourSignedSAP.SAP.Elders)
	return out
}

// Members returns a snapshot of our current section members.
func (k *Knowledge) Members() []sectionchain.NodeState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]sectionchain.NodeState, 0, len(k.members))
	for _, m := range k.members {
		out = append(out, m)
	}
	return out
}

// HasMember reports whether name is currently a tracked member of our
// section.
func (k *Knowledge) HasMember(name xorname.XorName) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.members[name]
	return ok
}

// SeedMembers populates the member set directly, bypassing the generation
// and signature checks UpdateIfValid applies. It exists solely for a
// --first node bootstrapping a brand-new section: there is no prior epoch
// to validate against, so the node's own genesis membership is taken on
// trust from the local config rather than from a signed update.
func (k *Knowledge) SeedMembers(members []sectionchain.NodeState) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, m := range members {
		k.members[m.Name] = m
	}
}

// SignedSAPForPrefix returns the signed SAP stored for an exact prefix, or
// false if none is known. Used to look up a sibling section's current
// elders after a split.
func (k *Knowledge) SignedSAPForPrefix(p xorname.Prefix) (sectionchain.SignedSAP, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.tree.Get(p)
}

// ClosestSignedSAPWithChain returns the entry whose prefix is the longest
// match for name, with a proof chain witnessing it.
func (k *Knowledge) ClosestSignedSAPWithChain(name xorname.XorName) (sectionchain.SignedSAP, []sectionchain.Edge, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	sap, _, ok := k.tree.ClosestMatch(name)
	if !ok {
		return sectionchain.SignedSAP{}, nil, false
	}
	proof, err := k.chain.ProofChainTo(sap.SAP.SectionKey)
	if err != nil {
		return sap, nil, true
	}
	return sap, proof, true
}

// GetProofChainTo returns the proof chain to key, or false if key is not
// reachable.
func (k *Knowledge) GetProofChainTo(key sectionchain.PublicKey) ([]sectionchain.Edge, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	proof, err := k.chain.ProofChainTo(key)
	if err != nil {
		return nil, false
	}
	return proof, true
}

// classify runs the pure, read-lock-safe validation logic of
// update_knowledge_if_valid (§4.1), without mutating anything. It reports
// whether applying update would change state, and the previous key the SAP
// must have been signed under. classify does not consult selfName: the
// rule 3 generation check applies only when the update's prefix equals our
// current prefix (a rotation); an update for any other prefix, including a
// split promoting us into a child section, is not generation-checked.
func (k *Knowledge) classify(update SectionTreeUpdate, selfName xorname.XorName) (prevKey sectionchain.PublicKey, willChange bool, err error) {
	sap := update.SignedSAP.SAP

	if len(update.ProofChain) > 0 {
		if err := sectionchain.VerifyProofChain(k.chain.Genesis(), update.ProofChain); err != nil {
			return nil, false, err
		}
		last := update.ProofChain[len(update.ProofChain)-1]
		if !sectionchain.KeyEqual(last.Child, sap.SectionKey) {
			return nil, false, ErrProofChainMismatch
		}
		prevKey = last.Parent
	} else {
		existing, ok := k.tree.Get(sap.Prefix)
		if !ok {
			return nil, false, ErrUnknownSigningKey
		}
		prevKey = existing.SAP.SectionKey
	}

	if err := update.SignedSAP.VerifyUnder(prevKey); err != nil {
		return nil, false, err
	}

	// Generation comparison only applies when the update targets our
	// *current* prefix exactly (rule 3); a split promoting us into a more
	// specific child prefix is a fresh identity, not a rotation, and always
	// advances.
	if sap.Prefix.Equal(k.ourPrefix) {
		if sap.Generation < k.ourSignedSAP.SAP.Generation {
			return prevKey, false, ErrStaleUpdate
		}
		if sap.Generation == k.ourSignedSAP.SAP.Generation {
			if sectionchain.KeyEqual(sap.SectionKey, k.ourSignedSAP.SAP.SectionKey) {
				return prevKey, false, nil // idempotent
			}
			return prevKey, false, ErrConflictingUpdate
		}
	}

	if update.Members != nil {
		if err := update.Members.VerifyUnder(sap.SectionKey, sap); err != nil {
			return nil, false, err
		}
	}

	return prevKey, true, nil
}

// UpdateIfValid atomically validates update against current knowledge and
// applies it, following the read-then-maybe-write upgrade discipline of
// §4.5: classification first runs under the read lock; only a positive
// classification re-runs under the write lock, against freshly observed
// state, before mutating anything. selfName is this node's own name: when
// it falls under the update's prefix, the update becomes our own signed SAP
// and prefix.
func (k *Knowledge) UpdateIfValid(update SectionTreeUpdate, selfName xorname.XorName) (bool, error) {
	if !k.tryRLockBounded(k.lockTimeout) {
		k.onLockTimeout("UpdateIfValid classify")
		return false, ErrLockTimeout
	}
	_, willChange, err := k.classify(update, selfName)
	k.mu.RUnlock()
	if err != nil || !willChange {
		return false, err
	}

	if !k.tryLockBounded(k.lockTimeout) {
		k.onLockTimeout("UpdateIfValid apply")
		return false, ErrLockTimeout
	}
	defer k.mu.Unlock()

	_, willChange, err = k.classify(update, selfName)
	if err != nil || !willChange {
		return false, err
	}

	sap := update.SignedSAP.SAP

	for _, edge := range update.ProofChain {
		if err := k.chain.Insert(edge.Parent, edge.Child, edge.Signature); err != nil {
			return false, fmt.Errorf("networkknowledge: applying proof chain: %w", err)
		}
	}
	k.tree.set(sap.Prefix, update.SignedSAP)
	k.tree.pruneAncestors(sap.Prefix)

	if sap.Prefix.Matches(selfName) {
		k.ourSignedSAP = update.SignedSAP
		k.ourPrefix = sap.Prefix
	}
	if update.Members != nil {
		for _, m := range update.Members.Members {
			switch m.State {
			case sectionchain.Left:
				delete(k.members, m.Name)
			default:
				k.members[m.Name] = m
			}
		}
	}

	return true, nil
}
