// Package faults implements the fault-detection collaborator named in
// spec §6: track_node_issue/untrack_node_issue. Exact issue counts per
// node are kept in a map (untracking requires exact removal, which a
// Bloom filter cannot do); a small dedupe bit-set is layered on top
// purely to suppress duplicate-alert noise — many handlers racing to
// report the same (name, issue) pair within one window should not all
// walk the exact map under lock.
package faults

import (
	"crypto/sha256"
	"sync"

	"github.com/forestrie/go-sectiond/xorname"
)

// IssueType names a category of observed misbehaviour or unreliability.
type IssueType uint8

const (
	IssueCommunication IssueType = iota
	IssueKnowledge
	IssueDkg
	IssueElderVoting
)

// dedupeBitsPerElement and dedupeLeafCount size the noise-suppression
// filter; the window holds on the order of a few thousand distinct
// (name, issue) pairs before its false-positive rate climbs.
const (
	dedupeLeafCount      = 4096
	dedupeBitsPerElement = 10
	dedupeK              = 3
)

// Detector tracks per-node issue counts and answers admission-policy
// queries (is this node suspect enough to propose offline).
type Detector struct {
	mu sync.Mutex

	counts map[xorname.XorName]map[IssueType]int
	dedupe *dedupeFilter
}

// NewDetector constructs an empty Detector.
func NewDetector() (*Detector, error) {
	return &Detector{
		counts: make(map[xorname.XorName]map[IssueType]int),
		dedupe: newDedupeFilter(dedupeLeafCount, dedupeBitsPerElement, dedupeK),
	}, nil
}

func dedupeKey(name xorname.XorName, issue IssueType) []byte {
	sum := sha256.Sum256(append(append([]byte{}, name[:]...), byte(issue)))
	return sum[:]
}

// TrackNodeIssue records one occurrence of issue against name. It reports
// whether this occurrence was likely a duplicate of one already folded
// into the current window. A false result is certain (the pair has not been
// seen in this window); a true result may be a false positive of the dedupe
// filter. The exact count is incremented either way.
func (d *Detector) TrackNodeIssue(name xorname.XorName, issue IssueType) (duplicate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupeKey(name, issue)
	duplicate = d.dedupe.maybeContains(key)
	d.dedupe.insert(key)

	if d.counts[name] == nil {
		d.counts[name] = make(map[IssueType]int)
	}
	d.counts[name][issue]++
	return duplicate
}

// UntrackNodeIssue removes one occurrence of issue against name from the
// exact count. It has no effect on the dedupe filter: a filter can only
// grow, which is acceptable here since it is reset wholesale per window,
// never selectively.
func (d *Detector) UntrackNodeIssue(name xorname.XorName, issue IssueType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	byIssue := d.counts[name]
	if byIssue == nil {
		return
	}
	if byIssue[issue] > 0 {
		byIssue[issue]--
	}
	if byIssue[issue] == 0 {
		delete(byIssue, issue)
	}
	if len(byIssue) == 0 {
		delete(d.counts, name)
	}
}

// IssueCount returns the current exact count of issue against name.
func (d *Detector) IssueCount(name xorname.XorName, issue IssueType) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[name][issue]
}

// ResetWindow clears the dedupe filter, forgetting everything it has
// seen. Exact counts are unaffected.
func (d *Detector) ResetWindow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dedupe.reset()
}
