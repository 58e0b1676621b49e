// Package networkknowledge holds a node's view of the section tree and
// section chain, and the single operation — UpdateIfValid — through which
// that view is ever allowed to change.
package networkknowledge

import (
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/xorname"
)

// Tree maps prefixes to the signed SAP that currently governs them, kept
// so that for any XorName there is a unique longest-prefix match.
type Tree struct {
	entries map[xorname.Prefix]sectionchain.SignedSAP
}

func newTree() *Tree {
	return &Tree{entries: make(map[xorname.Prefix]sectionchain.SignedSAP)}
}

// Get returns the signed SAP stored for an exact prefix.
func (t *Tree) Get(p xorname.Prefix) (sectionchain.SignedSAP, bool) {
	sap, ok := t.entries[p]
	return sap, ok
}

// ClosestMatch returns the entry whose prefix is the longest match for
// name.
func (t *Tree) ClosestMatch(name xorname.XorName) (sectionchain.SignedSAP, xorname.Prefix, bool) {
	var best xorname.Prefix
	var bestSAP sectionchain.SignedSAP
	found := false
	for p, sap := range t.entries {
		if !p.Matches(name) {
			continue
		}
		if !found || p.Len() > best.Len() {
			best, bestSAP, found = p, sap, true
		}
	}
	return bestSAP, best, found
}

func (t *Tree) set(p xorname.Prefix, sap sectionchain.SignedSAP) {
	t.entries[p] = sap
}

// pruneAncestors removes entries whose prefix is a strict ancestor of p:
// a split makes those entries redundant once a more specific SAP for p is
// known (§4.1 rule 5).
func (t *Tree) pruneAncestors(p xorname.Prefix) {
	for existing := range t.entries {
		if p.IsExtensionOf(existing) {
			delete(t.entries, existing)
		}
	}
}

// Prefixes returns every prefix currently known, for diagnostics and tests.
func (t *Tree) Prefixes() []xorname.Prefix {
	out := make([]xorname.Prefix, 0, len(t.entries))
	for p := range t.entries {
		out = append(out, p)
	}
	return out
}
