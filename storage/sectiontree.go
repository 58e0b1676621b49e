package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/forestrie/go-sectiond/networkknowledge"
	"github.com/forestrie/go-sectiond/sectionchain"
	"github.com/forestrie/go-sectiond/wiremsg"
)

// sectionTreeWire is the CBOR-shaped mirror of networkknowledge.Snapshot,
// reusing wiremsg's wire forms for SAPs, edges, and members so the on-disk
// format and the wire format stay in lockstep.
type sectionTreeWire struct {
	Genesis      []byte               `cbor:"1,keyasint"`
	ChainEdges   []wiremsg.EdgeWire   `cbor:"2,keyasint"`
	TreeEntries  []wiremsg.SignedSAPWire `cbor:"3,keyasint"`
	OurPrefix    []byte               `cbor:"4,keyasint"`
	OurPrefixLen uint                 `cbor:"5,keyasint"`
	Members      []wiremsg.NodeStateWire `cbor:"6,keyasint"`
}

func encodeSnapshot(snap networkknowledge.Snapshot) ([]byte, error) {
	genesis, err := sectionchain.MarshalKey(snap.Genesis)
	if err != nil {
		return nil, fmt.Errorf("storage: marshalling genesis key: %w", err)
	}

	w := sectionTreeWire{
		Genesis:      genesis,
		OurPrefix:    append([]byte(nil), snap.OurPrefix...),
		OurPrefixLen: snap.OurPrefixLen,
	}

	for _, e := range snap.ChainEdges {
		ew, err := wiremsg.MarshalEdge(e)
		if err != nil {
			return nil, fmt.Errorf("storage: marshalling chain edge: %w", err)
		}
		w.ChainEdges = append(w.ChainEdges, ew)
	}

	for _, sap := range snap.TreeEntries {
		update, err := wiremsg.MarshalSAP(sap, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("storage: marshalling tree entry: %w", err)
		}
		w.TreeEntries = append(w.TreeEntries, update.SignedSAP)
	}

	for _, m := range snap.Members {
		w.Members = append(w.Members, wiremsg.MarshalNodeState(m))
	}

	b, err := cbor.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("storage: encoding section tree: %w", err)
	}
	return b, nil
}

func decodeSnapshot(b []byte) (networkknowledge.Snapshot, error) {
	var w sectionTreeWire
	if err := cbor.Unmarshal(b, &w); err != nil {
		return networkknowledge.Snapshot{}, fmt.Errorf("storage: decoding section tree: %w", err)
	}

	genesis, err := sectionchain.UnmarshalKey(w.Genesis)
	if err != nil {
		return networkknowledge.Snapshot{}, fmt.Errorf("storage: unmarshalling genesis key: %w", err)
	}

	snap := networkknowledge.Snapshot{
		Genesis:      genesis,
		OurPrefix:    w.OurPrefix,
		OurPrefixLen: w.OurPrefixLen,
	}

	for _, ew := range w.ChainEdges {
		e, err := wiremsg.UnmarshalEdge(ew)
		if err != nil {
			return networkknowledge.Snapshot{}, fmt.Errorf("storage: unmarshalling chain edge: %w", err)
		}
		snap.ChainEdges = append(snap.ChainEdges, e)
	}

	for _, sw := range w.TreeEntries {
		signed, _, _, err := wiremsg.UnmarshalSAP(wiremsg.SectionTreeUpdateWire{SignedSAP: sw})
		if err != nil {
			return networkknowledge.Snapshot{}, fmt.Errorf("storage: unmarshalling tree entry: %w", err)
		}
		snap.TreeEntries = append(snap.TreeEntries, signed)
	}

	for _, mw := range w.Members {
		snap.Members = append(snap.Members, wiremsg.UnmarshalNodeState(mw))
	}

	return snap, nil
}

// LoadSectionTreeFile decodes a section tree snapshot from an arbitrary
// file path, independent of a FileStore's root_dir layout. Used to load
// the --network-contacts-file a joining node is pre-seeded with (§6),
// which is a standalone file rather than an object under a node's own
// storage root.
func LoadSectionTreeFile(path string) (*networkknowledge.Knowledge, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: reading network contacts file %s: %w", path, err)
	}
	snap, err := decodeSnapshot(b)
	if err != nil {
		return nil, err
	}
	return networkknowledge.Restore(snap)
}

// SaveSectionTree persists knowledge's current state.
func SaveSectionTree(ctx context.Context, w ObjectWriter, k *networkknowledge.Knowledge) error {
	b, err := encodeSnapshot(k.TakeSnapshot())
	if err != nil {
		return err
	}
	return w.Write(ctx, ObjectSectionTree, b)
}

// LoadSectionTree reads a previously persisted Knowledge, or ErrDoesNotExist
// on first boot.
func LoadSectionTree(ctx context.Context, r ObjectReader) (*networkknowledge.Knowledge, error) {
	b, err := r.Read(ctx, ObjectSectionTree)
	if err != nil {
		return nil, err
	}
	snap, err := decodeSnapshot(b)
	if err != nil {
		return nil, err
	}
	return networkknowledge.Restore(snap)
}
