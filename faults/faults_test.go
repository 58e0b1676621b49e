package faults

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-sectiond/xorname"
)

func TestTrackAndUntrackNodeIssue(t *testing.T) {
	d, err := NewDetector()
	require.NoError(t, err)

	name := xorname.FromContent([]byte("peer-a"))

	d.TrackNodeIssue(name, IssueCommunication)
	d.TrackNodeIssue(name, IssueCommunication)
	require.Equal(t, 2, d.IssueCount(name, IssueCommunication))

	d.UntrackNodeIssue(name, IssueCommunication)
	require.Equal(t, 1, d.IssueCount(name, IssueCommunication))

	d.UntrackNodeIssue(name, IssueCommunication)
	require.Equal(t, 0, d.IssueCount(name, IssueCommunication))
}

func TestTrackNodeIssueFlagsDuplicatesWithinWindow(t *testing.T) {
	d, err := NewDetector()
	require.NoError(t, err)

	name := xorname.FromContent([]byte("peer-b"))

	first := d.TrackNodeIssue(name, IssueDkg)
	require.False(t, first)

	second := d.TrackNodeIssue(name, IssueDkg)
	require.True(t, second, "a repeated (name, issue) pair in the same window should be flagged as likely duplicate")
}

func TestResetWindowClearsDedupeButNotCounts(t *testing.T) {
	d, err := NewDetector()
	require.NoError(t, err)

	name := xorname.FromContent([]byte("peer-c"))
	d.TrackNodeIssue(name, IssueKnowledge)

	d.ResetWindow()

	first := d.TrackNodeIssue(name, IssueKnowledge)
	require.False(t, first, "after a reset the dedupe filter should no longer recognise a previously seen pair")
	require.Equal(t, 2, d.IssueCount(name, IssueKnowledge))
}
