package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAssignsTablePriorities(t *testing.T) {
	require.Equal(t, int32(PriorityControlDecision), New(HandleAgreement, nil).Priority)
	require.Equal(t, int32(PriorityControlDecision), New(ProposeOffline, nil).Priority)
	require.Equal(t, int32(PriorityControlFollowup), New(HandleDkgTimeout, nil).Priority)
	require.Equal(t, int32(PriorityDeferred), New(TestConnectivity, nil).Priority)
	require.Equal(t, int32(PriorityMaintenance), New(CleanupPeerLinks, nil).Priority)
}

func TestNewPanicsOnWirePriorityKind(t *testing.T) {
	require.Panics(t, func() { New(SendMsg, nil) })
}

func TestNewWithPriorityInheritsWirePriority(t *testing.T) {
	c := NewWithPriority(SendMsg, 42, "payload")
	require.Equal(t, int32(42), c.Priority)
	require.Equal(t, "payload", c.Payload)
}

func TestIDsAreMonotonic(t *testing.T) {
	a := New(HandleAgreement, nil)
	b := New(HandleAgreement, nil)
	require.Less(t, a.ID, b.ID)
}
