package nodeevents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishAndConsume(t *testing.T) {
	b := NewBus(1)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, Event{Kind: CouldNotStoreData, Payload: &CouldNotStoreData{Full: true}}))

	ev := <-b.Events()
	require.Equal(t, CouldNotStoreData, ev.Kind)
}

func TestPublishTimesOutWhenFull(t *testing.T) {
	b := NewBus(1)
	require.NoError(t, b.Publish(context.Background(), Event{Kind: MembershipChanged}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Publish(ctx, Event{Kind: MembershipChanged})
	require.ErrorIs(t, err, ErrBusPublishTimedOut)
}
