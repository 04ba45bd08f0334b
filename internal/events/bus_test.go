package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/patchsmith/internal/artifact"
)

func newBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := NewEmbedded()
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := newBus(t)

	var mu sync.Mutex
	var got []artifact.TraceEvent
	cancel, err := bus.Subscribe("run-aaa", func(ev artifact.TraceEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(artifact.TraceEvent{
		RunID: "run-aaa", Event: artifact.EventStageStart, Stage: "planning", Attempt: 1,
	}))
	require.NoError(t, bus.Publish(artifact.TraceEvent{
		RunID: "run-aaa", Event: artifact.EventTerminal, State: "COMPLETE",
	}))
	require.NoError(t, bus.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, artifact.EventStageStart, got[0].Event)
	assert.Equal(t, "COMPLETE", got[1].State)
}

func TestSubscriptionIsScopedToRun(t *testing.T) {
	bus := newBus(t)

	var mu sync.Mutex
	var got []string
	cancel, err := bus.Subscribe("run-bbb", func(ev artifact.TraceEvent) {
		mu.Lock()
		got = append(got, ev.RunID)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, bus.Publish(artifact.TraceEvent{RunID: "run-other", Event: artifact.EventStageEnd}))
	require.NoError(t, bus.Publish(artifact.TraceEvent{RunID: "run-bbb", Event: artifact.EventStageEnd}))
	require.NoError(t, bus.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"run-bbb"}, got)
}
