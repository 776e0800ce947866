package navigationcore

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func newTestQueue(t *testing.T) (*CommandQueue, *fakeSurface, *fakeClock, *CoordinationState) {
	t.Helper()
	surface := &fakeSurface{}
	clock := newFakeClock()
	state := NewCoordinationState("P0")
	queue := NewCommandQueue(context.Background(), state, surface, clock, DefaultTimings().SettleDelay, zap.NewNop())
	t.Cleanup(queue.Close)
	return queue, surface, clock, state
}

func TestQueueDedupsBeforeDispatch(t *testing.T) {
	queue, surface, _, _ := newTestQueue(t)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2, Track: "1"})
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2, Track: "1"})
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	if got := len(surface.Notices()); got != 1 {
		t.Fatalf("expected 1 notice, got %d", got)
	}
}

func TestQueueDedupsAgainstLastDispatch(t *testing.T) {
	queue, surface, clock, _ := newTestQueue(t)
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2})
	clock.Advance(DefaultTimings().SettleDelay)
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2})
	clock.Advance(DefaultTimings().SettleDelay)

	if got := len(surface.Notices()); got != 1 {
		t.Fatalf("expected 1 notice, got %d", got)
	}
}

func TestQueueGatesOnReadiness(t *testing.T) {
	queue, surface, _, _ := newTestQueue(t)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	queue.SetContainerReady(true)
	if got := len(surface.Notices()); got != 0 {
		t.Fatalf("expected no notices before surface ready, got %d", got)
	}
	if _, ok := queue.Pending(); !ok {
		t.Fatalf("expected pending command")
	}

	queue.SetSurfaceReady(true)
	notices := surface.Notices()
	if len(notices) != 1 || notices[0].PlaylistID != "P1" {
		t.Fatalf("unexpected notices: %+v", notices)
	}
	if _, ok := queue.Pending(); ok {
		t.Fatalf("expected empty slot")
	}
}

func TestQueueLastIntentWins(t *testing.T) {
	queue, surface, _, _ := newTestQueue(t)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 1})
	queue.Add(NavigationIntent{PlaylistID: "P2", Position: 3})
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	notices := surface.Notices()
	if len(notices) != 1 {
		t.Fatalf("expected 1 notice, got %d", len(notices))
	}
	if notices[0].PlaylistID != "P2" || notices[0].MontagePosition != 3 {
		t.Fatalf("unexpected notice: %+v", notices[0])
	}
}

func TestQueueSingleFlight(t *testing.T) {
	queue, surface, clock, state := newTestQueue(t)
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 1})
	if got := len(surface.Notices()); got != 1 {
		t.Fatalf("expected 1 notice while settling, got %d", got)
	}
	if !state.Processing() {
		t.Fatalf("expected processing during settle")
	}

	clock.Advance(DefaultTimings().SettleDelay)
	notices := surface.Notices()
	if len(notices) != 2 || notices[1].MontagePosition != 1 {
		t.Fatalf("unexpected notices: %+v", notices)
	}

	clock.Advance(DefaultTimings().SettleDelay)
	if state.Processing() {
		t.Fatalf("expected idle queue")
	}
}

func TestQueueForceRedispatches(t *testing.T) {
	queue, surface, clock, _ := newTestQueue(t)
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2, Force: true})
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 2, Force: true})
	clock.Advance(DefaultTimings().SettleDelay)

	if got := len(surface.Notices()); got != 2 {
		t.Fatalf("expected 2 notices, got %d", got)
	}
}

func TestQueueNotifyFailureAllowsResubmit(t *testing.T) {
	queue, surface, _, state := newTestQueue(t)
	surface.failN = 1
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	if state.Processing() {
		t.Fatalf("expected processing cleared after failure")
	}
	if got := len(surface.Notices()); got != 0 {
		t.Fatalf("expected no delivered notices, got %d", got)
	}

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	if got := len(surface.Notices()); got != 1 {
		t.Fatalf("expected resubmitted notice, got %d", got)
	}
}

func TestQueueRecoversSurfacePanic(t *testing.T) {
	queue, surface, _, state := newTestQueue(t)
	surface.panics = true
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	if state.Processing() {
		t.Fatalf("expected processing cleared after panic")
	}
}

func TestQueueDerivesPlaylistChange(t *testing.T) {
	queue, surface, clock, _ := newTestQueue(t)
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)

	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	clock.Advance(DefaultTimings().SettleDelay)
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 1})
	clock.Advance(DefaultTimings().SettleDelay)
	queue.Add(NavigationIntent{PlaylistID: "P2", Position: 0})

	notices := surface.Notices()
	if len(notices) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(notices))
	}
	if notices[1].IsPlaylistChange {
		t.Fatalf("position change flagged as playlist change")
	}
	if !notices[2].IsPlaylistChange {
		t.Fatalf("expected playlist change flag")
	}
}

func TestQueueCloseDropsPending(t *testing.T) {
	queue, surface, _, _ := newTestQueue(t)
	queue.Add(NavigationIntent{PlaylistID: "P1", Position: 0})
	queue.Close()
	queue.SetContainerReady(true)
	queue.SetSurfaceReady(true)
	if got := len(surface.Notices()); got != 0 {
		t.Fatalf("expected no notices after close, got %d", got)
	}
}
