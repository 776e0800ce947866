package navigationcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPollerDelaySchedule(t *testing.T) {
	poller := NewConfirmationPoller(&fakeReadModel{}, newFakeClock(), DefaultTimings(), zap.NewNop())
	want := []time.Duration{
		250 * time.Millisecond,
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	got := poller.Delays()
	if len(got) != len(want) {
		t.Fatalf("expected %d delays, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestPollerCustomTimings(t *testing.T) {
	timings := Timings{PollBase: 100 * time.Millisecond, PollMax: 300 * time.Millisecond, PollAttempts: 4}
	poller := NewConfirmationPoller(&fakeReadModel{}, newFakeClock(), timings, zap.NewNop())
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	got := poller.Delays()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delay %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestConfirmExhaustsBudget(t *testing.T) {
	read := &fakeReadModel{current: "P0"}
	clock := newFakeClock()
	poller := NewConfirmationPoller(read, clock, DefaultTimings(), zap.NewNop())

	if poller.Confirm(context.Background(), "dev1", "P1") {
		t.Fatalf("expected no confirmation")
	}
	if read.Queries() != 8 {
		t.Fatalf("expected 8 queries, got %d", read.Queries())
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 8 {
		t.Fatalf("expected 8 waits, got %d", len(sleeps))
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Fatalf("delays decreased: %v", sleeps)
		}
		if sleeps[i] > 5*time.Second {
			t.Fatalf("delay above cap: %v", sleeps)
		}
	}
}

func TestConfirmStopsOnMatch(t *testing.T) {
	read := &fakeReadModel{current: "P1"}
	poller := NewConfirmationPoller(read, newFakeClock(), DefaultTimings(), zap.NewNop())

	if !poller.Confirm(context.Background(), "dev1", "P1") {
		t.Fatalf("expected confirmation")
	}
	if read.Queries() != 1 {
		t.Fatalf("expected 1 query, got %d", read.Queries())
	}
}

func TestConfirmToleratesErrors(t *testing.T) {
	read := &fakeReadModel{current: "P1", errsLeft: 3}
	poller := NewConfirmationPoller(read, newFakeClock(), DefaultTimings(), zap.NewNop())

	if !poller.Confirm(context.Background(), "dev1", "P1") {
		t.Fatalf("expected confirmation after errors")
	}
	if read.Queries() != 4 {
		t.Fatalf("expected 4 queries, got %d", read.Queries())
	}
}

func TestConfirmCancelled(t *testing.T) {
	read := &fakeReadModel{current: "P1"}
	poller := NewConfirmationPoller(read, newFakeClock(), DefaultTimings(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if poller.Confirm(ctx, "dev1", "P1") {
		t.Fatalf("expected false when cancelled")
	}
	if read.Queries() != 0 {
		t.Fatalf("expected no queries, got %d", read.Queries())
	}
}

func TestLoaderSendFailureSkipsPolling(t *testing.T) {
	rec := &recorder{}
	read := &fakeReadModel{current: "P0"}
	device := &fakeDevice{rec: rec, read: read, err: errors.New("offline")}
	poller := NewConfirmationPoller(read, newFakeClock(), DefaultTimings(), zap.NewNop())
	loader := NewPlaylistLoader(device, poller, "dev1", zap.NewNop())

	if loader.Load(context.Background(), "P1") {
		t.Fatalf("expected load failure")
	}
	if read.Queries() != 0 {
		t.Fatalf("expected no polling, got %d queries", read.Queries())
	}
}

func TestLoaderConfirmsLoad(t *testing.T) {
	rec := &recorder{}
	read := &fakeReadModel{current: "P0"}
	device := &fakeDevice{rec: rec, read: read}
	poller := NewConfirmationPoller(read, newFakeClock(), DefaultTimings(), zap.NewNop())
	loader := NewPlaylistLoader(device, poller, "dev1", zap.NewNop())

	if !loader.Load(context.Background(), "P1") {
		t.Fatalf("expected confirmed load")
	}
	if got := rec.list(); len(got) != 1 || got[0] != "load:P1" {
		t.Fatalf("unexpected device trace: %v", got)
	}
}

func TestLoaderRecognisesItsOwnEchoes(t *testing.T) {
	rec := &recorder{}
	read := &fakeReadModel{current: "P0"}
	clock := newFakeClock()
	poller := NewConfirmationPoller(read, clock, DefaultTimings(), zap.NewNop())
	loader := NewPlaylistLoader(&fakeDevice{rec: rec, read: read}, poller, "dev1", zap.NewNop())
	ctx := context.Background()

	loader.Load(ctx, "P1")
	loader.Load(ctx, "P2")
	if loader.LastIssued() != "P2" {
		t.Fatalf("expected last issued P2, got %q", loader.LastIssued())
	}
	if loader.ConsumeEcho("P0") {
		t.Fatalf("never-loaded playlist treated as echo")
	}
	if !loader.ConsumeEcho("P1") {
		t.Fatalf("expected echo of P1")
	}
	if loader.ConsumeEcho("P1") {
		t.Fatalf("echo of P1 matched twice")
	}

	clock.Advance(DefaultTimings().EchoWindow + time.Second)
	if loader.ConsumeEcho("P2") {
		t.Fatalf("echo matched after the window")
	}
}
