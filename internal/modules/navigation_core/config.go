package navigationcore

import "time"

// Timings holds the tunable delays of the navigation core.
type Timings struct {
	// PollBase is the delay before the first confirmation query. It doubles per attempt.
	PollBase time.Duration
	// PollMax caps a single confirmation delay.
	PollMax time.Duration
	// PollAttempts bounds the number of confirmation queries.
	PollAttempts int
	// SettleDelay keeps the queue busy after a dispatch.
	SettleDelay time.Duration
	// ChangeWindow is how long a playlist switch suppresses auto-sync navigation.
	ChangeWindow time.Duration
	// EphemeralBuffer is added to an item's duration before an ephemeral playlist expires.
	EphemeralBuffer time.Duration
	// DeleteRetryDelay separates the two delete attempts during teardown.
	DeleteRetryDelay time.Duration
	// SweepThreshold is the playlist count above which a catalog load triggers a sweep.
	SweepThreshold int
	// EchoWindow is how long a device report of a load this navigator
	// issued is treated as an echo.
	EchoWindow time.Duration
}

// DefaultTimings returns the production defaults.
func DefaultTimings() Timings {
	return Timings{
		PollBase:         250 * time.Millisecond,
		PollMax:          5 * time.Second,
		PollAttempts:     8,
		SettleDelay:      150 * time.Millisecond,
		ChangeWindow:     2 * time.Second,
		EphemeralBuffer:  time.Second,
		DeleteRetryDelay: time.Second,
		SweepThreshold:   1,
		EchoWindow:       30 * time.Second,
	}
}

// WithDefaults replaces unset or negative fields with DefaultTimings values.
func (t Timings) WithDefaults() Timings {
	def := DefaultTimings()
	if t.PollBase <= 0 {
		t.PollBase = def.PollBase
	}
	if t.PollMax <= 0 {
		t.PollMax = def.PollMax
	}
	if t.PollMax < t.PollBase {
		t.PollMax = t.PollBase
	}
	if t.PollAttempts <= 0 {
		t.PollAttempts = def.PollAttempts
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.ChangeWindow <= 0 {
		t.ChangeWindow = def.ChangeWindow
	}
	if t.EphemeralBuffer <= 0 {
		t.EphemeralBuffer = def.EphemeralBuffer
	}
	if t.DeleteRetryDelay <= 0 {
		t.DeleteRetryDelay = def.DeleteRetryDelay
	}
	if t.SweepThreshold <= 0 {
		t.SweepThreshold = def.SweepThreshold
	}
	if t.EchoWindow <= 0 {
		t.EchoWindow = def.EchoWindow
	}
	return t
}
