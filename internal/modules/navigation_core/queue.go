package navigationcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/metrics"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

const notifyTimeout = 5 * time.Second

// CommandQueue serializes navigation notices to the playback surface.
// It holds at most one pending command; newer commands replace it.
type CommandQueue struct {
	mu             sync.Mutex
	containerReady bool
	surfaceReady   bool
	pending        *NavigationIntent
	settleTimer    ports.Timer
	closed         bool

	state   *CoordinationState
	surface ports.Surface
	clock   ports.Clock
	settle  time.Duration
	ctx     context.Context
	log     *zap.Logger
}

// NewCommandQueue creates a queue that starts not ready.
func NewCommandQueue(ctx context.Context, state *CoordinationState, surface ports.Surface, clock ports.Clock, settle time.Duration, log *zap.Logger) *CommandQueue {
	if log == nil {
		log = zap.NewNop()
	}
	return &CommandQueue{
		state:   state,
		surface: surface,
		clock:   clock,
		settle:  settle,
		ctx:     ctx,
		log:     log,
	}
}

// SetContainerReady records host readiness and flushes on a ready transition.
func (q *CommandQueue) SetContainerReady(ready bool) {
	q.mu.Lock()
	was := q.containerReady
	q.containerReady = ready
	q.mu.Unlock()
	if ready && !was {
		q.flush()
	}
}

// SetSurfaceReady records surface readiness and flushes on a ready transition.
func (q *CommandQueue) SetSurfaceReady(ready bool) {
	q.mu.Lock()
	was := q.surfaceReady
	q.surfaceReady = ready
	q.mu.Unlock()
	if ready && !was {
		q.flush()
	}
}

// Ready reports whether both readiness signals are set.
func (q *CommandQueue) Ready() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.containerReady && q.surfaceReady
}

// Pending returns the command waiting for dispatch, if any.
func (q *CommandQueue) Pending() (NavigationIntent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return NavigationIntent{}, false
	}
	return *q.pending, true
}

// Add enqueues intent. A non-forced intent equal to the last dispatched
// command is dropped together with any older pending command.
func (q *CommandQueue) Add(intent NavigationIntent) {
	if !intent.Force {
		if last, ok := q.state.lastDispatched(); ok && last == intent.key() {
			q.mu.Lock()
			q.pending = nil
			q.mu.Unlock()
			metrics.IncQueueDeduplicated()
			q.log.Debug("command matches last dispatch",
				zap.String("playlist", intent.PlaylistID),
				zap.Int("position", intent.Position),
			)
			return
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	pending := intent
	q.pending = &pending
	q.mu.Unlock()
	q.flush()
}

// Close drops pending work and cancels the settle timer.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.pending = nil
	if q.settleTimer != nil {
		q.settleTimer.Stop()
		q.settleTimer = nil
	}
}

func (q *CommandQueue) flush() {
	q.mu.Lock()
	if q.closed || !q.containerReady || !q.surfaceReady || q.pending == nil {
		q.mu.Unlock()
		return
	}
	intent := *q.pending
	prev, hadPrev, ok := q.state.beginDispatch(intent.key())
	if !ok {
		q.mu.Unlock()
		return
	}
	q.pending = nil
	q.mu.Unlock()

	notice := mp.NavigationNotice{
		PlaylistID:       intent.PlaylistID,
		MontagePosition:  intent.Position,
		Track:            intent.Track,
		TS:               q.clock.Now().UnixMilli(),
		IsPlaylistChange: intent.PlaylistChange || (hadPrev && prev.playlistID != intent.PlaylistID),
		Seq:              intent.Seq,
	}
	if err := q.notify(notice); err != nil {
		metrics.RecordNotice(false)
		q.log.Warn("navigation notice failed",
			zap.String("playlist", intent.PlaylistID),
			zap.Int("position", intent.Position),
			zap.Error(err),
		)
		q.state.abortDispatch(prev, hadPrev)
		q.flush()
		return
	}
	metrics.RecordNotice(true)
	q.log.Debug("navigation notice sent",
		zap.String("playlist", notice.PlaylistID),
		zap.Int("position", notice.MontagePosition),
		zap.String("track", notice.Track),
		zap.Bool("playlist_change", notice.IsPlaylistChange),
		zap.Uint64("seq", notice.Seq),
	)

	timer := q.clock.AfterFunc(q.settle, q.settled)
	q.mu.Lock()
	if q.closed {
		timer.Stop()
	} else {
		q.settleTimer = timer
	}
	q.mu.Unlock()
}

func (q *CommandQueue) settled() {
	q.mu.Lock()
	q.settleTimer = nil
	q.mu.Unlock()
	q.state.endDispatch()
	q.flush()
}

func (q *CommandQueue) notify(notice mp.NavigationNotice) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("surface panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(q.ctx, notifyTimeout)
	defer cancel()
	return q.surface.Notify(ctx, notice)
}
