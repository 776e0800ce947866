package navigationcore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/metrics"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Durable flag keys.
const (
	FlagPreviousPlaylist  = "previous_playlist_id"
	FlagEphemeralPlaylist = "ephemeral_playlist_id"
)

// Phase is the ephemeral lifecycle state.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCreating    Phase = "creating"
	PhaseActive      Phase = "active"
	PhaseTerminating Phase = "terminating"
)

var (
	// ErrEphemeralBusy is returned while a play-now playlist is being created or torn down.
	ErrEphemeralBusy = errors.New("ephemeral playlist busy")
	// ErrSuperseded is returned when a newer navigation won during creation.
	ErrSuperseded = errors.New("play-now superseded by newer navigation")
	// ErrStopped is returned when a stop arrived during creation.
	ErrStopped = errors.New("play-now stopped")
)

// EphemeralRecord tracks the live play-now playlist.
type EphemeralRecord struct {
	TempPlaylistID  string
	Name            string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	PriorPlaylistID string
	Montage         MontageRef
}

// SweepResult counts orphan sweep outcomes.
type SweepResult struct {
	Deleted int
	Failed  int
}

// EphemeralConfig wires an EphemeralLifecycle.
type EphemeralConfig struct {
	Store     ports.PlaylistStore
	Loader    *PlaylistLoader
	Navigator *Navigator
	Flags     ports.FlagStore
	Clock     ports.Clock
	Timings   Timings
	Log       *zap.Logger
}

// EphemeralLifecycle creates, expires and tears down play-now playlists.
// At most one is live at a time.
type EphemeralLifecycle struct {
	mu         sync.Mutex
	phase      Phase
	record     *EphemeralRecord
	creatingID string
	stopSeq    uint64
	createDone chan struct{}
	live       bool
	gen        uint64
	timer      ports.Timer

	store   ports.PlaylistStore
	loader  *PlaylistLoader
	nav     *Navigator
	flags   ports.FlagStore
	clock   ports.Clock
	timings Timings
	log     *zap.Logger
	ctx     context.Context
}

// NewEphemeralLifecycle creates an idle lifecycle. ctx bounds timer-driven teardown.
func NewEphemeralLifecycle(ctx context.Context, cfg EphemeralConfig) *EphemeralLifecycle {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &EphemeralLifecycle{
		phase:   PhaseIdle,
		store:   cfg.Store,
		loader:  cfg.Loader,
		nav:     cfg.Navigator,
		flags:   cfg.Flags,
		clock:   cfg.Clock,
		timings: cfg.Timings.WithDefaults(),
		log:     log,
		ctx:     ctx,
	}
}

// PlayNow plays montage immediately through a throwaway playlist that is
// removed when the montage duration elapses.
func (l *EphemeralLifecycle) PlayNow(ctx context.Context, montage MontageRef) (EphemeralRecord, error) {
	if montage.ID == "" {
		return EphemeralRecord{}, errors.New("montage id is required")
	}
	seq := l.nav.Reserve()

	l.mu.Lock()
	if l.phase == PhaseCreating || l.phase == PhaseTerminating {
		l.mu.Unlock()
		return EphemeralRecord{}, ErrEphemeralBusy
	}
	var replaced *EphemeralRecord
	prior := l.nav.State().PlaylistID
	if l.record != nil {
		old := *l.record
		replaced = &old
		prior = old.PriorPlaylistID
		l.deactivateLocked()
		l.record = nil
	}
	l.phase = PhaseCreating
	l.stopSeq = 0
	done := make(chan struct{})
	l.createDone = done
	l.mu.Unlock()
	defer close(done)

	if replaced != nil {
		l.log.Info("replacing ephemeral playlist", zap.String("playlist", replaced.TempPlaylistID))
		l.release(ctx, *replaced, true, 0)
	}

	l.putFlag(ctx, FlagPreviousPlaylist, prior)
	now := l.clock.Now()
	name := EphemeralName(now)
	created, err := l.store.CreatePlaylist(ctx, name)
	if err != nil {
		l.abortCreate(ctx)
		return EphemeralRecord{}, fmt.Errorf("create ephemeral playlist: %w", err)
	}
	l.mu.Lock()
	l.creatingID = created.ID
	l.mu.Unlock()
	l.putFlag(ctx, FlagEphemeralPlaylist, created.ID)

	record := EphemeralRecord{
		TempPlaylistID:  created.ID,
		Name:            name,
		CreatedAt:       now,
		PriorPlaylistID: prior,
		Montage:         montage,
	}

	updated, err := l.store.UpdatePlaylist(ctx, created.ID, mp.PlaylistUpdate{
		Name:       name,
		MontageIDs: []string{montage.ID},
		Flags:      []bool{false},
	})
	if err != nil {
		l.deletePlaylist(ctx, created.ID)
		l.abortCreate(ctx)
		return EphemeralRecord{}, fmt.Errorf("fill ephemeral playlist: %w", err)
	}
	if stopSeq := l.pendingStop(); stopSeq != 0 {
		return EphemeralRecord{}, l.abandon(ctx, record, false, stopSeq)
	}
	playlist := PlaylistFromRecord(updated)
	playlist.ID = created.ID
	playlist.Name = name
	if len(playlist.Montages) == 0 {
		playlist.Montages = []MontageRef{montage}
	}
	l.nav.Catalog().Upsert(playlist)

	if !l.loader.Load(ctx, created.ID) {
		l.log.Info("ephemeral playlist not confirmed, proceeding", zap.String("playlist", created.ID))
	}
	if stopSeq := l.pendingStop(); stopSeq != 0 {
		return EphemeralRecord{}, l.abandon(ctx, record, true, stopSeq)
	}
	zero := 0
	res := l.nav.Navigate(NavigateRequest{
		PlaylistID: created.ID,
		Position:   &zero,
		Origin:     OriginEphemeral,
		Seq:        seq,
		Loaded:     true,
	})
	if !res.Accepted {
		l.log.Info("play-now superseded", zap.String("playlist", created.ID), zap.String("reason", string(res.Reason)))
		l.mu.Lock()
		l.phase = PhaseTerminating
		l.mu.Unlock()
		l.leaveTemp(ctx, created.ID)
		l.release(ctx, record, false, 0)
		l.mu.Lock()
		l.creatingID = ""
		l.phase = PhaseIdle
		l.mu.Unlock()
		return EphemeralRecord{}, ErrSuperseded
	}

	lifetime := montage.Duration + l.timings.EphemeralBuffer
	l.mu.Lock()
	if stopSeq := l.stopSeq; stopSeq != 0 {
		l.mu.Unlock()
		return EphemeralRecord{}, l.abandon(ctx, record, true, stopSeq)
	}
	record.ExpiresAt = l.clock.Now().Add(lifetime)
	l.record = &record
	l.creatingID = ""
	l.live = true
	l.phase = PhaseActive
	l.gen++
	gen := l.gen
	l.mu.Unlock()

	timer := l.clock.AfterFunc(lifetime, func() { l.expire(gen) })
	l.mu.Lock()
	if l.gen == gen && l.live {
		l.timer = timer
	} else {
		timer.Stop()
	}
	l.mu.Unlock()

	metrics.RecordEphemeral("created")
	metrics.SetEphemeralLive(true)
	l.log.Info("ephemeral playlist active",
		zap.String("playlist", record.TempPlaylistID),
		zap.String("montage", montage.ID),
		zap.Duration("lifetime", lifetime),
		zap.String("prior", prior),
	)
	return record, nil
}

func (l *EphemeralLifecycle) pendingStop() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopSeq
}

// abandon tears down a playlist that was still being created when a stop
// arrived, restoring the prior playlist under the stop's sequence.
func (l *EphemeralLifecycle) abandon(ctx context.Context, record EphemeralRecord, loaded bool, stopSeq uint64) error {
	l.log.Info("play-now stopped during creation", zap.String("playlist", record.TempPlaylistID))
	l.mu.Lock()
	l.phase = PhaseTerminating
	l.mu.Unlock()
	l.release(ctx, record, loaded, stopSeq)
	l.mu.Lock()
	l.creatingID = ""
	l.stopSeq = 0
	l.phase = PhaseIdle
	l.mu.Unlock()
	metrics.RecordEphemeral("terminated")
	return ErrStopped
}

// leaveTemp moves the device off tempID when nothing newer has been loaded
// since, so deleting it does not leave the device on a missing playlist.
func (l *EphemeralLifecycle) leaveTemp(ctx context.Context, tempID string) {
	if l.loader.LastIssued() != tempID || l.nav.LoadInProgress() {
		return
	}
	snap := l.nav.State()
	if snap.PlaylistID == "" || snap.PlaylistID == tempID {
		if err := l.loader.StopDevice(ctx); err != nil {
			l.log.Warn("stop device failed", zap.Error(err))
		}
		return
	}
	position := snap.Position
	l.nav.Navigate(NavigateRequest{
		PlaylistID: snap.PlaylistID,
		Position:   &position,
		Force:      true,
		Reload:     true,
		Origin:     OriginRestore,
	})
	l.nav.WaitLoaded(ctx)
}

// Stop ends the play-now playlist and restores the prior playlist. A stop
// during creation wins: it waits for the creation to unwind.
func (l *EphemeralLifecycle) Stop(ctx context.Context) bool {
	l.mu.Lock()
	if l.phase == PhaseCreating {
		if l.stopSeq == 0 {
			l.stopSeq = l.nav.Reserve()
		}
		done := l.createDone
		l.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return true
	}
	l.mu.Unlock()
	return l.Terminate(ctx, true)
}

// Terminate tears down the live playlist: stop the device, delete the
// playlist (retried once), then optionally restore the prior playlist.
// Without a tracked playlist it does nothing.
func (l *EphemeralLifecycle) Terminate(ctx context.Context, restore bool) bool {
	l.mu.Lock()
	if l.record == nil || l.phase == PhaseTerminating {
		l.mu.Unlock()
		return false
	}
	record := *l.record
	l.phase = PhaseTerminating
	l.deactivateLocked()
	l.mu.Unlock()

	// Navigations made during teardown outrank the restore.
	var restoreSeq uint64
	if restore {
		restoreSeq = l.nav.Reserve()
	}
	l.release(ctx, record, true, restoreSeq)

	l.mu.Lock()
	l.record = nil
	l.phase = PhaseIdle
	l.mu.Unlock()
	metrics.RecordEphemeral("terminated")
	l.log.Info("ephemeral playlist terminated",
		zap.String("playlist", record.TempPlaylistID),
		zap.Bool("restored", restore),
	)
	return true
}

func (l *EphemeralLifecycle) expire(gen uint64) {
	l.mu.Lock()
	if !l.live || gen != l.gen {
		l.mu.Unlock()
		l.log.Debug("ignoring stale ephemeral timer")
		return
	}
	l.mu.Unlock()
	l.Terminate(l.ctx, true)
}

// deactivateLocked clears liveness and cancels the timer.
func (l *EphemeralLifecycle) deactivateLocked() {
	l.live = false
	l.gen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	metrics.SetEphemeralLive(false)
}

// release stops the device when asked, deletes the playlist and restores
// the prior playlist when restoreSeq is set.
func (l *EphemeralLifecycle) release(ctx context.Context, record EphemeralRecord, stopDevice bool, restoreSeq uint64) {
	if stopDevice {
		if err := l.loader.StopDevice(ctx); err != nil {
			l.log.Warn("stop device failed", zap.Error(err))
		}
	}
	if l.deletePlaylist(ctx, record.TempPlaylistID) {
		l.nav.Catalog().Remove(record.TempPlaylistID)
	}
	l.clearFlag(ctx, FlagEphemeralPlaylist)
	if restoreSeq != 0 {
		l.restore(ctx, record.PriorPlaylistID, restoreSeq, stopDevice)
	}
	l.clearFlag(ctx, FlagPreviousPlaylist)
}

func (l *EphemeralLifecycle) abortCreate(ctx context.Context) {
	l.clearFlag(ctx, FlagEphemeralPlaylist)
	l.clearFlag(ctx, FlagPreviousPlaylist)
	l.mu.Lock()
	l.creatingID = ""
	l.phase = PhaseIdle
	l.mu.Unlock()
}

func (l *EphemeralLifecycle) deletePlaylist(ctx context.Context, id string) bool {
	err := l.store.DeletePlaylist(ctx, id)
	if err == nil {
		return true
	}
	l.log.Warn("delete ephemeral playlist failed, retrying", zap.String("playlist", id), zap.Error(err))
	if err := l.clock.Sleep(ctx, l.timings.DeleteRetryDelay); err != nil {
		metrics.RecordEphemeral("delete_failed")
		return false
	}
	if err := l.store.DeletePlaylist(ctx, id); err != nil {
		metrics.RecordEphemeral("delete_failed")
		l.log.Warn("delete ephemeral playlist failed, leaving for sweep", zap.String("playlist", id), zap.Error(err))
		return false
	}
	return true
}

// restore navigates back to prior under seq through the navigator's device
// sync and waits for the load. A newer navigation makes it a no-op.
func (l *EphemeralLifecycle) restore(ctx context.Context, prior string, seq uint64, reload bool) {
	zero := 0
	res := l.nav.Navigate(NavigateRequest{
		PlaylistID: prior,
		Position:   &zero,
		Force:      true,
		Origin:     OriginRestore,
		Seq:        seq,
		Reload:     reload,
	})
	if !res.Accepted {
		l.log.Info("restore skipped", zap.String("playlist", prior), zap.String("reason", string(res.Reason)))
		return
	}
	l.nav.WaitLoaded(ctx)
}

// Sweep deletes every ephemeral playlist in playlists except the live one.
// Failures are logged and the sweep continues.
func (l *EphemeralLifecycle) Sweep(ctx context.Context, playlists []PlaylistRef) SweepResult {
	l.mu.Lock()
	keep := map[string]bool{}
	if l.record != nil {
		keep[l.record.TempPlaylistID] = true
	}
	if l.creatingID != "" {
		keep[l.creatingID] = true
	}
	l.mu.Unlock()

	var res SweepResult
	for _, p := range playlists {
		if !IsEphemeralName(p.Name) || keep[p.ID] {
			continue
		}
		if err := l.store.DeletePlaylist(ctx, p.ID); err != nil {
			res.Failed++
			metrics.RecordEphemeral("sweep_failed")
			l.log.Warn("sweep delete failed", zap.String("playlist", p.ID), zap.String("name", p.Name), zap.Error(err))
			continue
		}
		res.Deleted++
		metrics.RecordEphemeral("swept")
		l.nav.Catalog().Remove(p.ID)
	}
	if res.Deleted > 0 || res.Failed > 0 {
		l.log.Info("ephemeral sweep finished", zap.Int("deleted", res.Deleted), zap.Int("failed", res.Failed))
	}
	return res
}

// SweepIfNeeded sweeps playlists when their count exceeds the threshold.
func (l *EphemeralLifecycle) SweepIfNeeded(ctx context.Context, playlists []PlaylistRef) SweepResult {
	if len(playlists) <= l.timings.SweepThreshold {
		return SweepResult{}
	}
	return l.Sweep(ctx, playlists)
}

// Recover restores a prior playlist left behind by an interrupted session.
func (l *EphemeralLifecycle) Recover(ctx context.Context) bool {
	if l.flags == nil {
		return false
	}
	prior, ok, err := l.flags.Get(ctx, FlagPreviousPlaylist)
	if err != nil {
		l.log.Warn("read previous playlist flag failed", zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	l.mu.Lock()
	busy := l.record != nil || l.phase != PhaseIdle
	l.mu.Unlock()
	if busy {
		return false
	}

	if tempID, ok, err := l.flags.Get(ctx, FlagEphemeralPlaylist); err == nil && ok && tempID != "" {
		if l.deletePlaylist(ctx, tempID) {
			l.nav.Catalog().Remove(tempID)
		}
	}
	l.log.Info("restoring playlist from interrupted session", zap.String("playlist", prior))
	l.restore(ctx, prior, l.nav.Reserve(), true)
	l.clearFlag(ctx, FlagEphemeralPlaylist)
	l.clearFlag(ctx, FlagPreviousPlaylist)
	return true
}

// Active returns the live record, if any.
func (l *EphemeralLifecycle) Active() (EphemeralRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.record == nil {
		return EphemeralRecord{}, false
	}
	return *l.record, true
}

// Live reports the liveness flag.
func (l *EphemeralLifecycle) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.live
}

// Phase returns the current lifecycle phase.
func (l *EphemeralLifecycle) Phase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

// Close cancels a pending expiry without tearing down.
func (l *EphemeralLifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.gen++
}

func (l *EphemeralLifecycle) putFlag(ctx context.Context, key, value string) {
	if l.flags == nil {
		return
	}
	if err := l.flags.Put(ctx, key, value); err != nil {
		l.log.Warn("persist flag failed", zap.String("key", key), zap.Error(err))
	}
}

func (l *EphemeralLifecycle) clearFlag(ctx context.Context, key string) {
	if l.flags == nil {
		return
	}
	if err := l.flags.Clear(ctx, key); err != nil {
		l.log.Warn("clear flag failed", zap.String("key", key), zap.Error(err))
	}
}
