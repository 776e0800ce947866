package navigationcore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/metrics"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Reason explains why a navigation was not accepted.
type Reason string

const (
	ReasonDuplicate  Reason = "duplicate"
	ReasonSuppressed Reason = "suppressed"
	ReasonStale      Reason = "stale"
	ReasonClosed     Reason = "closed"
)

// NavigateRequest asks the navigator to show a position.
type NavigateRequest struct {
	PlaylistID string
	// Position defaults to 0 when nil.
	Position *int
	// Force bypasses duplicate suppression.
	Force  bool
	Origin Origin
	// Seq is a sequence from Reserve. Zero assigns a fresh one.
	Seq uint64
	// Loaded skips the device load because the caller already confirmed it.
	Loaded bool
	// Reload loads the playlist even when it is already current.
	Reload bool
}

// NavigationResult reports the outcome of Navigate.
type NavigationResult struct {
	Accepted bool
	Reason   Reason
	Intent   NavigationIntent
	Overlay  mp.Overlay
}

// NavigatorConfig wires a Navigator.
type NavigatorConfig struct {
	State     *CoordinationState
	Catalog   *Catalog
	Queue     *CommandQueue
	Loader    *PlaylistLoader
	Clock     ports.Clock
	Timings   Timings
	ScreenID  string
	OnOverlay func(mp.Overlay)
	Log       *zap.Logger
}

// Navigator turns navigation requests into device loads and surface notices.
type Navigator struct {
	state   *CoordinationState
	catalog *Catalog
	queue   *CommandQueue
	loader  *PlaylistLoader
	clock   ports.Clock
	timings Timings
	log     *zap.Logger

	seq atomic.Uint64

	mu        sync.Mutex
	screenID  string
	overlay   mp.Overlay
	onOverlay func(mp.Overlay)
	closed    bool

	syncMu      sync.Mutex
	syncClosed  bool
	loading     bool
	syncPending []syncItem
	idle        chan struct{}
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

type syncItem struct {
	intent NavigationIntent
	load   bool
}

// NewNavigator creates a navigator. Close releases it.
func NewNavigator(ctx context.Context, cfg NavigatorConfig) *Navigator {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	state := cfg.State
	if state == nil {
		state = NewCoordinationState("")
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Navigator{
		state:     state,
		catalog:   catalog,
		queue:     cfg.Queue,
		loader:    cfg.Loader,
		clock:     cfg.Clock,
		timings:   cfg.Timings.WithDefaults(),
		log:       log,
		screenID:  cfg.ScreenID,
		overlay:   mp.Overlay{Track: DefaultTrack},
		onOverlay: cfg.OnOverlay,
		idle:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Reserve returns a fresh sequence number for a navigation issued later.
func (n *Navigator) Reserve() uint64 {
	return n.seq.Add(1)
}

// Navigate applies req. It never blocks on the device.
func (n *Navigator) Navigate(req NavigateRequest) NavigationResult {
	origin := req.Origin
	if origin == "" {
		origin = OriginUser
	}
	seq := req.Seq
	if seq == 0 {
		seq = n.Reserve()
	}
	position := normalizePosition(req.Position)
	key := commandKey{playlistID: req.PlaylistID, position: position}

	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return n.reject(origin, ReasonClosed, req.PlaylistID, position)
	}

	now := n.clock.Now()
	n.state.mu.Lock()
	if seq <= n.state.lastSeq {
		n.state.mu.Unlock()
		return n.reject(origin, ReasonStale, req.PlaylistID, position)
	}
	if origin == OriginAutoSync && now.Before(n.state.changingUntil) {
		n.state.mu.Unlock()
		return n.reject(origin, ReasonSuppressed, req.PlaylistID, position)
	}
	if !req.Force && n.state.hasAccepted && n.state.lastAccepted == key {
		n.state.mu.Unlock()
		return n.reject(origin, ReasonDuplicate, req.PlaylistID, position)
	}
	change := req.PlaylistID != n.state.currentPlaylistID
	n.state.lastSeq = seq
	n.state.lastAccepted = key
	n.state.hasAccepted = true
	n.state.position = position
	if change {
		n.state.currentPlaylistID = req.PlaylistID
		n.state.changingUntil = now.Add(n.timings.ChangeWindow)
	}
	n.state.mu.Unlock()

	overlay := n.resolve(req.PlaylistID, position)
	n.setOverlay(overlay)

	intent := NavigationIntent{
		Seq:            seq,
		PlaylistID:     req.PlaylistID,
		Position:       position,
		Track:          overlay.Track,
		Force:          req.Force,
		PlaylistChange: change,
		Origin:         origin,
	}
	n.submit(intent, (change || req.Reload) && !req.Loaded && n.loader != nil)

	metrics.RecordNavigation(string(origin), "accepted")
	n.log.Debug("navigation accepted",
		zap.String("playlist", intent.PlaylistID),
		zap.Int("position", intent.Position),
		zap.String("track", intent.Track),
		zap.Bool("playlist_change", change),
		zap.String("origin", string(origin)),
		zap.Uint64("seq", seq),
	)
	return NavigationResult{Accepted: true, Intent: intent, Overlay: overlay}
}

func (n *Navigator) reject(origin Origin, reason Reason, playlistID string, position int) NavigationResult {
	metrics.RecordNavigation(string(origin), string(reason))
	n.log.Debug("navigation dropped",
		zap.String("playlist", playlistID),
		zap.Int("position", position),
		zap.String("origin", string(origin)),
		zap.String("reason", string(reason)),
	)
	return NavigationResult{Reason: reason, Overlay: n.Overlay()}
}

// submit routes intent to the device sync when a load is needed or already
// running, otherwise straight to the queue.
func (n *Navigator) submit(intent NavigationIntent, load bool) {
	n.syncMu.Lock()
	if n.syncClosed {
		n.syncMu.Unlock()
		return
	}
	if !load && !n.loading {
		n.syncMu.Unlock()
		n.queue.Add(intent)
		return
	}
	n.syncPending = coalesce(n.syncPending, syncItem{intent: intent, load: load})
	if n.loading {
		n.syncMu.Unlock()
		return
	}
	n.loading = true
	n.wg.Add(1)
	n.syncMu.Unlock()
	go n.runSync()
}

// coalesce keeps only the newest item, except that a forced repeat of the
// newest command is kept alongside it.
func coalesce(pending []syncItem, item syncItem) []syncItem {
	if len(pending) == 0 {
		return []syncItem{item}
	}
	last := pending[len(pending)-1]
	if item.intent.Force && last.intent.key() == item.intent.key() {
		return append(pending, item)
	}
	for _, prev := range pending {
		if prev.load && prev.intent.PlaylistID == item.intent.PlaylistID {
			item.load = true
		}
	}
	return []syncItem{item}
}

func (n *Navigator) runSync() {
	defer n.wg.Done()
	var loaded string
	hasLoaded := false
	for {
		n.syncMu.Lock()
		if len(n.syncPending) == 0 || n.ctx.Err() != nil {
			n.syncPending = nil
			n.loading = false
			close(n.idle)
			n.idle = make(chan struct{})
			n.syncMu.Unlock()
			return
		}
		item := n.syncPending[0]
		n.syncPending = n.syncPending[1:]
		n.syncMu.Unlock()

		if item.load && !(hasLoaded && loaded == item.intent.PlaylistID) {
			if !n.loader.Load(n.ctx, item.intent.PlaylistID) {
				n.log.Info("proceeding without confirmation", zap.String("playlist", item.intent.PlaylistID))
			}
			loaded, hasLoaded = item.intent.PlaylistID, true

			n.syncMu.Lock()
			superseded := false
			if len(n.syncPending) > 0 {
				next := n.syncPending[0]
				// A forced repeat of the same command still gets its own notice.
				superseded = !(next.intent.Force && next.intent.key() == item.intent.key())
			}
			n.syncMu.Unlock()
			if superseded {
				continue
			}
		}
		if n.ctx.Err() != nil {
			continue
		}
		n.queue.Add(item.intent)
	}
}

// LoadInProgress reports whether a device load is running.
func (n *Navigator) LoadInProgress() bool {
	n.syncMu.Lock()
	defer n.syncMu.Unlock()
	return n.loading
}

// WaitLoaded blocks until the device sync goes idle or ctx ends.
func (n *Navigator) WaitLoaded(ctx context.Context) {
	n.syncMu.Lock()
	if !n.loading {
		n.syncMu.Unlock()
		return
	}
	idle := n.idle
	n.syncMu.Unlock()
	select {
	case <-idle:
	case <-ctx.Done():
	}
}

// ConsumeEcho reports whether a device report of playlistID echoes a load
// this navigator issued.
func (n *Navigator) ConsumeEcho(playlistID string) bool {
	if n.loader == nil {
		return false
	}
	return n.loader.ConsumeEcho(playlistID)
}

// Wait blocks until background device loads finish.
func (n *Navigator) Wait() {
	n.wg.Wait()
}

func (n *Navigator) resolve(playlistID string, position int) mp.Overlay {
	overlay := mp.Overlay{Track: DefaultTrack}
	playlist, ok := n.catalog.Find(playlistID)
	if !ok {
		return overlay
	}
	overlay.PlaylistName = playlist.Name
	if position >= len(playlist.Montages) {
		return overlay
	}
	montage := playlist.Montages[position]
	overlay.MontageName = montage.Name
	overlay.Track = TrackFor(montage, n.Screen())
	return overlay
}

// TrackFor returns the track assigned to screenID in montage.
func TrackFor(montage MontageRef, screenID string) string {
	for _, assignment := range montage.ScreenTracks {
		if assignment.ScreenID == screenID && assignment.Track > 0 {
			return strconv.Itoa(assignment.Track)
		}
	}
	return DefaultTrack
}

func (n *Navigator) setOverlay(overlay mp.Overlay) {
	n.mu.Lock()
	n.overlay = overlay
	hook := n.onOverlay
	n.mu.Unlock()
	if hook != nil {
		hook(overlay)
	}
}

// Overlay returns the labels for the current position.
func (n *Navigator) Overlay() mp.Overlay {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.overlay
}

// Screen returns the active screen id.
func (n *Navigator) Screen() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.screenID
}

// SetScreen changes the active screen and refreshes the overlay track.
func (n *Navigator) SetScreen(screenID string) {
	n.mu.Lock()
	n.screenID = screenID
	n.mu.Unlock()
	snap := n.state.Snapshot()
	n.setOverlay(n.resolve(snap.PlaylistID, snap.Position))
}

// State returns a copy of the coordination state.
func (n *Navigator) State() StateSnapshot {
	return n.state.Snapshot()
}

// IsPlaylistChanging reports whether the suppression window is open.
func (n *Navigator) IsPlaylistChanging() bool {
	return n.state.IsPlaylistChanging(n.clock.Now())
}

// Catalog returns the playlist collection.
func (n *Navigator) Catalog() *Catalog {
	return n.catalog
}

// Queue returns the command queue.
func (n *Navigator) Queue() *CommandQueue {
	return n.queue
}

// Close stops background loads and the queue.
func (n *Navigator) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	n.mu.Unlock()
	n.syncMu.Lock()
	n.syncClosed = true
	n.syncMu.Unlock()
	n.cancel()
	n.wg.Wait()
	n.queue.Close()
}
