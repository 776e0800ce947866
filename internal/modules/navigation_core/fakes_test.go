package navigationcore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	sleeps []time.Duration
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NowUnix() int64 {
	return c.Now().Unix()
}

// Sleep records d without moving time.
func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// FireStopped runs stopped timers as if Stop lost a race with expiry.
func (c *fakeClock) FireStopped() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.list() {
		if e == event {
			n++
		}
	}
	return n
}

func indexOf(events []string, event string) int {
	for i, e := range events {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeReadModel struct {
	mu       sync.Mutex
	current  string
	errsLeft int
	queries  int
	never    bool
}

func (r *fakeReadModel) CurrentPlaylist(ctx context.Context, deviceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	if r.errsLeft > 0 {
		r.errsLeft--
		return "", errors.New("read model unavailable")
	}
	return r.current, nil
}

func (r *fakeReadModel) loaded(playlistID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.never {
		r.current = playlistID
	}
}

func (r *fakeReadModel) Queries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}

type fakeDevice struct {
	rec  *recorder
	read *fakeReadModel
	gate chan struct{}
	err  error
}

func (d *fakeDevice) SendCommand(ctx context.Context, deviceID string, cmd mp.DeviceCommand) (mp.DeviceReply, error) {
	switch cmd.Action {
	case mp.ActionLoadPlaylist:
		d.rec.add("load:" + cmd.PlaylistID)
		if d.gate != nil {
			select {
			case <-d.gate:
			case <-ctx.Done():
				return mp.DeviceReply{}, ctx.Err()
			}
		}
	default:
		d.rec.add(cmd.Action)
	}
	if d.err != nil {
		return mp.DeviceReply{}, d.err
	}
	if cmd.Action == mp.ActionLoadPlaylist && d.read != nil {
		d.read.loaded(cmd.PlaylistID)
	}
	return mp.DeviceReply{OK: true}, nil
}

type fakeStore struct {
	mu         sync.Mutex
	rec        *recorder
	nextID     int
	playlists  map[string]mp.PlaylistRecord
	montages   map[string]mp.MontageRecord
	deleteFail map[string]int
	deleteGate chan struct{}
	createErr  error
}

func newFakeStore(rec *recorder) *fakeStore {
	return &fakeStore{
		rec:        rec,
		playlists:  map[string]mp.PlaylistRecord{},
		montages:   map[string]mp.MontageRecord{},
		deleteFail: map[string]int{},
	}
}

func (s *fakeStore) ListPlaylists(ctx context.Context) ([]mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mp.PlaylistRecord, 0, len(s.playlists))
	for _, p := range s.playlists {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) CreatePlaylist(ctx context.Context, name string) (mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return mp.PlaylistRecord{}, s.createErr
	}
	s.nextID++
	record := mp.PlaylistRecord{ID: fmt.Sprintf("tmp%d", s.nextID), Name: name}
	s.playlists[record.ID] = record
	s.rec.add("create:" + record.ID)
	return record, nil
}

func (s *fakeStore) UpdatePlaylist(ctx context.Context, id string, update mp.PlaylistUpdate) (mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.playlists[id]
	if !ok {
		return mp.PlaylistRecord{}, errors.New("not found")
	}
	record.Name = update.Name
	record.MontageIDs = update.MontageIDs
	record.Flags = update.Flags
	record.Montages = nil
	for _, mid := range update.MontageIDs {
		if m, ok := s.montages[mid]; ok {
			record.Montages = append(record.Montages, m)
		}
	}
	s.playlists[id] = record
	s.rec.add("update:" + id)
	return record, nil
}

func (s *fakeStore) DeletePlaylist(ctx context.Context, id string) error {
	s.mu.Lock()
	gate := s.deleteGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.add("delete:" + id)
	if s.deleteFail[id] > 0 {
		s.deleteFail[id]--
		return errors.New("delete failed")
	}
	delete(s.playlists, id)
	return nil
}

func (s *fakeStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.playlists[id]
	return ok
}

type fakeSurface struct {
	mu      sync.Mutex
	notices []mp.NavigationNotice
	failN   int
	panics  bool
}

func (s *fakeSurface) Notify(ctx context.Context, notice mp.NavigationNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.panics {
		s.panics = false
		panic("surface gone")
	}
	if s.failN > 0 {
		s.failN--
		return errors.New("surface unavailable")
	}
	s.notices = append(s.notices, notice)
	return nil
}

func (s *fakeSurface) Notices() []mp.NavigationNotice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mp.NavigationNotice(nil), s.notices...)
}

type fakeFlags struct {
	mu sync.Mutex
	m  map[string]string
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{m: map[string]string{}}
}

func (f *fakeFlags) Get(ctx context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.m[key]
	return v, ok, nil
}

func (f *fakeFlags) Put(ctx context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[key] = value
	return nil
}

func (f *fakeFlags) Clear(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, key)
	return nil
}

type harness struct {
	clock   *fakeClock
	rec     *recorder
	read    *fakeReadModel
	device  *fakeDevice
	store   *fakeStore
	surface *fakeSurface
	flags   *fakeFlags
	timings Timings
	state   *CoordinationState
	catalog *Catalog
	queue   *CommandQueue
	poller  *ConfirmationPoller
	loader  *PlaylistLoader
	nav     *Navigator
	eph     *EphemeralLifecycle
}

func newHarness(t *testing.T, current string, playlists ...PlaylistRef) *harness {
	t.Helper()
	h := &harness{
		clock:   newFakeClock(),
		rec:     &recorder{},
		read:    &fakeReadModel{current: current},
		surface: &fakeSurface{},
		flags:   newFakeFlags(),
		timings: DefaultTimings(),
	}
	h.device = &fakeDevice{rec: h.rec, read: h.read}
	h.store = newFakeStore(h.rec)
	for _, p := range playlists {
		h.store.playlists[p.ID] = mp.PlaylistRecord{ID: p.ID, Name: p.Name}
	}
	ctx := context.Background()
	log := zap.NewNop()
	h.state = NewCoordinationState(current)
	h.catalog = NewCatalog(playlists)
	h.queue = NewCommandQueue(ctx, h.state, h.surface, h.clock, h.timings.SettleDelay, log)
	h.poller = NewConfirmationPoller(h.read, h.clock, h.timings, log)
	h.loader = NewPlaylistLoader(h.device, h.poller, "dev1", log)
	h.nav = NewNavigator(ctx, NavigatorConfig{
		State:    h.state,
		Catalog:  h.catalog,
		Queue:    h.queue,
		Loader:   h.loader,
		Clock:    h.clock,
		Timings:  h.timings,
		ScreenID: "screen-a",
		Log:      log,
	})
	h.eph = NewEphemeralLifecycle(ctx, EphemeralConfig{
		Store:     h.store,
		Loader:    h.loader,
		Navigator: h.nav,
		Flags:     h.flags,
		Clock:     h.clock,
		Timings:   h.timings,
		Log:       log,
	})
	t.Cleanup(func() {
		h.eph.Close()
		h.nav.Close()
	})
	return h
}

func (h *harness) ready() {
	h.queue.SetContainerReady(true)
	h.queue.SetSurfaceReady(true)
}

func (h *harness) settle() {
	h.clock.Advance(h.timings.SettleDelay)
}

func intPtr(v int) *int {
	return &v
}

func montage(id, name string, tracks ...ScreenTrackAssignment) MontageRef {
	return MontageRef{ID: id, Name: name, TrackCount: 4, Duration: time.Minute, ScreenTracks: tracks}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met")
}
