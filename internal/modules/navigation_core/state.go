package navigationcore

import (
	"sync"
	"time"
)

// CoordinationState is the shared navigation state of one navigator.
// Only the Navigator and the CommandQueue mutate it.
type CoordinationState struct {
	mu sync.Mutex

	currentPlaylistID string
	position          int
	changingUntil     time.Time

	lastSeq      uint64
	lastAccepted commandKey
	hasAccepted  bool

	processing    bool
	lastDispatch  commandKey
	hasDispatched bool
}

// StateSnapshot is a copy of CoordinationState.
type StateSnapshot struct {
	PlaylistID               string
	Position                 int
	ChangingUntil            time.Time
	Seq                      uint64
	Processing               bool
	LastDispatchedPlaylistID string
	LastDispatchedPosition   int
	HasDispatched            bool
}

// NewCoordinationState creates state positioned on playlistID.
func NewCoordinationState(playlistID string) *CoordinationState {
	return &CoordinationState{currentPlaylistID: playlistID}
}

// Snapshot returns a copy of the state.
func (s *CoordinationState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		PlaylistID:               s.currentPlaylistID,
		Position:                 s.position,
		ChangingUntil:            s.changingUntil,
		Seq:                      s.lastSeq,
		Processing:               s.processing,
		LastDispatchedPlaylistID: s.lastDispatch.playlistID,
		LastDispatchedPosition:   s.lastDispatch.position,
		HasDispatched:            s.hasDispatched,
	}
}

// CurrentPlaylistID returns the optimistic current playlist.
func (s *CoordinationState) CurrentPlaylistID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentPlaylistID
}

// SetCurrentPlaylistID seeds the current playlist from the backend without navigating.
func (s *CoordinationState) SetCurrentPlaylistID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentPlaylistID = id
}

// IsPlaylistChanging reports whether the suppression window is open at now.
func (s *CoordinationState) IsPlaylistChanging(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.changingUntil)
}

// Processing reports whether a dispatch is in flight.
func (s *CoordinationState) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// beginDispatch marks key as in flight. It returns the previously dispatched
// key so a failed dispatch can roll back.
func (s *CoordinationState) beginDispatch(key commandKey) (prev commandKey, hadPrev bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return commandKey{}, false, false
	}
	prev, hadPrev = s.lastDispatch, s.hasDispatched
	s.processing = true
	s.lastDispatch = key
	s.hasDispatched = true
	return prev, hadPrev, true
}

func (s *CoordinationState) abortDispatch(prev commandKey, hadPrev bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.lastDispatch = prev
	s.hasDispatched = hadPrev
}

func (s *CoordinationState) endDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
}

func (s *CoordinationState) lastDispatched() (commandKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDispatch, s.hasDispatched
}
