package core

import "github.com/mikey-austin/montage_panel/pkg/mp"

// NodesResult holds a list of presence records.
type NodesResult struct {
	Nodes []mp.Presence
}

// StatusResult holds navigator presence and state.
type StatusResult struct {
	Navigator mp.Presence
	State     mp.NavigatorState
}

// NavigateResult reports the outcome of a navigation request.
type NavigateResult struct {
	NavigatorID string
	PlaylistID  string
	Position    *int
	Reply       mp.NavigateReply
}

// PlayNowResult describes a started play-now playlist.
type PlayNowResult struct {
	NavigatorID string
	MontageID   string
	Reply       mp.PlayNowReply
}

// StopResult reports whether a play-now playlist was torn down.
type StopResult struct {
	NavigatorID string
	Stopped     bool
}

// SweepResult holds sweep counts.
type SweepResult struct {
	NavigatorID string
	Reply       mp.SweepReply
}

// PlaylistListResult holds the navigator catalog.
type PlaylistListResult struct {
	NavigatorID string
	Playlists   []mp.PlaylistSummary
}
