package mp

// NavigateBody is the payload for nav.navigate.
type NavigateBody struct {
	PlaylistID string `json:"playlistId"`
	Position   *int   `json:"position,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

// NavigateReply is returned by nav.navigate.
type NavigateReply struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Seq      uint64 `json:"seq"`
	Track    string `json:"track,omitempty"`
}

// PlayNowBody is the payload for nav.playNow.
type PlayNowBody struct {
	MontageID  string `json:"montageId"`
	DurationMS int64  `json:"durationMs,omitempty"`
}

// PlayNowReply is returned by nav.playNow.
type PlayNowReply struct {
	PlaylistID      string `json:"playlistId"`
	Name            string `json:"name"`
	PriorPlaylistID string `json:"priorPlaylistId"`
	ExpiresAt       int64  `json:"expiresAt"`
}

// SetScreenBody is the payload for nav.setScreen.
type SetScreenBody struct {
	ScreenID string `json:"screenId"`
}

// SweepReply is returned by nav.sweep.
type SweepReply struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// NavigationNotice is published to a playback surface for every dispatched command.
type NavigationNotice struct {
	PlaylistID       string `json:"playlistId"`
	MontagePosition  int    `json:"montagePosition"`
	Track            string `json:"track"`
	TS               int64  `json:"ts"`
	IsPlaylistChange bool   `json:"isPlaylistChange"`
	Seq              uint64 `json:"seq"`
}

// SurfaceReady is the retained readiness payload of a playback surface.
type SurfaceReady struct {
	Ready bool  `json:"ready"`
	TS    int64 `json:"ts"`
}

// Overlay is the user-visible label set for the current position.
type Overlay struct {
	PlaylistName string `json:"playlistName"`
	MontageName  string `json:"montageName"`
	Track        string `json:"track"`
}

// NavigatorState is the retained state of a navigator node.
type NavigatorState struct {
	PlaylistID         string          `json:"playlistId"`
	Position           int             `json:"position"`
	ScreenID           string          `json:"screenId,omitempty"`
	IsPlaylistChanging bool            `json:"isPlaylistChanging"`
	Processing         bool            `json:"processing"`
	Seq                uint64          `json:"seq"`
	Overlay            Overlay         `json:"overlay"`
	Ephemeral          *EphemeralState `json:"ephemeral,omitempty"`
	Playlists          int             `json:"playlists"`
	TS                 int64           `json:"ts"`
}

// EphemeralState describes a live play-now playlist.
type EphemeralState struct {
	PlaylistID      string `json:"playlistId"`
	Name            string `json:"name"`
	PriorPlaylistID string `json:"priorPlaylistId"`
	Phase           string `json:"phase"`
	CreatedAt       int64  `json:"createdAt"`
}

// SurfaceState is the retained state of a playback surface.
type SurfaceState struct {
	Ready    bool              `json:"ready"`
	Current  *NavigationNotice `json:"current,omitempty"`
	Received int64             `json:"received"`
	TS       int64             `json:"ts"`
}

// Device command actions.
const (
	ActionLoadPlaylist = "loadPlaylist"
	ActionStop         = "stop"
)

// DeviceCommand is sent to a media-server device.
type DeviceCommand struct {
	Action     string `json:"action"`
	PlaylistID string `json:"playlistId,omitempty"`
}

// DeviceReply is the media-server response to a device command.
type DeviceReply struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// CurrentPlaylist is the read model view of a device.
type CurrentPlaylist struct {
	DeviceID   string `json:"deviceId"`
	PlaylistID string `json:"playlistId"`
}

// ScreenTrack assigns a track to a screen within a montage.
type ScreenTrack struct {
	ScreenID string `json:"screenId"`
	Track    int    `json:"track"`
}

// MontageRecord describes a montage as served by the media server.
type MontageRecord struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	TrackCount   int           `json:"trackCount"`
	DurationMS   int64         `json:"durationMs"`
	ScreenTracks []ScreenTrack `json:"screenTracks,omitempty"`
	URL          string        `json:"url,omitempty"`
}

// PlaylistRecord describes a playlist as served by the media server.
type PlaylistRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	MontageIDs []string        `json:"montageIds"`
	Flags      []bool          `json:"flags,omitempty"`
	Montages   []MontageRecord `json:"montages,omitempty"`
	Revision   int64           `json:"revision"`
	UpdatedAt  int64           `json:"updatedAt"`
}

// PlaylistUpdate replaces the name and entries of a playlist.
type PlaylistUpdate struct {
	Name       string   `json:"name"`
	MontageIDs []string `json:"montageIds"`
	Flags      []bool   `json:"flags,omitempty"`
}

// Media-server change feed event types.
const (
	EventCurrentChanged   = "current.changed"
	EventPlaylistsChanged = "playlists.changed"
)

// Change feed origins.
const (
	// OriginDevice marks a device reporting a load it was asked to do.
	OriginDevice = "device"
	// OriginExternal marks a change made outside any navigator.
	OriginExternal = "external"
)

// ServerEvent is pushed over the media-server change feed.
type ServerEvent struct {
	Type       string `json:"type"`
	DeviceID   string `json:"deviceId,omitempty"`
	PlaylistID string `json:"playlistId,omitempty"`
	Position   *int   `json:"position,omitempty"`
	Origin     string `json:"origin,omitempty"`
	TS         int64  `json:"ts"`
}

// StopReply is returned by nav.stop.
type StopReply struct {
	Stopped bool `json:"stopped"`
}

// Navigator event types published on the node events topic.
const (
	EventNavChanged      = "nav.changed"
	EventEphemeralChange = "nav.ephemeral"
)

// PlaylistSummary is a catalog entry listed by nav.playlists.
type PlaylistSummary struct {
	PlaylistID string   `json:"playlistId"`
	Name       string   `json:"name"`
	Montages   []string `json:"montages"`
	Ephemeral  bool     `json:"ephemeral,omitempty"`
}

// PlaylistsReply is returned by nav.playlists.
type PlaylistsReply struct {
	Playlists []PlaylistSummary `json:"playlists"`
}
