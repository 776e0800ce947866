package navigationcore

import (
	"strconv"
	"strings"
	"time"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// EphemeralPrefix marks throwaway play-now playlists.
const EphemeralPrefix = "Temp_Playlist_"

// DefaultTrack is used when a montage has no assignment for the active screen.
const DefaultTrack = "1"

// Origin identifies what triggered a navigation.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginExternal  Origin = "external"
	OriginAutoSync  Origin = "autosync"
	OriginEphemeral Origin = "ephemeral"
	OriginRestore   Origin = "restore"
)

// ScreenTrackAssignment maps a screen to a track within a montage.
type ScreenTrackAssignment struct {
	ScreenID string
	Track    int
}

// MontageRef is a montage entry of a playlist.
type MontageRef struct {
	ID           string
	Name         string
	TrackCount   int
	Duration     time.Duration
	ScreenTracks []ScreenTrackAssignment
}

// PlaylistRef is a playlist known to the catalog. An empty ID is the default playlist.
type PlaylistRef struct {
	ID       string
	Name     string
	Montages []MontageRef
	Changed  bool
}

// NavigationIntent is a normalized request to show a position.
type NavigationIntent struct {
	Seq            uint64
	PlaylistID     string
	Position       int
	Track          string
	Force          bool
	PlaylistChange bool
	Origin         Origin
}

type commandKey struct {
	playlistID string
	position   int
}

func (i NavigationIntent) key() commandKey {
	return commandKey{playlistID: i.PlaylistID, position: i.Position}
}

// IsEphemeralName reports whether name belongs to a play-now playlist.
func IsEphemeralName(name string) bool {
	return strings.HasPrefix(name, EphemeralPrefix)
}

// EphemeralName builds a play-now playlist name for t.
func EphemeralName(t time.Time) string {
	return EphemeralPrefix + strconv.FormatInt(t.UnixMilli(), 10)
}

// PlaylistsFromRecords converts media server records into catalog entries.
func PlaylistsFromRecords(records []mp.PlaylistRecord) []PlaylistRef {
	out := make([]PlaylistRef, 0, len(records))
	for _, record := range records {
		out = append(out, PlaylistFromRecord(record))
	}
	return out
}

// PlaylistFromRecord converts one media server record.
func PlaylistFromRecord(record mp.PlaylistRecord) PlaylistRef {
	ref := PlaylistRef{ID: record.ID, Name: record.Name}
	for _, montage := range record.Montages {
		ref.Montages = append(ref.Montages, MontageFromRecord(montage))
	}
	return ref
}

// MontageFromRecord converts a media server montage.
func MontageFromRecord(record mp.MontageRecord) MontageRef {
	ref := MontageRef{
		ID:         record.ID,
		Name:       record.Name,
		TrackCount: record.TrackCount,
		Duration:   time.Duration(record.DurationMS) * time.Millisecond,
	}
	for _, st := range record.ScreenTracks {
		ref.ScreenTracks = append(ref.ScreenTracks, ScreenTrackAssignment{ScreenID: st.ScreenID, Track: st.Track})
	}
	return ref
}

func normalizePosition(position *int) int {
	if position == nil || *position < 0 {
		return 0
	}
	return *position
}
