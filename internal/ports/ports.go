package ports

import (
	"context"
	"time"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Broker publishes commands and reads retained state/presence.
type Broker interface {
	ReplyTopic() string
	PublishCommand(ctx context.Context, nodeID string, cmd mp.CommandEnvelope) (mp.ReplyEnvelope, error)
	ListPresence(ctx context.Context) ([]mp.Presence, error)
	GetNavigatorState(ctx context.Context, nodeID string) (mp.NavigatorState, error)
	WatchNavigator(ctx context.Context, nodeID string) (<-chan mp.NavigatorState, <-chan mp.Event, <-chan error)
}

// Clock provides time and timers.
type Clock interface {
	Now() time.Time
	NowUnix() int64
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// IDGen returns unique correlation IDs.
type IDGen interface {
	NewID() string
}

// Device accepts control commands for a remote playback device.
type Device interface {
	SendCommand(ctx context.Context, deviceID string, cmd mp.DeviceCommand) (mp.DeviceReply, error)
}

// ReadModel reports what the backend currently believes a device is playing.
// It is eventually consistent with Device commands.
type ReadModel interface {
	CurrentPlaylist(ctx context.Context, deviceID string) (string, error)
}

// PlaylistStore manages playlists on the media server.
type PlaylistStore interface {
	ListPlaylists(ctx context.Context) ([]mp.PlaylistRecord, error)
	CreatePlaylist(ctx context.Context, name string) (mp.PlaylistRecord, error)
	UpdatePlaylist(ctx context.Context, id string, update mp.PlaylistUpdate) (mp.PlaylistRecord, error)
	DeletePlaylist(ctx context.Context, id string) error
}

// Surface receives navigation notices.
type Surface interface {
	Notify(ctx context.Context, notice mp.NavigationNotice) error
}

// FlagStore persists small durable flags between sessions.
type FlagStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}
