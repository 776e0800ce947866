package navigationcore

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/metrics"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// ConfirmationPoller waits for the read model to report an expected playlist.
type ConfirmationPoller struct {
	readModel ports.ReadModel
	clock     ports.Clock
	base      time.Duration
	max       time.Duration
	attempts  int
	echo      time.Duration
	log       *zap.Logger
}

// NewConfirmationPoller creates a poller using the poll fields of timings.
func NewConfirmationPoller(readModel ports.ReadModel, clock ports.Clock, timings Timings, log *zap.Logger) *ConfirmationPoller {
	if log == nil {
		log = zap.NewNop()
	}
	timings = timings.WithDefaults()
	return &ConfirmationPoller{
		readModel: readModel,
		clock:     clock,
		base:      timings.PollBase,
		max:       timings.PollMax,
		attempts:  timings.PollAttempts,
		echo:      timings.EchoWindow,
		log:       log,
	}
}

// Confirm polls until deviceID reports expected or the attempt budget runs out.
// Query errors count as not yet confirmed.
func (p *ConfirmationPoller) Confirm(ctx context.Context, deviceID, expected string) bool {
	schedule := p.schedule()
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := p.clock.Sleep(ctx, schedule.NextBackOff()); err != nil {
			metrics.RecordPollOutcome("cancelled")
			return false
		}
		metrics.IncPollAttempt()
		current, err := p.readModel.CurrentPlaylist(ctx, deviceID)
		if err != nil {
			p.log.Debug("confirmation query failed",
				zap.String("device", deviceID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}
		if current == expected {
			metrics.RecordPollOutcome("confirmed")
			p.log.Debug("playlist confirmed",
				zap.String("device", deviceID),
				zap.String("playlist", expected),
				zap.Int("attempt", attempt),
			)
			return true
		}
	}
	metrics.RecordPollOutcome("exhausted")
	p.log.Info("playlist not confirmed",
		zap.String("device", deviceID),
		zap.String("playlist", expected),
		zap.Int("attempts", p.attempts),
	)
	return false
}

// Delays returns the wait before each attempt of one run.
func (p *ConfirmationPoller) Delays() []time.Duration {
	schedule := p.schedule()
	out := make([]time.Duration, 0, p.attempts)
	for i := 0; i < p.attempts; i++ {
		out = append(out, schedule.NextBackOff())
	}
	return out
}

func (p *ConfirmationPoller) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.base
	b.MaxInterval = p.max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// PlaylistLoader asks a device to load a playlist and confirms it took effect.
// It remembers recent loads so the device reporting them back can be told
// apart from a change made elsewhere.
type PlaylistLoader struct {
	device   ports.Device
	poller   *ConfirmationPoller
	deviceID string
	log      *zap.Logger

	mu     sync.Mutex
	issued map[string]time.Time
	last   string
}

// NewPlaylistLoader creates a loader for deviceID.
func NewPlaylistLoader(device ports.Device, poller *ConfirmationPoller, deviceID string, log *zap.Logger) *PlaylistLoader {
	if log == nil {
		log = zap.NewNop()
	}
	return &PlaylistLoader{
		device:   device,
		poller:   poller,
		deviceID: deviceID,
		log:      log,
		issued:   map[string]time.Time{},
	}
}

// DeviceID returns the controlled device.
func (l *PlaylistLoader) DeviceID() string {
	return l.deviceID
}

// Load sends loadPlaylist and reports whether the read model confirmed it.
// A false result means callers continue optimistically.
func (l *PlaylistLoader) Load(ctx context.Context, playlistID string) bool {
	l.mu.Lock()
	l.issued[playlistID] = l.poller.clock.Now()
	l.last = playlistID
	l.mu.Unlock()

	reply, err := l.device.SendCommand(ctx, l.deviceID, mp.DeviceCommand{Action: mp.ActionLoadPlaylist, PlaylistID: playlistID})
	if err != nil {
		l.log.Warn("load playlist failed", zap.String("playlist", playlistID), zap.Error(err))
		return false
	}
	if !reply.OK {
		l.log.Warn("load playlist rejected", zap.String("playlist", playlistID), zap.String("message", reply.Message))
		return false
	}
	return l.poller.Confirm(ctx, l.deviceID, playlistID)
}

// ConsumeEcho reports whether playlistID matches a load issued within the
// echo window. A match is forgotten so a later genuine report is not dropped.
func (l *PlaylistLoader) ConsumeEcho(playlistID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.poller.clock.Now()
	for id, at := range l.issued {
		if now.Sub(at) > l.poller.echo {
			delete(l.issued, id)
		}
	}
	if _, ok := l.issued[playlistID]; !ok {
		return false
	}
	delete(l.issued, playlistID)
	return true
}

// LastIssued returns the playlist of the most recent load command.
func (l *PlaylistLoader) LastIssued() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// StopDevice halts playback on the device.
func (l *PlaylistLoader) StopDevice(ctx context.Context) error {
	reply, err := l.device.SendCommand(ctx, l.deviceID, mp.DeviceCommand{Action: mp.ActionStop})
	if err != nil {
		return err
	}
	if !reply.OK {
		return &DeviceError{Action: mp.ActionStop, Message: reply.Message}
	}
	return nil
}

// DeviceError is a command the device rejected.
type DeviceError struct {
	Action  string
	Message string
}

func (e *DeviceError) Error() string {
	if e.Message == "" {
		return "device rejected " + e.Action
	}
	return "device rejected " + e.Action + ": " + e.Message
}
