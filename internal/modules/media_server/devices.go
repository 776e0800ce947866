package mediaserver

import (
	"sync"
	"time"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Devices simulates playback devices. A load only shows up in the read
// model after the confirmation lag, like a real device reporting back.
type Devices struct {
	lag     time.Duration
	publish func(mp.ServerEvent)

	mu      sync.Mutex
	devices map[string]*device
}

type device struct {
	current string
	playing bool
	gen     uint64
	timer   *time.Timer
}

// NewDevices creates a simulator. publish receives current.changed events.
func NewDevices(lag time.Duration, publish func(mp.ServerEvent)) *Devices {
	if publish == nil {
		publish = func(mp.ServerEvent) {}
	}
	return &Devices{lag: lag, publish: publish, devices: map[string]*device{}}
}

func (d *Devices) get(id string) *device {
	dev, ok := d.devices[id]
	if !ok {
		dev = &device{}
		d.devices[id] = dev
	}
	return dev
}

// Apply executes a device command.
func (d *Devices) Apply(id string, cmd mp.DeviceCommand) mp.DeviceReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.get(id)

	switch cmd.Action {
	case mp.ActionStop:
		dev.playing = false
		return mp.DeviceReply{OK: true}
	case mp.ActionLoadPlaylist:
		dev.gen++
		gen := dev.gen
		if dev.timer != nil {
			dev.timer.Stop()
		}
		apply := func() {
			d.mu.Lock()
			if dev.gen != gen {
				d.mu.Unlock()
				return
			}
			dev.current = cmd.PlaylistID
			dev.playing = true
			d.mu.Unlock()
			d.publish(mp.ServerEvent{Type: mp.EventCurrentChanged, DeviceID: id, PlaylistID: cmd.PlaylistID, Origin: mp.OriginDevice})
		}
		if d.lag <= 0 {
			dev.current = cmd.PlaylistID
			dev.playing = true
			go d.publish(mp.ServerEvent{Type: mp.EventCurrentChanged, DeviceID: id, PlaylistID: cmd.PlaylistID, Origin: mp.OriginDevice})
			return mp.DeviceReply{OK: true}
		}
		dev.timer = time.AfterFunc(d.lag, apply)
		return mp.DeviceReply{OK: true}
	default:
		return mp.DeviceReply{OK: false, Message: "unsupported action " + cmd.Action}
	}
}

// Current returns the read model view of a device.
func (d *Devices) Current(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.get(id).current
}

// Jump moves a device outside any navigator, as a wall remote would.
func (d *Devices) Jump(id, playlistID string, position *int) {
	d.mu.Lock()
	dev := d.get(id)
	dev.gen++
	if dev.timer != nil {
		dev.timer.Stop()
	}
	dev.current = playlistID
	dev.playing = true
	d.mu.Unlock()
	d.publish(mp.ServerEvent{Type: mp.EventCurrentChanged, DeviceID: id, PlaylistID: playlistID, Position: position, Origin: mp.OriginExternal})
}

// Close stops pending loads.
func (d *Devices) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.devices {
		if dev.timer != nil {
			dev.timer.Stop()
		}
		dev.gen++
	}
}
