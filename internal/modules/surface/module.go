package surface

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Player renders navigation notices.
type Player interface {
	// Reload switches to a different playlist at a position.
	Reload(playlistID string, position int, track string) error
	// Seek moves within the current playlist.
	Seek(position int, track string) error
}

// Config configures the playback surface module.
type Config struct {
	NodeID    string
	TopicBase string
	Name      string
	// InitDelay is how long the surface takes to become ready after start.
	InitDelay time.Duration
	// History bounds the notices kept for inspection.
	History int
}

// Module is a playback surface node. It announces readiness and applies
// navigation notices in arrival order.
type Module struct {
	log      *zap.Logger
	client   mqttClient
	player   Player
	config   Config
	navTopic string

	mu      sync.Mutex
	state   mp.SurfaceState
	history []mp.NavigationNotice
}

// NewModule creates a surface module. A nil player only logs.
func NewModule(log *zap.Logger, client mqttClient, player Player, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("surface node_id required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = mp.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Playback Surface"
	}
	if cfg.History <= 0 {
		cfg.History = 32
	}
	if log == nil {
		log = zap.NewNop()
	}
	if player == nil {
		player = logPlayer{log: log}
	}
	return &Module{
		log:      log,
		client:   client,
		player:   player,
		config:   cfg,
		navTopic: mp.TopicNavigation(cfg.TopicBase, cfg.NodeID),
	}, nil
}

// Run subscribes to notices, marks the surface ready after InitDelay and
// blocks until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	if err := m.publishPresence(); err != nil {
		return err
	}
	if err := m.setReady(false); err != nil {
		return err
	}

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleNotice(msg.Payload())
	}
	if err := m.client.Subscribe(m.navTopic, 1, handler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.navTopic)

	timer := time.NewTimer(m.config.InitDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	if err := m.setReady(true); err != nil {
		return err
	}
	m.log.Info("surface ready")

	<-ctx.Done()
	if err := m.setReady(false); err != nil {
		m.log.Debug("clear readiness failed", zap.Error(err))
	}
	return nil
}

func (m *Module) setReady(ready bool) error {
	m.mu.Lock()
	m.state.Ready = ready
	m.mu.Unlock()

	payload, err := json.Marshal(mp.SurfaceReady{Ready: ready, TS: time.Now().Unix()})
	if err != nil {
		return err
	}
	if err := m.client.Publish(mp.TopicReady(m.config.TopicBase, m.config.NodeID), 1, true, payload); err != nil {
		return err
	}
	return m.publishState()
}

func (m *Module) handleNotice(payload []byte) {
	var notice mp.NavigationNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		m.log.Warn("invalid navigation notice", zap.Error(err))
		return
	}

	var err error
	if notice.IsPlaylistChange {
		err = m.player.Reload(notice.PlaylistID, notice.MontagePosition, notice.Track)
	} else {
		err = m.player.Seek(notice.MontagePosition, notice.Track)
	}
	if err != nil {
		m.log.Warn("apply navigation notice failed",
			zap.String("playlist", notice.PlaylistID),
			zap.Int("position", notice.MontagePosition),
			zap.Error(err),
		)
	}

	m.mu.Lock()
	m.state.Current = &notice
	m.state.Received++
	m.history = append(m.history, notice)
	if len(m.history) > m.config.History {
		m.history = m.history[len(m.history)-m.config.History:]
	}
	m.mu.Unlock()

	if err := m.publishState(); err != nil {
		m.log.Warn("publish state failed", zap.Error(err))
	}
	m.publishEvent(notice)
}

// State returns a copy of the surface state.
func (m *Module) State() mp.SurfaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.state
	if out.Current != nil {
		current := *out.Current
		out.Current = &current
	}
	return out
}

// History returns the most recent notices, oldest first.
func (m *Module) History() []mp.NavigationNotice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mp.NavigationNotice(nil), m.history...)
}

func (m *Module) publishPresence() error {
	presence := mp.Presence{
		NodeID: m.config.NodeID,
		Kind:   mp.KindSurface,
		Name:   m.config.Name,
		TS:     time.Now().Unix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(mp.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) publishState() error {
	state := m.State()
	state.TS = time.Now().Unix()
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return m.client.Publish(mp.TopicState(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) publishEvent(notice mp.NavigationNotice) {
	body, err := json.Marshal(notice)
	if err != nil {
		return
	}
	payload, err := json.Marshal(mp.Event{Type: "surface.notice", TS: time.Now().Unix(), Body: body})
	if err != nil {
		return
	}
	_ = m.client.Publish(mp.TopicEvents(m.config.TopicBase, m.config.NodeID), 0, false, payload)
}

type logPlayer struct {
	log *zap.Logger
}

func (p logPlayer) Reload(playlistID string, position int, track string) error {
	p.log.Info("reload playlist", zap.String("playlist", playlistID), zap.Int("position", position), zap.String("track", track))
	return nil
}

func (p logPlayer) Seek(position int, track string) error {
	p.log.Info("seek", zap.Int("position", position), zap.String("track", track))
	return nil
}
