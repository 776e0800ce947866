package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/adapters/backend"
	"github.com/mikey-austin/montage_panel/internal/adapters/clock"
	navigationcore "github.com/mikey-austin/montage_panel/internal/modules/navigation_core"
	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler paho.MessageHandler) error
	Unsubscribe(topic string) error
}

// Backend is the media server surface the navigator needs.
type Backend interface {
	ports.Device
	ports.ReadModel
	ports.PlaylistStore
	ListMontages(ctx context.Context) ([]mp.MontageRecord, error)
	Events(ctx context.Context) (<-chan mp.ServerEvent, <-chan error)
}

// Config configures the navigator module.
type Config struct {
	NodeID        string
	TopicBase     string
	Name          string
	DeviceID      string
	ScreenID      string
	SurfaceNodeID string
	Timings       navigationcore.Timings
	// FeedRetryMax caps the change feed reconnect delay.
	FeedRetryMax time.Duration
}

// Module hosts a Navigator and exposes it over MQTT.
type Module struct {
	log      *zap.Logger
	client   mqttClient
	backend  Backend
	flags    ports.FlagStore
	clock    ports.Clock
	config   Config
	cmdTopic string

	queue *navigationcore.CommandQueue
	nav   *navigationcore.Navigator
	eph   *navigationcore.EphemeralLifecycle

	dirty chan struct{}
	wg    sync.WaitGroup
	cmdWG sync.WaitGroup
}

// NewModule creates a navigator module talking to the media server through api.
func NewModule(log *zap.Logger, client mqttClient, api Backend, flags ports.FlagStore, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.NodeID) == "" {
		return nil, errors.New("navigator node_id required")
	}
	if strings.TrimSpace(cfg.DeviceID) == "" {
		return nil, errors.New("navigator device_id required")
	}
	if strings.TrimSpace(cfg.SurfaceNodeID) == "" {
		return nil, errors.New("navigator surface_node_id required")
	}
	if api == nil {
		return nil, errors.New("navigator backend required")
	}
	if strings.TrimSpace(cfg.TopicBase) == "" {
		cfg.TopicBase = mp.BaseTopic
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "Navigator"
	}
	if cfg.FeedRetryMax <= 0 {
		cfg.FeedRetryMax = 30 * time.Second
	}
	cfg.Timings = cfg.Timings.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Module{
		log:      log,
		client:   client,
		backend:  api,
		flags:    flags,
		clock:    clock.Clock{},
		config:   cfg,
		cmdTopic: mp.TopicCommands(cfg.TopicBase, cfg.NodeID),
		dirty:    make(chan struct{}, 1),
	}, nil
}

// NewBackend builds the HTTP media server client used in production.
func NewBackend(cfg backend.Config, log *zap.Logger) (Backend, error) {
	client, err := backend.New(cfg, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Run starts the navigator and blocks until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	m.start(ctx)
	defer m.stop()

	m.loadCatalog(ctx)
	m.eph.Recover(ctx)
	m.eph.Sweep(ctx, m.nav.Catalog().Snapshot())

	handler := func(_ paho.Client, msg paho.Message) {
		m.handleMessage(ctx, msg)
	}
	if err := m.client.Subscribe(m.cmdTopic, 1, handler); err != nil {
		return err
	}
	defer m.client.Unsubscribe(m.cmdTopic)

	readyTopic := mp.TopicReady(m.config.TopicBase, m.config.SurfaceNodeID)
	if err := m.client.Subscribe(readyTopic, 1, m.handleReady); err != nil {
		return err
	}
	defer m.client.Unsubscribe(readyTopic)

	m.queue.SetContainerReady(true)
	if err := m.publishPresence(); err != nil {
		return err
	}
	if err := m.publishState(); err != nil {
		m.log.Warn("publish state failed", zap.Error(err))
	}

	m.wg.Add(2)
	go m.runStatePublisher(ctx)
	go m.runFeed(ctx)

	<-ctx.Done()
	m.queue.SetContainerReady(false)
	return nil
}

// start wires the navigation core. It seeds the current playlist from the
// device read model.
func (m *Module) start(ctx context.Context) {
	current, err := m.backend.CurrentPlaylist(ctx, m.config.DeviceID)
	if err != nil {
		m.log.Warn("read current playlist failed", zap.Error(err))
	}

	surface := &mqttSurface{
		client: m.client,
		topic:  mp.TopicNavigation(m.config.TopicBase, m.config.SurfaceNodeID),
	}
	state := navigationcore.NewCoordinationState(current)
	queue := navigationcore.NewCommandQueue(ctx, state, surface, m.clock, m.config.Timings.SettleDelay, m.log.Named("queue"))
	poller := navigationcore.NewConfirmationPoller(m.backend, m.clock, m.config.Timings, m.log.Named("poller"))
	loader := navigationcore.NewPlaylistLoader(m.backend, poller, m.config.DeviceID, m.log.Named("loader"))
	nav := navigationcore.NewNavigator(ctx, navigationcore.NavigatorConfig{
		State:     state,
		Queue:     queue,
		Loader:    loader,
		Clock:     m.clock,
		Timings:   m.config.Timings,
		ScreenID:  m.config.ScreenID,
		OnOverlay: func(mp.Overlay) { m.markDirty() },
		Log:       m.log.Named("navigator"),
	})
	eph := navigationcore.NewEphemeralLifecycle(ctx, navigationcore.EphemeralConfig{
		Store:     m.backend,
		Loader:    loader,
		Navigator: nav,
		Flags:     m.flags,
		Clock:     m.clock,
		Timings:   m.config.Timings,
		Log:       m.log.Named("ephemeral"),
	})

	m.queue, m.nav, m.eph = queue, nav, eph
}

func (m *Module) stop() {
	m.wg.Wait()
	m.cmdWG.Wait()
	m.eph.Close()
	m.nav.Close()
}

// loadCatalog refreshes the catalog from the media server. It reports
// whether the listing succeeded.
func (m *Module) loadCatalog(ctx context.Context) ([]navigationcore.PlaylistRef, bool) {
	records, err := m.backend.ListPlaylists(ctx)
	if err != nil {
		m.log.Warn("list playlists failed", zap.Error(err))
		return nil, false
	}
	playlists := navigationcore.PlaylistsFromRecords(records)
	m.nav.Catalog().Replace(playlists)
	m.markDirty()
	return playlists, true
}

// reload refreshes the catalog and sweeps leftover play-now playlists once
// they pile up past the threshold.
func (m *Module) reload(ctx context.Context) int {
	if playlists, ok := m.loadCatalog(ctx); ok {
		m.eph.SweepIfNeeded(ctx, playlists)
	}
	return m.nav.Catalog().Len()
}

func (m *Module) handleReady(_ paho.Client, msg paho.Message) {
	var ready mp.SurfaceReady
	if len(msg.Payload()) > 0 {
		if err := json.Unmarshal(msg.Payload(), &ready); err != nil {
			m.log.Warn("invalid surface readiness", zap.Error(err))
			return
		}
	}
	m.log.Debug("surface readiness", zap.Bool("ready", ready.Ready))
	m.queue.SetSurfaceReady(ready.Ready)
	m.markDirty()
}

func (m *Module) publishPresence() error {
	presence := mp.Presence{
		NodeID: m.config.NodeID,
		Kind:   mp.KindNavigator,
		Name:   m.config.Name,
		Caps: map[string]any{
			"device":  m.config.DeviceID,
			"surface": m.config.SurfaceNodeID,
			"playNow": true,
		},
		TS: m.clock.NowUnix(),
	}
	payload, err := json.Marshal(presence)
	if err != nil {
		return err
	}
	return m.client.Publish(mp.TopicPresence(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) snapshot() mp.NavigatorState {
	snap := m.nav.State()
	out := mp.NavigatorState{
		PlaylistID:         snap.PlaylistID,
		Position:           snap.Position,
		ScreenID:           m.nav.Screen(),
		IsPlaylistChanging: m.nav.IsPlaylistChanging(),
		Processing:         snap.Processing,
		Seq:                snap.Seq,
		Overlay:            m.nav.Overlay(),
		Playlists:          m.nav.Catalog().Len(),
		TS:                 m.clock.NowUnix(),
	}
	if record, ok := m.eph.Active(); ok {
		out.Ephemeral = &mp.EphemeralState{
			PlaylistID:      record.TempPlaylistID,
			Name:            record.Name,
			PriorPlaylistID: record.PriorPlaylistID,
			Phase:           string(m.eph.Phase()),
			CreatedAt:       record.CreatedAt.Unix(),
		}
	}
	return out
}

func (m *Module) publishState() error {
	payload, err := json.Marshal(m.snapshot())
	if err != nil {
		return err
	}
	return m.client.Publish(mp.TopicState(m.config.TopicBase, m.config.NodeID), 1, true, payload)
}

func (m *Module) publishEvent(eventType string, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	evt, err := json.Marshal(mp.Event{Type: eventType, TS: m.clock.NowUnix(), Body: payload})
	if err != nil {
		return
	}
	if err := m.client.Publish(mp.TopicEvents(m.config.TopicBase, m.config.NodeID), 0, false, evt); err != nil {
		m.log.Debug("publish event failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (m *Module) markDirty() {
	select {
	case m.dirty <- struct{}{}:
	default:
	}
}

// runStatePublisher republishes retained state whenever it changes.
func (m *Module) runStatePublisher(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.dirty:
		}
		if err := m.publishState(); err != nil {
			m.log.Warn("publish state failed", zap.Error(err))
		}
		m.publishEvent(mp.EventNavChanged, m.nav.Overlay())
	}
}
