package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// DefaultListen is used when no listen address is configured.
const DefaultListen = "127.0.0.1:8095"

// Config configures the reference media server.
type Config struct {
	Listen      string
	StoragePath string
	Token       string
	// ConfirmLag delays a device load before it shows in the read model.
	ConfirmLag time.Duration
	Timeout    time.Duration
	// Seed montages are written on start when the library is empty.
	Seed []mp.MontageRecord
}

// Module serves montages, playlists and simulated devices over HTTP.
type Module struct {
	log     *zap.Logger
	config  Config
	storage *Storage
	devices *Devices
	hub     *Hub
	http    *http.Client
}

// NewModule creates a media server module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	storage, err := NewStorage(cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	hub := NewHub(log)
	m := &Module{
		log:     log,
		config:  cfg,
		storage: storage,
		hub:     hub,
		devices: NewDevices(cfg.ConfirmLag, hub.Publish),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	if err := m.seed(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Module) seed() error {
	if len(m.config.Seed) == 0 {
		return nil
	}
	existing, err := m.storage.ListMontages()
	if err != nil || len(existing) > 0 {
		return err
	}
	for _, montage := range m.config.Seed {
		if err := m.storage.SaveMontage(montage); err != nil {
			return err
		}
	}
	return nil
}

// Run serves HTTP until ctx ends.
func (m *Module) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", m.config.Listen)
	if err != nil {
		return err
	}
	return m.Serve(ctx, listener)
}

// Serve serves HTTP on listener until ctx ends.
func (m *Module) Serve(ctx context.Context, listener net.Listener) error {
	hubCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.hub.Run(hubCtx)
	defer m.devices.Close()

	server := &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	m.log.Info("media server listening", zap.String("addr", listener.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), 3*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router returns the HTTP routes.
func (m *Module) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(m.requestLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(m.requireToken)

		r.Get("/api/events", m.hub.ServeWS)

		r.Get("/api/montages", m.handleListMontages)
		r.Post("/api/montages", m.handleSaveMontage)

		r.Get("/api/playlists", m.handleListPlaylists)
		r.Post("/api/playlists", m.handleCreatePlaylist)
		r.Get("/api/playlists/{id}", m.handleGetPlaylist)
		r.Put("/api/playlists/{id}", m.handleUpdatePlaylist)
		r.Delete("/api/playlists/{id}", m.handleDeletePlaylist)

		r.Post("/api/devices/{id}/commands", m.handleDeviceCommand)
		r.Get("/api/devices/{id}/current", m.handleGetCurrent)
		r.Post("/api/devices/{id}/current", m.handleJump)

		r.Post("/api/feeds/import", m.handleImportFeed)
	})
	return r
}

func (m *Module) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.Token != "" && r.Header.Get("Authorization") != "Bearer "+m.config.Token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Module) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		m.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (m *Module) handleListMontages(w http.ResponseWriter, _ *http.Request) {
	montages, err := m.storage.ListMontages()
	if err != nil {
		m.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, montages)
}

func (m *Module) handleSaveMontage(w http.ResponseWriter, r *http.Request) {
	var montage mp.MontageRecord
	if err := json.NewDecoder(r.Body).Decode(&montage); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(montage.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if montage.ID == "" {
		montage.ID = uuid.NewString()
	}
	if err := m.storage.SaveMontage(montage); err != nil {
		m.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, montage)
}

func (m *Module) handleListPlaylists(w http.ResponseWriter, _ *http.Request) {
	playlists, err := m.storage.ListPlaylists()
	if err != nil {
		m.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

func (m *Module) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var body mp.PlaylistUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	pl, err := m.storage.SavePlaylist(mp.PlaylistRecord{
		ID:         uuid.NewString(),
		Name:       body.Name,
		MontageIDs: body.MontageIDs,
		Flags:      body.Flags,
	})
	if err != nil {
		m.storageError(w, err)
		return
	}
	m.hub.Publish(mp.ServerEvent{Type: mp.EventPlaylistsChanged, PlaylistID: pl.ID})
	writeJSON(w, http.StatusCreated, pl)
}

func (m *Module) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, err := m.storage.GetPlaylist(chi.URLParam(r, "id"))
	if err != nil {
		m.storageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (m *Module) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body mp.PlaylistUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(body.Flags) > 0 && len(body.Flags) != len(body.MontageIDs) {
		writeError(w, http.StatusBadRequest, "flags must match montageIds")
		return
	}
	pl, err := m.storage.GetPlaylist(id)
	if err != nil {
		m.storageError(w, err)
		return
	}
	for _, montageID := range body.MontageIDs {
		if _, err := m.storage.GetMontage(montageID); err != nil {
			writeError(w, http.StatusBadRequest, "unknown montage "+montageID)
			return
		}
	}
	if strings.TrimSpace(body.Name) != "" {
		pl.Name = body.Name
	}
	pl.MontageIDs = body.MontageIDs
	pl.Flags = body.Flags
	pl, err = m.storage.SavePlaylist(pl)
	if err != nil {
		m.storageError(w, err)
		return
	}
	m.hub.Publish(mp.ServerEvent{Type: mp.EventPlaylistsChanged, PlaylistID: pl.ID})
	writeJSON(w, http.StatusOK, pl)
}

func (m *Module) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := m.storage.DeletePlaylist(id); err != nil {
		m.storageError(w, err)
		return
	}
	m.hub.Publish(mp.ServerEvent{Type: mp.EventPlaylistsChanged, PlaylistID: id})
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	var cmd mp.DeviceCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cmd.Action == mp.ActionLoadPlaylist {
		if _, err := m.storage.GetPlaylist(cmd.PlaylistID); err != nil {
			m.storageError(w, err)
			return
		}
	}
	reply := m.devices.Apply(chi.URLParam(r, "id"), cmd)
	status := http.StatusOK
	if !reply.OK {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, reply)
}

func (m *Module) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writeJSON(w, http.StatusOK, mp.CurrentPlaylist{DeviceID: id, PlaylistID: m.devices.Current(id)})
}

func (m *Module) handleJump(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlaylistID string `json:"playlistId"`
		Position   *int   `json:"position,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := chi.URLParam(r, "id")
	m.devices.Jump(id, body.PlaylistID, body.Position)
	writeJSON(w, http.StatusOK, mp.CurrentPlaylist{DeviceID: id, PlaylistID: body.PlaylistID})
}

func (m *Module) handleImportFeed(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	feed, err := m.fetchFeed(r.Context(), req.URL)
	if err != nil {
		m.log.Warn("feed import failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	montages := montagesFromFeed(req.URL, feed, req.DefaultDurationMS)
	ids := make([]string, 0, len(montages))
	for _, montage := range montages {
		if err := m.storage.SaveMontage(montage); err != nil {
			m.storageError(w, err)
			return
		}
		ids = append(ids, montage.ID)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.TrimSpace(feed.Title)
	}
	if name == "" {
		name = req.URL
	}
	pl, err := m.storage.SavePlaylist(mp.PlaylistRecord{ID: hashID("feed", req.URL), Name: name, MontageIDs: ids})
	if err != nil {
		m.storageError(w, err)
		return
	}
	m.hub.Publish(mp.ServerEvent{Type: mp.EventPlaylistsChanged, PlaylistID: pl.ID})
	writeJSON(w, http.StatusCreated, pl)
}

func (m *Module) storageError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	m.log.Error("storage error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "storage error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
