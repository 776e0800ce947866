package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"go.uber.org/zap"

	"github.com/mikey-austin/montage_panel/internal/adapters/backend"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func newTestServer(t *testing.T, cfg Config) (*Module, *backend.Client) {
	t.Helper()
	if cfg.StoragePath == "" {
		cfg.StoragePath = t.TempDir()
	}
	if cfg.Seed == nil {
		cfg.Seed = []mp.MontageRecord{
			{ID: "m1", Name: "Harbour", TrackCount: 2, DurationMS: 30000},
			{ID: "m2", Name: "Skyline", TrackCount: 1, DurationMS: 45000},
		}
	}
	module, err := NewModule(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("NewModule: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go module.hub.Run(ctx)
	server := httptest.NewServer(module.Router())
	t.Cleanup(func() {
		server.Close()
		cancel()
		module.devices.Close()
	})

	client, err := backend.New(backend.Config{BaseURL: server.URL, Token: cfg.Token}, zap.NewNop())
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return module, client
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestPlaylistLifecycleThroughClient(t *testing.T) {
	_, client := newTestServer(t, Config{})
	ctx := context.Background()

	created, err := client.CreatePlaylist(ctx, "Temp_Playlist_1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.Revision != 1 {
		t.Fatalf("unexpected created playlist %+v", created)
	}

	updated, err := client.UpdatePlaylist(ctx, created.ID, mp.PlaylistUpdate{MontageIDs: []string{"m2", "m1"}, Flags: []bool{false, false}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Temp_Playlist_1" || len(updated.Montages) != 2 || updated.Montages[0].ID != "m2" {
		t.Fatalf("unexpected updated playlist %+v", updated)
	}

	playlists, err := client.ListPlaylists(ctx)
	if err != nil || len(playlists) != 1 {
		t.Fatalf("expected one playlist, got %d %v", len(playlists), err)
	}

	if err := client.DeletePlaylist(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := client.DeletePlaylist(ctx, created.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestUpdateRejectsUnknownMontage(t *testing.T) {
	_, client := newTestServer(t, Config{})
	ctx := context.Background()

	created, err := client.CreatePlaylist(ctx, "Lobby")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = client.UpdatePlaylist(ctx, created.ID, mp.PlaylistUpdate{MontageIDs: []string{"missing"}})
	var status *backend.StatusError
	if !errors.As(err, &status) || status.Status != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestDeviceLoadConfirmsAfterLag(t *testing.T) {
	_, client := newTestServer(t, Config{ConfirmLag: 30 * time.Millisecond})
	ctx := context.Background()

	pl, err := client.CreatePlaylist(ctx, "Atrium")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	reply, err := client.SendCommand(ctx, "dev-1", mp.DeviceCommand{Action: mp.ActionLoadPlaylist, PlaylistID: pl.ID})
	if err != nil || !reply.OK {
		t.Fatalf("load: %v %+v", err, reply)
	}
	current, err := client.CurrentPlaylist(ctx, "dev-1")
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current == pl.ID {
		t.Fatalf("expected read model to lag the load")
	}
	waitFor(t, "confirmation", func() bool {
		current, _ := client.CurrentPlaylist(ctx, "dev-1")
		return current == pl.ID
	})

	if _, err := client.SendCommand(ctx, "dev-1", mp.DeviceCommand{Action: mp.ActionLoadPlaylist, PlaylistID: "nope"}); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found for unknown playlist, got %v", err)
	}
	if _, err := client.SendCommand(ctx, "dev-1", mp.DeviceCommand{Action: "rewind"}); err == nil {
		t.Fatalf("expected unsupported action error")
	}
}

func TestChangeFeedBroadcastsJumps(t *testing.T) {
	module, client := newTestServer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, _ := client.Events(ctx)
	position := 2
	got := make(chan mp.ServerEvent, 8)
	go func() {
		for event := range events {
			got <- event
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		module.devices.Jump("dev-1", "P1", &position)
		select {
		case event := <-got:
			if event.Type != mp.EventCurrentChanged || event.PlaylistID != "P1" || event.Position == nil || *event.Position != 2 {
				t.Fatalf("unexpected event %+v", event)
			}
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("no event received")
		}
	}
}

func TestTokenRequired(t *testing.T) {
	module, _ := newTestServer(t, Config{Token: "secret"})
	server := httptest.NewServer(module.Router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/playlists")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected health to skip auth, got %d", resp.StatusCode)
	}
}

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
<channel>
  <title>Gallery Loops</title>
  <item>
    <title>Dawn</title>
    <guid>dawn</guid>
    <enclosure url="http://media.example/dawn.mp4" type="video/mp4" length="1"/>
    <itunes:duration>1:30</itunes:duration>
  </item>
  <item>
    <title>Dusk</title>
    <guid>dusk</guid>
    <enclosure url="http://media.example/dusk.mp4" type="video/mp4" length="1"/>
  </item>
  <item>
    <title>No media</title>
  </item>
</channel>
</rss>`

func TestImportFeedCreatesPlaylist(t *testing.T) {
	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(testFeed))
	}))
	defer feedServer.Close()

	module, _ := newTestServer(t, Config{})
	body, _ := json.Marshal(ImportRequest{URL: feedServer.URL, DefaultDurationMS: 10000})
	req := httptest.NewRequest(http.MethodPost, "/api/feeds/import", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	module.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var pl mp.PlaylistRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &pl); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pl.Name != "Gallery Loops" || len(pl.Montages) != 2 {
		t.Fatalf("unexpected playlist %+v", pl)
	}
	if pl.Montages[0].DurationMS != 90000 || pl.Montages[1].DurationMS != 10000 {
		t.Fatalf("unexpected durations %d %d", pl.Montages[0].DurationMS, pl.Montages[1].DurationMS)
	}
}

func TestParseDurationMS(t *testing.T) {
	cases := map[string]int64{
		"":        0,
		"95":      95000,
		"1:05":    65000,
		"1:00:00": 3600000,
		"abc":     0,
	}
	for raw, want := range cases {
		item := &gofeed.Item{ITunesExt: &ext.ITunesItemExtension{Duration: raw}}
		if got := parseDurationMS(item); got != want {
			t.Fatalf("parseDurationMS(%q) = %d, want %d", raw, got, want)
		}
	}
}
