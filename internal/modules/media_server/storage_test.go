package mediaserver

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func TestStoragePersistsAcrossReopen(t *testing.T) {
	root := t.TempDir()
	store, err := NewStorage(root)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if err := store.SaveMontage(mp.MontageRecord{ID: "m1", Name: "Harbour", TrackCount: 2}); err != nil {
		t.Fatalf("save montage: %v", err)
	}
	saved, err := store.SavePlaylist(mp.PlaylistRecord{ID: "p1", Name: "Lobby", MontageIDs: []string{"m1", "gone"}})
	if err != nil {
		t.Fatalf("save playlist: %v", err)
	}
	if saved.Revision != 1 || len(saved.Montages) != 1 {
		t.Fatalf("unexpected saved playlist %+v", saved)
	}

	raw, err := os.ReadFile(filepath.Join(root, "playlists", "p1.json"))
	if err != nil {
		t.Fatalf("read playlist file: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("empty playlist file")
	}
	leftovers, _ := filepath.Glob(filepath.Join(root, "playlists", "*.tmp.*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}

	reopened, err := NewStorage(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	pl, err := reopened.GetPlaylist("p1")
	if err != nil {
		t.Fatalf("get playlist: %v", err)
	}
	if pl.Name != "Lobby" || len(pl.Montages) != 1 || pl.Montages[0].Name != "Harbour" {
		t.Fatalf("unexpected reloaded playlist %+v", pl)
	}
	if err := reopened.DeletePlaylist("p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reopened.GetPlaylist("p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
