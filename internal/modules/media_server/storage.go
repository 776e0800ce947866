package mediaserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// ErrNotFound is returned for unknown playlists and montages.
var ErrNotFound = errors.New("not found")

// Storage persists montages and playlists as JSON files under root.
type Storage struct {
	root string
	mu   sync.Mutex
}

// NewStorage creates a storage at root.
func NewStorage(root string) (*Storage, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage path required")
	}
	for _, dir := range []string{"playlists", "montages"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, err
		}
	}
	return &Storage{root: root}, nil
}

func (s *Storage) playlistPath(id string) string {
	return filepath.Join(s.root, "playlists", safeFilename(id)+".json")
}

func (s *Storage) montagePath(id string) string {
	return filepath.Join(s.root, "montages", safeFilename(id)+".json")
}

// ListPlaylists returns all playlists ordered by name, montages expanded.
func (s *Storage) ListPlaylists() ([]mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	playlists, err := listDir[mp.PlaylistRecord](filepath.Join(s.root, "playlists"))
	if err != nil {
		return nil, err
	}
	sort.Slice(playlists, func(i, j int) bool {
		if playlists[i].Name == playlists[j].Name {
			return playlists[i].ID < playlists[j].ID
		}
		return playlists[i].Name < playlists[j].Name
	})
	for i := range playlists {
		playlists[i].Montages = s.expandLocked(playlists[i].MontageIDs)
	}
	return playlists, nil
}

// GetPlaylist loads a playlist by id with montages expanded.
func (s *Storage) GetPlaylist(id string) (mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pl mp.PlaylistRecord
	if err := readJSON(s.playlistPath(id), &pl); err != nil {
		return mp.PlaylistRecord{}, notFound(err)
	}
	pl.Montages = s.expandLocked(pl.MontageIDs)
	return pl, nil
}

// SavePlaylist writes a playlist, bumping its revision.
func (s *Storage) SavePlaylist(pl mp.PlaylistRecord) (mp.PlaylistRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pl.Revision++
	pl.UpdatedAt = time.Now().Unix()
	if pl.MontageIDs == nil {
		pl.MontageIDs = []string{}
	}
	stored := pl
	stored.Montages = nil
	if err := writeFileJSON(s.playlistPath(pl.ID), stored); err != nil {
		return mp.PlaylistRecord{}, err
	}
	pl.Montages = s.expandLocked(pl.MontageIDs)
	return pl, nil
}

// DeletePlaylist removes a playlist.
func (s *Storage) DeletePlaylist(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.playlistPath(id)); err != nil {
		return notFound(err)
	}
	return nil
}

// ListMontages returns the montage library ordered by name.
func (s *Storage) ListMontages() ([]mp.MontageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	montages, err := listDir[mp.MontageRecord](filepath.Join(s.root, "montages"))
	if err != nil {
		return nil, err
	}
	sort.Slice(montages, func(i, j int) bool { return montages[i].Name < montages[j].Name })
	return montages, nil
}

// GetMontage loads a montage by id.
func (s *Storage) GetMontage(id string) (mp.MontageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var m mp.MontageRecord
	if err := readJSON(s.montagePath(id), &m); err != nil {
		return mp.MontageRecord{}, notFound(err)
	}
	return m, nil
}

// SaveMontage writes a montage.
func (s *Storage) SaveMontage(m mp.MontageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileJSON(s.montagePath(m.ID), m)
}

// expandLocked resolves montage ids, skipping ones that no longer exist.
func (s *Storage) expandLocked(ids []string) []mp.MontageRecord {
	out := make([]mp.MontageRecord, 0, len(ids))
	for _, id := range ids {
		var m mp.MontageRecord
		if err := readJSON(s.montagePath(id), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func listDir[T any](dir string) ([]T, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(paths))
	for _, path := range paths {
		var v T
		if err := readJSON(path, &v); err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		out = append(out, v)
	}
	return out, nil
}

func notFound(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeFileJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func safeFilename(id string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_", "..", "_")
	return replacer.Replace(id)
}
