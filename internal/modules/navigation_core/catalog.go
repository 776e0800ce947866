package navigationcore

import "sync"

// Catalog is the shared playlist collection. Updates go through Set and
// never touch a slice that a reader may hold.
type Catalog struct {
	mu        sync.RWMutex
	playlists []PlaylistRef
}

// NewCatalog creates a catalog holding a copy of playlists.
func NewCatalog(playlists []PlaylistRef) *Catalog {
	return &Catalog{playlists: clonePlaylists(playlists)}
}

// Set replaces the collection with update(current). update receives a copy.
func (c *Catalog) Set(update func(current []PlaylistRef) []PlaylistRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playlists = clonePlaylists(update(clonePlaylists(c.playlists)))
}

// Replace swaps in a freshly loaded collection.
func (c *Catalog) Replace(playlists []PlaylistRef) {
	c.Set(func([]PlaylistRef) []PlaylistRef { return playlists })
}

// Upsert adds or replaces the playlist with the same ID.
func (c *Catalog) Upsert(playlist PlaylistRef) {
	c.Set(func(current []PlaylistRef) []PlaylistRef {
		for i := range current {
			if current[i].ID == playlist.ID {
				current[i] = playlist
				return current
			}
		}
		return append(current, playlist)
	})
}

// Remove drops the playlist with id.
func (c *Catalog) Remove(id string) {
	c.Set(func(current []PlaylistRef) []PlaylistRef {
		out := current[:0]
		for _, p := range current {
			if p.ID != id {
				out = append(out, p)
			}
		}
		return out
	})
}

// Snapshot returns a copy of the collection.
func (c *Catalog) Snapshot() []PlaylistRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clonePlaylists(c.playlists)
}

// Len returns the number of playlists.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.playlists)
}

// Find looks up a playlist by id.
func (c *Catalog) Find(id string) (PlaylistRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.playlists {
		if p.ID == id {
			return clonePlaylist(p), true
		}
	}
	return PlaylistRef{}, false
}

// Montage returns the montage at position within playlist id.
func (c *Catalog) Montage(id string, position int) (MontageRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.playlists {
		if p.ID != id {
			continue
		}
		if position < 0 || position >= len(p.Montages) {
			return MontageRef{}, false
		}
		return p.Montages[position], true
	}
	return MontageRef{}, false
}

// FindMontage looks up a montage by id across all playlists.
func (c *Catalog) FindMontage(id string) (MontageRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.playlists {
		for _, m := range p.Montages {
			if m.ID == id {
				return m, true
			}
		}
	}
	return MontageRef{}, false
}

func clonePlaylists(in []PlaylistRef) []PlaylistRef {
	if in == nil {
		return nil
	}
	out := make([]PlaylistRef, len(in))
	for i, p := range in {
		out[i] = clonePlaylist(p)
	}
	return out
}

func clonePlaylist(p PlaylistRef) PlaylistRef {
	if p.Montages != nil {
		montages := make([]MontageRef, len(p.Montages))
		copy(montages, p.Montages)
		p.Montages = montages
	}
	return p
}
