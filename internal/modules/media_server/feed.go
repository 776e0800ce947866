package mediaserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// ImportRequest asks the server to turn a media feed into a playlist.
type ImportRequest struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	// DefaultDurationMS applies to items without a duration.
	DefaultDurationMS int64 `json:"defaultDurationMs,omitempty"`
}

// fetchFeed downloads and parses the feed at feedURL.
func (m *Module) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "montage_panel/1.0")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("feed fetch failed: %s", resp.Status)
	}
	return gofeed.NewParser().Parse(resp.Body)
}

// montagesFromFeed builds one single-track montage per item with media.
func montagesFromFeed(feedURL string, feed *gofeed.Feed, defaultDurationMS int64) []mp.MontageRecord {
	out := make([]mp.MontageRecord, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		mediaURL := pickEnclosure(item)
		key := strings.TrimSpace(item.GUID)
		if key == "" {
			key = mediaURL
		}
		if key == "" || mediaURL == "" {
			continue
		}
		name := strings.TrimSpace(item.Title)
		if name == "" {
			name = key
		}
		duration := parseDurationMS(item)
		if duration == 0 {
			duration = defaultDurationMS
		}
		out = append(out, mp.MontageRecord{
			ID:         hashID("montage", feedURL+":"+key),
			Name:       name,
			TrackCount: 1,
			DurationMS: duration,
			URL:        mediaURL,
		})
	}
	return out
}

func pickEnclosure(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" {
			return enc.URL
		}
	}
	return strings.TrimSpace(item.Link)
}

// parseDurationMS reads itunes:duration as seconds or [hh:]mm:ss.
func parseDurationMS(item *gofeed.Item) int64 {
	if item.ITunesExt == nil {
		return 0
	}
	raw := strings.TrimSpace(item.ITunesExt.Duration)
	if raw == "" {
		return 0
	}
	total := int64(0)
	for _, part := range strings.Split(raw, ":") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total * 1000
}

func hashID(prefix string, input string) string {
	sum := sha1.Sum([]byte(input))
	return prefix + "-" + hex.EncodeToString(sum[:])[:12]
}
