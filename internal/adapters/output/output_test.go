package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mikey-austin/montage_panel/internal/core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func TestHumanPrinterRendersResults(t *testing.T) {
	DisableColor()
	position := 2
	cases := []struct {
		name string
		in   any
		want []string
	}{
		{"nodes", core.NodesResult{Nodes: []mp.Presence{{NodeID: "mp:navigator:lobby", Kind: mp.KindNavigator, Name: "Lobby"}}}, []string{"NODE_ID", "mp:navigator:lobby"}},
		{"status", core.StatusResult{
			Navigator: mp.Presence{Name: "Lobby"},
			State: mp.NavigatorState{
				PlaylistID:         "P1",
				Position:           2,
				IsPlaylistChanging: true,
				Overlay:            mp.Overlay{PlaylistName: "Atrium", MontageName: "Harbour", Track: "2"},
				Ephemeral:          &mp.EphemeralState{Name: "Temp_Playlist_1", Phase: "active"},
			},
		}, []string{"Lobby", "[P1 #2]", "Atrium / Harbour / track 2", "changing", "play-now Temp_Playlist_1 (active, restores default)"}},
		{"navigate", core.NavigateResult{PlaylistID: "P1", Position: &position, Reply: mp.NavigateReply{Accepted: true, Track: "1", Seq: 7}}, []string{"navigating P1 #2 track 1 seq 7"}},
		{"ignored", core.NavigateResult{PlaylistID: "P1", Reply: mp.NavigateReply{Reason: "duplicate"}}, []string{"ignored P1 #0 (duplicate)"}},
		{"stop", core.StopResult{}, []string{"nothing playing"}},
		{"sweep", core.SweepResult{Reply: mp.SweepReply{Deleted: 3}}, []string{"swept 3 playlists (0 failed)"}},
		{"playlists", core.PlaylistListResult{Playlists: []mp.PlaylistSummary{{PlaylistID: "P1", Name: "Atrium", Montages: []string{"a", "b"}}}}, []string{"Atrium", "2"}},
		{"fallback", struct{}{}, []string{"ok"}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		if err := (HumanPrinter{Out: &buf}).Print(tc.in); err != nil {
			t.Fatalf("%s: print: %v", tc.name, err)
		}
		for _, want := range tc.want {
			if !strings.Contains(buf.String(), want) {
				t.Fatalf("%s: expected %q in %q", tc.name, want, buf.String())
			}
		}
	}
}

func TestJSONPrinter(t *testing.T) {
	var buf bytes.Buffer
	if err := (JSONPrinter{Out: &buf}).Print(core.StopResult{NavigatorID: "mp:navigator:lobby", Stopped: true}); err != nil {
		t.Fatalf("print: %v", err)
	}
	var decoded core.StopResult
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Stopped || decoded.NavigatorID != "mp:navigator:lobby" {
		t.Fatalf("unexpected decoded %+v", decoded)
	}
}
