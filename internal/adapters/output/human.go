package output

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/mikey-austin/montage_panel/internal/core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// HumanPrinter prints human-readable output.
type HumanPrinter struct {
	Out io.Writer
}

// Print renders human output.
func (p HumanPrinter) Print(v any) error {
	w := writerOrStdout(p.Out)
	switch data := v.(type) {
	case core.NodesResult:
		return printNodes(w, data)
	case core.StatusResult:
		return printStatus(w, data)
	case core.NavigateResult:
		return printNavigate(w, data)
	case core.PlayNowResult:
		return printPlayNow(w, data)
	case core.StopResult:
		return printStop(w, data)
	case core.SweepResult:
		_, err := fmt.Fprintf(w, "swept %d playlists (%d failed)\n", data.Reply.Deleted, data.Reply.Failed)
		return err
	case core.PlaylistListResult:
		return printPlaylists(w, data)
	default:
		_, err := fmt.Fprintln(w, "ok")
		return err
	}
}

// DisableColor turns off ANSI styling.
func DisableColor() {
	pterm.DisableColor()
}

func printTable(w io.Writer, data pterm.TableData) error {
	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}

func printNodes(w io.Writer, result core.NodesResult) error {
	data := pterm.TableData{{"NAME", "KIND", "NODE_ID"}}
	for _, node := range result.Nodes {
		data = append(data, []string{node.Name, node.Kind, node.NodeID})
	}
	return printTable(w, data)
}

func printStatus(w io.Writer, result core.StatusResult) error {
	state := result.State
	flags := []string{}
	if state.IsPlaylistChanging {
		flags = append(flags, pterm.Yellow("changing"))
	}
	if state.Processing {
		flags = append(flags, pterm.Yellow("processing"))
	}
	overlay := formatOverlay(state.Overlay)
	line := strings.TrimSpace(fmt.Sprintf("%s  [%s #%d]  %s  %s",
		pterm.Bold.Sprint(result.Navigator.Name),
		playlistLabel(state.PlaylistID),
		state.Position,
		overlay,
		strings.Join(flags, " "),
	))
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	details := fmt.Sprintf("screen %s  seq %d  playlists %d", orDash(state.ScreenID), state.Seq, state.Playlists)
	if state.Ephemeral != nil {
		details += fmt.Sprintf("  play-now %s (%s, restores %s)", state.Ephemeral.Name, state.Ephemeral.Phase, playlistLabel(state.Ephemeral.PriorPlaylistID))
	}
	_, err := fmt.Fprintln(w, pterm.Gray(details))
	return err
}

func printNavigate(w io.Writer, result core.NavigateResult) error {
	position := "0"
	if result.Position != nil {
		position = strconv.Itoa(*result.Position)
	}
	target := fmt.Sprintf("%s #%s", playlistLabel(result.PlaylistID), position)
	if !result.Reply.Accepted {
		_, err := fmt.Fprintf(w, "%s %s (%s)\n", pterm.Yellow("ignored"), target, result.Reply.Reason)
		return err
	}
	_, err := fmt.Fprintf(w, "%s %s track %s seq %d\n", pterm.Green("navigating"), target, orDash(result.Reply.Track), result.Reply.Seq)
	return err
}

func printPlayNow(w io.Writer, result core.PlayNowResult) error {
	expires := time.Unix(result.Reply.ExpiresAt, 0).Format(time.RFC3339)
	_, err := fmt.Fprintf(w, "%s %s as %s until %s, then %s\n",
		pterm.Green("playing"),
		result.MontageID,
		result.Reply.Name,
		expires,
		playlistLabel(result.Reply.PriorPlaylistID),
	)
	return err
}

func printStop(w io.Writer, result core.StopResult) error {
	if !result.Stopped {
		_, err := fmt.Fprintln(w, "nothing playing")
		return err
	}
	_, err := fmt.Fprintln(w, "stopped")
	return err
}

func printPlaylists(w io.Writer, result core.PlaylistListResult) error {
	data := pterm.TableData{{"ID", "NAME", "MONTAGES"}}
	for _, playlist := range result.Playlists {
		name := playlist.Name
		if playlist.Ephemeral {
			name = pterm.Gray(name)
		}
		data = append(data, []string{playlistLabel(playlist.PlaylistID), name, strconv.Itoa(len(playlist.Montages))})
	}
	return printTable(w, data)
}

func formatOverlay(overlay mp.Overlay) string {
	parts := []string{}
	if overlay.PlaylistName != "" {
		parts = append(parts, overlay.PlaylistName)
	}
	if overlay.MontageName != "" {
		parts = append(parts, overlay.MontageName)
	}
	if overlay.Track != "" {
		parts = append(parts, "track "+overlay.Track)
	}
	return strings.Join(parts, " / ")
}

func playlistLabel(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
