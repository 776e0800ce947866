package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mikey-austin/montage_panel/internal/core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func navCommand() *cobra.Command {
	var (
		selector string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "nav <playlist> [position]",
		Short: "Navigate to a playlist position",
		Long:  "Navigate to a playlist position. Use \"default\" or \"\" for the default playlist. Position defaults to 0.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			playlistID := playlistArg(args[0])
			var position *int
			if len(args) == 2 {
				position, err = parsePosition(args[1])
				if err != nil {
					return err
				}
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			result, err := app.service.Navigate(ctx, selector, playlistID, position, force)
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().StringVarP(&selector, "navigator", "n", "", "navigator selector")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-send even if already showing the position")
	return cmd
}

func playNowCommand() *cobra.Command {
	var (
		selector string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "play-now <montage>",
		Short: "Play a single montage, then return to the current playlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			// Creation waits for the device to confirm, so allow longer than a plain command.
			ctx, cancel := withTimeout(cmd.Context(), 4*app.timeout)
			defer cancel()
			result, err := app.service.PlayNow(ctx, selector, args[0], duration)
			if core.IsReply(err, mp.CodeBusy) {
				return core.WrapError(core.ExitBusy, "another play-now is starting or stopping, retry shortly", err)
			}
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().StringVarP(&selector, "navigator", "n", "", "navigator selector")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "override the montage duration")
	return cmd
}

func stopCommand() *cobra.Command {
	return simpleCommand("stop [navigator]", "Stop play-now and restore the prior playlist", func(cmd *cobra.Command, app *app, selector string) (any, error) {
		return app.service.Stop(cmd.Context(), selector)
	})
}

func sweepCommand() *cobra.Command {
	return simpleCommand("sweep [navigator]", "Delete leftover play-now playlists", func(cmd *cobra.Command, app *app, selector string) (any, error) {
		return app.service.Sweep(cmd.Context(), selector)
	})
}

func reloadCommand() *cobra.Command {
	return simpleCommand("reload [navigator]", "Reload the playlist catalog from the media server", func(cmd *cobra.Command, app *app, selector string) (any, error) {
		return app.service.Reload(cmd.Context(), selector)
	})
}

func playlistsCommand() *cobra.Command {
	return simpleCommand("playlists [navigator]", "List the navigator playlist catalog", func(cmd *cobra.Command, app *app, selector string) (any, error) {
		return app.service.Playlists(cmd.Context(), selector)
	})
}

func screenCommand() *cobra.Command {
	var selector string

	cmd := &cobra.Command{
		Use:   "screen <screen-id>",
		Short: "Set the screen used to pick montage tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), app.timeout)
			defer cancel()
			result, err := app.service.SetScreen(ctx, selector, args[0])
			if err != nil {
				return err
			}
			return app.printer.Print(result)
		},
	}
	cmd.Flags().StringVarP(&selector, "navigator", "n", "", "navigator selector")
	return cmd
}

type simpleRun func(cmd *cobra.Command, app *app, selector string) (any, error)

func simpleCommand(use string, short string, run simpleRun) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.RangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := fromContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := withTimeout(cmd.Context(), 4*app.timeout)
			defer cancel()
			cmd.SetContext(ctx)
			result, err := run(cmd, app, selectorArg(args))
			if err != nil {
				return err
			}
			if app.quiet && !app.json {
				return nil
			}
			return app.printer.Print(result)
		},
	}
}

func playlistArg(arg string) string {
	if arg == "default" {
		return ""
	}
	return arg
}

func parsePosition(arg string) (*int, error) {
	position, err := strconv.Atoi(arg)
	if err != nil || position < 0 {
		return nil, &core.CLIError{Code: core.ExitUsage, Msg: "position must be a non-negative integer"}
	}
	return &position, nil
}
