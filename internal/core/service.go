package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mikey-austin/montage_panel/internal/ports"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// Service orchestrates mp CLI use cases against a navigator node.
type Service struct {
	Broker   ports.Broker
	Resolver Resolver
	Clock    ports.Clock
	IDGen    ports.IDGen
	Config   Config
}

// ListNodes returns presence entries, optionally filtered by kind.
func (s Service) ListNodes(ctx context.Context, kind string) (NodesResult, error) {
	nodes, err := s.Broker.ListPresence(ctx)
	if err != nil {
		return NodesResult{}, WrapError(ExitRuntime, "list nodes", err)
	}
	return NodesResult{Nodes: filterPresenceByKind(nodes, kind)}, nil
}

// Status returns the retained navigator state.
func (s Service) Status(ctx context.Context, selector string) (StatusResult, error) {
	navigator, err := s.Resolver.ResolveNavigator(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	state, err := s.Broker.GetNavigatorState(ctx, navigator.NodeID)
	if err != nil {
		return StatusResult{}, WrapError(ExitRuntime, "get navigator state", err)
	}
	return StatusResult{Navigator: navigator, State: state}, nil
}

// WatchStatus streams state and events for a navigator.
func (s Service) WatchStatus(ctx context.Context, selector string) (mp.Presence, <-chan mp.NavigatorState, <-chan mp.Event, <-chan error, error) {
	navigator, err := s.Resolver.ResolveNavigator(ctx, selector)
	if err != nil {
		return mp.Presence{}, nil, nil, nil, err
	}
	states, events, errs := s.Broker.WatchNavigator(ctx, navigator.NodeID)
	return navigator, states, events, errs, nil
}

// Navigate asks the navigator to show position of playlistID. A nil
// position starts at the beginning.
func (s Service) Navigate(ctx context.Context, selector string, playlistID string, position *int, force bool) (NavigateResult, error) {
	if position != nil && *position < 0 {
		return NavigateResult{}, &CLIError{Code: ExitUsage, Msg: "position must not be negative"}
	}
	var reply mp.NavigateReply
	nodeID, err := s.send(ctx, selector, "nav.navigate", mp.NavigateBody{PlaylistID: playlistID, Position: position, Force: force}, &reply)
	if err != nil {
		return NavigateResult{}, err
	}
	return NavigateResult{NavigatorID: nodeID, PlaylistID: playlistID, Position: position, Reply: reply}, nil
}

// PlayNow plays a single montage through a throwaway playlist.
func (s Service) PlayNow(ctx context.Context, selector string, montageID string, duration time.Duration) (PlayNowResult, error) {
	if montageID == "" {
		return PlayNowResult{}, &CLIError{Code: ExitUsage, Msg: "montage id required"}
	}
	var reply mp.PlayNowReply
	nodeID, err := s.send(ctx, selector, "nav.playNow", mp.PlayNowBody{MontageID: montageID, DurationMS: duration.Milliseconds()}, &reply)
	if err != nil {
		return PlayNowResult{}, err
	}
	return PlayNowResult{NavigatorID: nodeID, MontageID: montageID, Reply: reply}, nil
}

// Stop ends a live play-now playlist and restores the prior one.
func (s Service) Stop(ctx context.Context, selector string) (StopResult, error) {
	var reply mp.StopReply
	nodeID, err := s.send(ctx, selector, "nav.stop", struct{}{}, &reply)
	if err != nil {
		return StopResult{}, err
	}
	return StopResult{NavigatorID: nodeID, Stopped: reply.Stopped}, nil
}

// Sweep deletes leftover play-now playlists.
func (s Service) Sweep(ctx context.Context, selector string) (SweepResult, error) {
	var reply mp.SweepReply
	nodeID, err := s.send(ctx, selector, "nav.sweep", struct{}{}, &reply)
	if err != nil {
		return SweepResult{}, err
	}
	return SweepResult{NavigatorID: nodeID, Reply: reply}, nil
}

// Reload refreshes the navigator catalog from the media server.
func (s Service) Reload(ctx context.Context, selector string) (StatusResult, error) {
	return s.stateCommand(ctx, selector, "nav.reload", struct{}{})
}

// SetScreen changes the screen used for track resolution.
func (s Service) SetScreen(ctx context.Context, selector string, screenID string) (StatusResult, error) {
	return s.stateCommand(ctx, selector, "nav.setScreen", mp.SetScreenBody{ScreenID: screenID})
}

// Playlists lists the navigator catalog.
func (s Service) Playlists(ctx context.Context, selector string) (PlaylistListResult, error) {
	var reply mp.PlaylistsReply
	nodeID, err := s.send(ctx, selector, "nav.playlists", struct{}{}, &reply)
	if err != nil {
		return PlaylistListResult{}, err
	}
	return PlaylistListResult{NavigatorID: nodeID, Playlists: reply.Playlists}, nil
}

func (s Service) stateCommand(ctx context.Context, selector string, cmdType string, body any) (StatusResult, error) {
	navigator, err := s.Resolver.ResolveNavigator(ctx, selector)
	if err != nil {
		return StatusResult{}, err
	}
	var state mp.NavigatorState
	if err := s.publish(ctx, navigator.NodeID, cmdType, body, &state); err != nil {
		return StatusResult{}, err
	}
	return StatusResult{Navigator: navigator, State: state}, nil
}

func (s Service) send(ctx context.Context, selector string, cmdType string, body any, out any) (string, error) {
	navigator, err := s.Resolver.ResolveNavigator(ctx, selector)
	if err != nil {
		return "", err
	}
	return navigator.NodeID, s.publish(ctx, navigator.NodeID, cmdType, body, out)
}

func (s Service) publish(ctx context.Context, nodeID string, cmdType string, body any, out any) error {
	cmd, err := mp.NewCommand(cmdType, body)
	if err != nil {
		return WrapError(ExitRuntime, "build command", err)
	}
	cmd = s.decorateCommand(cmd)
	reply, err := s.Broker.PublishCommand(ctx, nodeID, cmd)
	if err != nil {
		return WrapError(ExitRuntime, "publish command", err)
	}
	if reply.Err != nil {
		return FromReply(*reply.Err)
	}
	if out == nil || len(reply.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(reply.Body, out); err != nil {
		return WrapError(ExitRuntime, "decode "+cmdType+" reply", err)
	}
	return nil
}

func (s Service) decorateCommand(cmd mp.CommandEnvelope) mp.CommandEnvelope {
	cmd.ID = s.IDGen.NewID()
	cmd.TS = s.Clock.NowUnix()
	cmd.From = s.Config.Identity
	cmd.ReplyTo = s.Broker.ReplyTopic()
	return cmd
}
