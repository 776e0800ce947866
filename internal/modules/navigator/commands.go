package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	navigationcore "github.com/mikey-austin/montage_panel/internal/modules/navigation_core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

func (m *Module) handleMessage(ctx context.Context, msg paho.Message) {
	var cmd mp.CommandEnvelope
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		m.log.Warn("invalid command", zap.Error(err))
		return
	}
	if err := mp.ValidateCommandEnvelope(cmd); err != nil {
		m.publishReply(cmd.ReplyTo, errorReply(cmd, mp.CodeInvalid, err.Error()))
		return
	}

	// These wait on the device, so they must not hold up the MQTT router.
	switch cmd.Type {
	case "nav.playNow", "nav.stop", "nav.sweep", "nav.reload":
		m.cmdWG.Add(1)
		go func() {
			defer m.cmdWG.Done()
			m.publishReply(cmd.ReplyTo, m.dispatch(ctx, cmd))
		}()
		return
	}
	m.publishReply(cmd.ReplyTo, m.dispatch(ctx, cmd))
}

func (m *Module) publishReply(replyTo string, reply mp.ReplyEnvelope) {
	if replyTo == "" {
		return
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		m.log.Error("marshal reply", zap.Error(err))
		return
	}
	if err := m.client.Publish(replyTo, 1, false, payload); err != nil {
		m.log.Error("publish reply", zap.Error(err))
	}
}

func (m *Module) dispatch(ctx context.Context, cmd mp.CommandEnvelope) mp.ReplyEnvelope {
	reply := mp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "ack",
		OK:   true,
		TS:   m.clock.NowUnix(),
	}

	switch cmd.Type {
	case "nav.navigate":
		return m.navNavigate(cmd, reply)
	case "nav.playNow":
		return m.navPlayNow(ctx, cmd, reply)
	case "nav.stop":
		return m.navStop(ctx, reply)
	case "nav.sweep":
		return m.navSweep(ctx, reply)
	case "nav.reload":
		m.reload(ctx)
		return withBody(reply, m.snapshot())
	case "nav.setScreen":
		return m.navSetScreen(cmd, reply)
	case "nav.status":
		return withBody(reply, m.snapshot())
	case "nav.playlists":
		return withBody(reply, m.playlists())
	default:
		return errorReply(cmd, mp.CodeInvalid, "unsupported command")
	}
}

func (m *Module) navNavigate(cmd mp.CommandEnvelope, reply mp.ReplyEnvelope) mp.ReplyEnvelope {
	var body mp.NavigateBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, mp.CodeInvalid, "invalid body")
	}
	if body.Position != nil && *body.Position < 0 {
		return errorReply(cmd, mp.CodeInvalid, "position must not be negative")
	}
	res := m.nav.Navigate(navigationcore.NavigateRequest{
		PlaylistID: body.PlaylistID,
		Position:   body.Position,
		Force:      body.Force,
		Origin:     navigationcore.OriginUser,
	})
	return withBody(reply, mp.NavigateReply{
		Accepted: res.Accepted,
		Reason:   string(res.Reason),
		Seq:      res.Intent.Seq,
		Track:    res.Overlay.Track,
	})
}

func (m *Module) navPlayNow(ctx context.Context, cmd mp.CommandEnvelope, reply mp.ReplyEnvelope) mp.ReplyEnvelope {
	var body mp.PlayNowBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, mp.CodeInvalid, "invalid body")
	}
	if body.MontageID == "" {
		return errorReply(cmd, mp.CodeInvalid, "montageId required")
	}
	montage, ok := m.findMontage(ctx, body.MontageID)
	if !ok {
		return errorReply(cmd, mp.CodeNotFound, "montage not found")
	}
	if body.DurationMS > 0 {
		montage.Duration = time.Duration(body.DurationMS) * time.Millisecond
	}

	record, err := m.eph.PlayNow(ctx, montage)
	switch {
	case errors.Is(err, navigationcore.ErrEphemeralBusy):
		return errorReply(cmd, mp.CodeBusy, err.Error())
	case errors.Is(err, navigationcore.ErrSuperseded), errors.Is(err, navigationcore.ErrStopped):
		return errorReply(cmd, mp.CodeConflict, err.Error())
	case err != nil:
		return errorReply(cmd, mp.CodeUnavailable, err.Error())
	}
	m.markDirty()
	m.publishEvent(mp.EventEphemeralChange, mp.EphemeralState{
		PlaylistID:      record.TempPlaylistID,
		Name:            record.Name,
		PriorPlaylistID: record.PriorPlaylistID,
		Phase:           string(navigationcore.PhaseActive),
		CreatedAt:       record.CreatedAt.Unix(),
	})
	return withBody(reply, mp.PlayNowReply{
		PlaylistID:      record.TempPlaylistID,
		Name:            record.Name,
		PriorPlaylistID: record.PriorPlaylistID,
		ExpiresAt:       record.ExpiresAt.Unix(),
	})
}

// findMontage looks in the catalog first and falls back to the media
// server montage list.
func (m *Module) findMontage(ctx context.Context, id string) (navigationcore.MontageRef, bool) {
	if montage, ok := m.nav.Catalog().FindMontage(id); ok {
		return montage, true
	}
	records, err := m.backend.ListMontages(ctx)
	if err != nil {
		m.log.Warn("list montages failed", zap.Error(err))
		return navigationcore.MontageRef{}, false
	}
	for _, record := range records {
		if record.ID == id {
			return navigationcore.MontageFromRecord(record), true
		}
	}
	return navigationcore.MontageRef{}, false
}

func (m *Module) navStop(ctx context.Context, reply mp.ReplyEnvelope) mp.ReplyEnvelope {
	stopped := m.eph.Stop(ctx)
	if stopped {
		m.markDirty()
		m.publishEvent(mp.EventEphemeralChange, mp.EphemeralState{Phase: string(navigationcore.PhaseIdle)})
	}
	return withBody(reply, mp.StopReply{Stopped: stopped})
}

func (m *Module) navSweep(ctx context.Context, reply mp.ReplyEnvelope) mp.ReplyEnvelope {
	playlists := m.nav.Catalog().Snapshot()
	if records, err := m.backend.ListPlaylists(ctx); err == nil {
		playlists = navigationcore.PlaylistsFromRecords(records)
	} else {
		m.log.Warn("list playlists failed, sweeping cached catalog", zap.Error(err))
	}
	res := m.eph.Sweep(ctx, playlists)
	m.markDirty()
	return withBody(reply, mp.SweepReply{Deleted: res.Deleted, Failed: res.Failed})
}

func (m *Module) navSetScreen(cmd mp.CommandEnvelope, reply mp.ReplyEnvelope) mp.ReplyEnvelope {
	var body mp.SetScreenBody
	if err := json.Unmarshal(cmd.Body, &body); err != nil {
		return errorReply(cmd, mp.CodeInvalid, "invalid body")
	}
	m.nav.SetScreen(body.ScreenID)
	return withBody(reply, m.snapshot())
}

func (m *Module) playlists() mp.PlaylistsReply {
	snapshot := m.nav.Catalog().Snapshot()
	out := mp.PlaylistsReply{Playlists: make([]mp.PlaylistSummary, 0, len(snapshot))}
	for _, playlist := range snapshot {
		names := make([]string, 0, len(playlist.Montages))
		for _, montage := range playlist.Montages {
			names = append(names, montage.Name)
		}
		out.Playlists = append(out.Playlists, mp.PlaylistSummary{
			PlaylistID: playlist.ID,
			Name:       playlist.Name,
			Montages:   names,
			Ephemeral:  navigationcore.IsEphemeralName(playlist.Name),
		})
	}
	return out
}

func withBody(reply mp.ReplyEnvelope, body any) mp.ReplyEnvelope {
	payload, err := json.Marshal(body)
	if err != nil {
		return mp.ReplyEnvelope{ID: reply.ID, Type: "error", TS: reply.TS, Err: &mp.ReplyError{Code: mp.CodeInternal, Message: err.Error()}}
	}
	reply.Body = payload
	return reply
}

func errorReply(cmd mp.CommandEnvelope, code string, message string) mp.ReplyEnvelope {
	return mp.ReplyEnvelope{
		ID:   cmd.ID,
		Type: "error",
		OK:   false,
		TS:   time.Now().Unix(),
		Err:  &mp.ReplyError{Code: code, Message: message},
	}
}
