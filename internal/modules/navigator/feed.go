package navigator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	navigationcore "github.com/mikey-austin/montage_panel/internal/modules/navigation_core"
	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// runFeed follows the media server change feed, reconnecting with
// exponential backoff until ctx ends.
func (m *Module) runFeed(ctx context.Context) {
	defer m.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = m.config.FeedRetryMax

	for ctx.Err() == nil {
		events, errs := m.backend.Events(ctx)
		for event := range events {
			retry.Reset()
			m.handleServerEvent(ctx, event)
		}
		if err, ok := <-errs; ok && err != nil {
			m.log.Warn("change feed disconnected", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
		delay := retry.NextBackOff()
		m.log.Debug("change feed reconnecting", zap.Duration("delay", delay))
		if err := m.clock.Sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (m *Module) handleServerEvent(ctx context.Context, event mp.ServerEvent) {
	switch event.Type {
	case mp.EventCurrentChanged:
		if event.DeviceID != "" && event.DeviceID != m.config.DeviceID {
			return
		}
		if event.Position == nil && event.Origin == mp.OriginDevice && m.nav.ConsumeEcho(event.PlaylistID) {
			m.log.Debug("ignoring load echo", zap.String("playlist", event.PlaylistID))
			return
		}
		if event.Position == nil && event.PlaylistID == m.nav.State().PlaylistID {
			return
		}
		origin := navigationcore.OriginExternal
		if event.Origin == string(navigationcore.OriginAutoSync) {
			origin = navigationcore.OriginAutoSync
		}
		res := m.nav.Navigate(navigationcore.NavigateRequest{
			PlaylistID: event.PlaylistID,
			Position:   event.Position,
			Origin:     origin,
			Loaded:     true,
		})
		m.log.Debug("external navigation",
			zap.String("playlist", event.PlaylistID),
			zap.Bool("accepted", res.Accepted),
			zap.String("reason", string(res.Reason)),
		)
	case mp.EventPlaylistsChanged:
		m.reload(ctx)
	default:
		m.log.Debug("ignoring server event", zap.String("type", event.Type))
	}
}
