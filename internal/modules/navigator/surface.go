package navigator

import (
	"context"
	"encoding/json"

	"github.com/mikey-austin/montage_panel/pkg/mp"
)

// mqttSurface delivers navigation notices to a playback surface node.
type mqttSurface struct {
	client mqttClient
	topic  string
}

func (s *mqttSurface) Notify(ctx context.Context, notice mp.NavigationNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	return s.client.Publish(s.topic, 1, false, payload)
}
