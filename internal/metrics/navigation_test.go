package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey-austin/montage_panel/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestPromhttpExposure(t *testing.T) {
	metrics.RecordNavigation("user", "accepted")
	metrics.RecordNotice(true)
	metrics.RecordPollOutcome("confirmed")
	metrics.RecordEphemeral("created")
	metrics.SetEphemeralLive(true)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"mp_navigations_total",
		"mp_notices_total",
		"mp_confirmation_poll_outcomes_total",
		"mp_ephemeral_playlists_total",
		"mp_ephemeral_live 1",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("missing %s in exposition", name)
		}
	}
}
