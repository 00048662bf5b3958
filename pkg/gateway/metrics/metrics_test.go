package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vango-go/vai-livetranslate/pkg/core/live"
	"github.com/vango-go/vai-livetranslate/pkg/core/usage"
	"github.com/vango-go/vai-livetranslate/pkg/gateway/live/room"
)

var (
	_ live.MetricsRecorder = (*Metrics)(nil)
	_ room.Metrics         = (*Metrics)(nil)
)

func TestMetrics_EngineSessionLifecycle(t *testing.T) {
	m := New("")

	m.RecordSessionStart(true)
	m.RecordSessionStart(false)
	if got := testutil.ToFloat64(m.SessionsActive); got != 2 {
		t.Fatalf("sessions_active=%v, want 2", got)
	}
	m.RecordSessionEnd("stop", 12)
	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Fatalf("sessions_active=%v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal.WithLabelValues("solo")); got != 1 {
		t.Fatalf("sessions_total{solo}=%v", got)
	}
	if n := testutil.CollectAndCount(m.SessionDuration); n != 1 {
		t.Fatalf("session_duration series=%d, want 1", n)
	}
}

func TestMetrics_RecordTokensSkipsZeroAndAddsCost(t *testing.T) {
	m := New("test")
	m.RecordTokens(usage.Counters{InputAudioTokens: 32, OutputAudioTokens: 25, CostUSD: 0.01})
	m.RecordTokens(usage.Counters{OutputTextTokens: 4})

	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "audio")); got != 32 {
		t.Fatalf("input audio=%v", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "text")); got != 4 {
		t.Fatalf("output text=%v", got)
	}
	if n := testutil.CollectAndCount(m.TokensTotal); n != 3 {
		t.Fatalf("token series=%d, want 3 (zero deltas create none)", n)
	}
	if got := testutil.ToFloat64(m.CostUSDTotal); got != 0.01 {
		t.Fatalf("cost=%v", got)
	}
}

func TestMetrics_HubCounters(t *testing.T) {
	m := New("")
	m.RecordPeerJoin()
	m.RecordPeerJoin()
	m.RecordPeerLeave("leave")
	m.RecordRelay(100)
	m.RecordRelay(50)
	m.RecordDrop("rate_limited")
	m.SetRooms(1)
	m.RecordJoinDenied("room_full")

	if got := testutil.ToFloat64(m.PeersActive); got != 1 {
		t.Fatalf("peers_active=%v", got)
	}
	if got := testutil.ToFloat64(m.RelayBytesTotal); got != 150 {
		t.Fatalf("relay_bytes=%v", got)
	}
	if got := testutil.ToFloat64(m.RelayFramesTotal); got != 2 {
		t.Fatalf("relay_frames=%v", got)
	}
	if got := testutil.ToFloat64(m.RelayDropsTotal.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("drops=%v", got)
	}
	if got := testutil.ToFloat64(m.RoomsActive); got != 1 {
		t.Fatalf("rooms=%v", got)
	}
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := New("")
	m.RecordError("quota")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `livetranslate_errors_total{kind="quota"} 1`) {
		t.Fatalf("metrics body missing errors_total:\n%s", body)
	}
}
