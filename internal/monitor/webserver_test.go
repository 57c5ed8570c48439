package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/mesh.report/internal/rflog"
)

func snr(v float64) *float64 { return &v }

func newTestServer(t *testing.T, observations []rflog.Observation) *httptest.Server {
	t.Helper()
	buf := rflog.NewBuffer(time.Hour, 1000)
	for _, obs := range observations {
		buf.Append(obs)
	}

	ws := NewWebServer(buf, NewFrameStats())
	mux := http.NewServeMux()
	ws.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestArrivalsChart(t *testing.T) {
	now := time.Now()
	srv := newTestServer(t, []rflog.Observation{
		{Timestamp: now, PayloadType: "GRP_TXT"},
		{Timestamp: now, PayloadType: "GRP_TXT"},
		{Timestamp: now, PayloadType: "ADVERT"},
		{Timestamp: now}, // undecodable
	})

	resp, err := http.Get(srv.URL + "/debug/mesh/arrivals")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestArrivalsChartEmptyBuffer(t *testing.T) {
	srv := newTestServer(t, nil)

	resp, err := http.Get(srv.URL + "/debug/mesh/arrivals")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 for empty buffer", resp.StatusCode)
	}
}

func TestSNRStats(t *testing.T) {
	now := time.Now()
	srv := newTestServer(t, []rflog.Observation{
		{Timestamp: now, SNR: snr(4)},
		{Timestamp: now, SNR: snr(8)},
		{Timestamp: now, SNR: snr(12)},
		{Timestamp: now}, // no SNR reported
	})

	resp, err := http.Get(srv.URL + "/debug/mesh/snr-stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var stats SNRStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}

	if stats.Count != 3 {
		t.Errorf("Count = %d, want 3 (nil SNR excluded)", stats.Count)
	}
	if stats.Mean != 8 {
		t.Errorf("Mean = %f, want 8", stats.Mean)
	}
	if stats.Median != 8 {
		t.Errorf("Median = %f, want 8", stats.Median)
	}
}

func TestSNRHistogram(t *testing.T) {
	now := time.Now()
	var observations []rflog.Observation
	for i := 0; i < 20; i++ {
		observations = append(observations, rflog.Observation{Timestamp: now, SNR: snr(float64(i) / 2)})
	}
	srv := newTestServer(t, observations)

	resp, err := http.Get(srv.URL + "/debug/mesh/snr-histogram.png")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
}

func TestFrameStatsEndpoint(t *testing.T) {
	buf := rflog.NewBuffer(time.Hour, 10)
	stats := NewFrameStats()
	ws := NewWebServer(buf, stats)
	mux := http.NewServeMux()
	ws.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Before any snapshot.
	resp, err := http.Get(srv.URL + "/debug/mesh/stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404 before first snapshot", resp.StatusCode)
	}

	stats.AddFrame(32)
	stats.AddTextMessage()
	stats.LogStats()

	resp, err = http.Get(srv.URL + "/debug/mesh/stats")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	var snap StatsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.TextMessagesCount != 1 {
		t.Errorf("TextMessagesCount = %d, want 1", snap.TextMessagesCount)
	}
}

func TestFrameStatsGetAndReset(t *testing.T) {
	stats := NewFrameStats()
	stats.AddFrame(10)
	stats.AddFrame(20)
	stats.AddUndecodable()

	frames, bytes, undecodable, _, _ := stats.GetAndReset()
	if frames != 2 || bytes != 30 || undecodable != 1 {
		t.Errorf("GetAndReset = (%d, %d, %d), want (2, 30, 1)", frames, bytes, undecodable)
	}

	frames, _, _, _, _ = stats.GetAndReset()
	if frames != 0 {
		t.Errorf("Counters not reset, frames = %d", frames)
	}
}
