package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/mesh.report/internal/rflog"
)

// WebServer serves the RF monitoring endpoints over the observation
// buffer. Routes are debugging-only (no auth) and meant to be mounted
// behind the admin mux.
type WebServer struct {
	buf   *rflog.Buffer
	stats *FrameStats
}

func NewWebServer(buf *rflog.Buffer, stats *FrameStats) *WebServer {
	return &WebServer{buf: buf, stats: stats}
}

// RegisterRoutes mounts the monitoring handlers on the given mux.
func (ws *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/mesh/arrivals", ws.handleArrivalsChart)
	mux.HandleFunc("/debug/mesh/snr-stats", ws.handleSNRStats)
	mux.HandleFunc("/debug/mesh/snr-histogram.png", ws.handleSNRHistogram)
	mux.HandleFunc("/debug/mesh/stats", ws.handleFrameStats)
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// handleArrivalsChart renders a bar chart (HTML) of buffered frame
// arrivals bucketed by payload type using go-echarts.
func (ws *WebServer) handleArrivalsChart(w http.ResponseWriter, r *http.Request) {
	snap := ws.buf.Snapshot()
	if len(snap) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no RF observations buffered")
		return
	}

	counts := make(map[string]int)
	for _, obs := range snap {
		typ := obs.PayloadType
		if typ == "" {
			typ = "undecodable"
		}
		counts[typ]++
	}

	types := make([]string, 0, len(counts))
	for typ := range counts {
		types = append(types, typ)
	}
	sort.Strings(types)

	data := make([]opts.BarData, 0, len(types))
	for _, typ := range types {
		data = append(data, opts.BarData{Value: counts[typ]})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "RF Arrivals", Theme: "dark", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Buffered RF frames by payload type",
			Subtitle: fmt.Sprintf("window=%d frames, oldest=%s", len(snap), snap[0].Timestamp.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(types)
	bar.AddSeries("frames", data)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// SNRStats summarises the SNR of buffered frames.
type SNRStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	P05    float64 `json:"p05"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

func (ws *WebServer) snrSamples() []float64 {
	var samples []float64
	for _, obs := range ws.buf.Snapshot() {
		if obs.SNR != nil {
			samples = append(samples, *obs.SNR)
		}
	}
	sort.Float64s(samples)
	return samples
}

// handleSNRStats reports mean, spread, and quantiles of the buffered
// frames' SNR as JSON.
func (ws *WebServer) handleSNRStats(w http.ResponseWriter, r *http.Request) {
	samples := ws.snrSamples()
	if len(samples) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no SNR samples buffered")
		return
	}

	mean, std := stat.MeanStdDev(samples, nil)
	out := SNRStats{
		Count:  len(samples),
		Mean:   mean,
		StdDev: std,
		P05:    stat.Quantile(0.05, stat.Empirical, samples, nil),
		Median: stat.Quantile(0.5, stat.Empirical, samples, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, samples, nil),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleSNRHistogram renders a PNG histogram of buffered SNR samples.
func (ws *WebServer) handleSNRHistogram(w http.ResponseWriter, r *http.Request) {
	samples := ws.snrSamples()
	if len(samples) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no SNR samples buffered")
		return
	}

	values := make(plotter.Values, len(samples))
	copy(values, samples)

	p := plot.New()
	p.Title.Text = "SNR distribution"
	p.X.Label.Text = "SNR (dB)"
	p.Y.Label.Text = "Frames"

	hist, err := plotter.NewHist(values, 16)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to build histogram: %v", err))
		return
	}
	p.Add(hist)

	wt, err := p.WriterTo(6*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render histogram: %v", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}

// handleFrameStats reports the latest frame rate snapshot as JSON.
func (ws *WebServer) handleFrameStats(w http.ResponseWriter, r *http.Request) {
	snap := ws.stats.LatestSnapshot()
	if snap == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no stats recorded yet")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
