// Package api serves the bridge's JSON API: buffered RF observations,
// known contacts, packet decoding, and on-demand path correlation.
package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/mesh.report/internal/correlate"
	"github.com/banshee-data/mesh.report/internal/db"
	"github.com/banshee-data/mesh.report/internal/packet"
	"github.com/banshee-data/mesh.report/internal/rflog"
	"github.com/banshee-data/mesh.report/internal/serialmux"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m          serialmux.SerialMuxInterface
	db         *db.DB
	buf        *rflog.Buffer
	correlator *correlate.Correlator
}

func NewServer(m serialmux.SerialMuxInterface, db *db.DB, buf *rflog.Buffer, correlator *correlate.Correlator) *Server {
	return &Server{
		m:          m,
		db:         db,
		buf:        buf,
		correlator: correlator,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/observations", s.listObservations)
	mux.HandleFunc("/api/contacts", s.listContacts)
	mux.HandleFunc("/api/decode", s.decodePacket)
	mux.HandleFunc("/api/correlate", s.runCorrelation)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// listObservations returns the buffered RF observations, optionally
// filtered by identity hash (?hash=) or age (?since=, a duration).
func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	snap := s.buf.Snapshot()

	if since := r.URL.Query().Get("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'since' parameter")
			return
		}
		cutoff := time.Now().Add(-d)
		filtered := snap[:0]
		for _, obs := range snap {
			if !obs.Timestamp.Before(cutoff) {
				filtered = append(filtered, obs)
			}
		}
		snap = filtered
	}

	if hash := r.URL.Query().Get("hash"); hash != "" {
		filtered := make([]rflog.Observation, 0, len(snap))
		for _, obs := range snap {
			if obs.Hash == hash {
				filtered = append(filtered, obs)
			}
		}
		snap = filtered
	}

	if snap == nil {
		snap = []rflog.Observation{}
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write observations")
		return
	}
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var (
		contacts []db.RepeaterContact
		err      error
	)
	if prefix := r.URL.Query().Get("prefix"); prefix != "" {
		contacts, err = s.db.LookupByPrefix(prefix)
	} else {
		contacts, err = s.db.ListContacts()
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve contacts: %v", err))
		return
	}

	if contacts == nil {
		contacts = []db.RepeaterContact{}
	}
	if err := json.NewEncoder(w).Encode(contacts); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write contacts")
		return
	}
}

// decodedPacket controls the JSON shape of a decoded frame; the Packet
// struct itself carries internal fields we don't want on the wire.
type decodedPacket struct {
	RouteType      string      `json:"route_type"`
	PayloadType    string      `json:"payload_type"`
	PayloadVersion uint8       `json:"payload_version"`
	TransportCodes []uint16    `json:"transport_codes,omitempty"`
	Path           packet.Path `json:"path"`
	IdentityHash   string      `json:"identity_hash"`
	Text           string      `json:"text,omitempty"`
	HexDump        string      `json:"hex_dump,omitempty"`
}

// decodePacket decodes a hex-encoded frame supplied in the "frame" form
// value and returns its structure.
func (s *Server) decodePacket(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw, err := hex.DecodeString(r.FormValue("frame"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'frame' hex")
		return
	}

	p, err := packet.Decode(raw)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Undecodable frame: %v", err))
		return
	}

	out := decodedPacket{
		RouteType:      p.RouteType.String(),
		PayloadType:    p.PayloadType.String(),
		PayloadVersion: p.PayloadVersion,
		Path:           packet.PathFromRaw(p.Path),
		IdentityHash:   packet.IdentityHash(raw),
	}
	if p.RouteType.HasTransportCodes() {
		out.TransportCodes = []uint16{p.TransportCodes[0], p.TransportCodes[1]}
	}
	if text := p.Text(); text.Text != "" || text.HexDump != "" {
		out.Text = text.Text
		out.HexDump = text.HexDump
	}

	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write decoded packet")
		return
	}
}

// runCorrelation opens a correlation window for the hex-encoded trigger
// frame and blocks until the report is ready. Requests for frames with
// no derivable identity fail fast.
func (s *Server) runCorrelation(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw, err := hex.DecodeString(r.FormValue("frame"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'frame' hex")
		return
	}

	report, err := s.correlator.Run(r.Context(), raw)
	if errors.Is(err, correlate.ErrNoIdentity) {
		s.writeJSONError(w, http.StatusBadRequest, "Could not derive identity hash for frame")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Correlation failed: %v", err))
		return
	}

	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write report")
		return
	}
}
