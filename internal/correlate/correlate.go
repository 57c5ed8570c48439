// Package correlate implements the path-correlation engine: a bounded
// listening window that collects every distinct relay path a single
// logical broadcast travelled, recognising retransmissions by their
// content identity hash.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/mesh.report/internal/packet"
	"github.com/banshee-data/mesh.report/internal/rflog"
)

const (
	// DefaultListenDuration is the length of the listening window.
	DefaultListenDuration = 6 * time.Second

	// DefaultBackscan is how far before the window opened the initial
	// scan reaches, recovering frames that arrived while the triggering
	// command was still being processed.
	DefaultBackscan = 2 * time.Second
)

// ErrNoIdentity means the trigger frame's identity could not be derived,
// so there is nothing to correlate against.
var ErrNoIdentity = errors.New("could not derive identity hash for trigger frame")

// Report is the outcome of one correlation window. Exactly one of three
// shapes: distinct paths were found; matching frames were heard but none
// yielded a path; or nothing matching was heard at all.
type Report struct {
	SessionID  string
	TargetHash string

	// Paths holds the distinct canonical path strings, sorted.
	Paths []string

	// Matched is the number of matching-hash frames observed in the
	// window, whether or not they yielded paths.
	Matched int

	ListenDuration time.Duration
}

// String renders the report in the wording sent back over the mesh.
func (r *Report) String() string {
	if len(r.Paths) > 0 {
		return fmt.Sprintf("Found %d unique path(s):\n%s", len(r.Paths), strings.Join(r.Paths, "\n"))
	}
	if r.Matched > 0 {
		return fmt.Sprintf("No paths extracted from %d matching packet(s) (hash: %s). "+
			"Packets may be direct (0 hops) or path extraction failed.", r.Matched, r.TargetHash)
	}
	return fmt.Sprintf("No matching packets found during %s window. Tracking hash: %s.",
		r.ListenDuration, r.TargetHash)
}

// Correlator owns the single system-wide correlation session. Session
// state lives in one set of fields shared by every invocation: starting a
// new window while another is listening replaces that state in place and
// re-registers the arrival listener, but does NOT cancel the earlier
// window's timer. The superseded timer still fires and finalises against
// whatever the shared state holds at that point. This mirrors the
// companion bot's observed behaviour; do not "fix" it here without
// confirming intent against deployed devices.
type Correlator struct {
	buf            *rflog.Buffer
	listenDuration time.Duration
	backscan       time.Duration

	mu        sync.Mutex
	listening bool
	sessionID string
	target    string
	startTime time.Time
	collected map[string]struct{}
}

// New creates a Correlator over the given observation buffer. Zero
// durations select the defaults.
func New(buf *rflog.Buffer, listenDuration, backscan time.Duration) *Correlator {
	if listenDuration <= 0 {
		listenDuration = DefaultListenDuration
	}
	if backscan <= 0 {
		backscan = DefaultBackscan
	}
	return &Correlator{
		buf:            buf,
		listenDuration: listenDuration,
		backscan:       backscan,
	}
}

// Active reports whether a listening window is currently open.
func (c *Correlator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}

// Run opens a listening window keyed on the trigger frame's identity hash
// and blocks until the window closes, returning the finalised report. The
// context aborts the window early without a report.
func (c *Correlator) Run(ctx context.Context, trigger []byte) (*Report, error) {
	target := packet.IdentityHash(trigger)
	if target == packet.UnknownHash {
		return nil, ErrNoIdentity
	}

	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.target = target
	c.listening = true
	c.startTime = time.Now()
	c.collected = make(map[string]struct{})
	// The trigger's own path is part of the answer.
	if p, err := packet.Decode(trigger); err == nil {
		if path := packet.PathFromRaw(p.Path); len(path) > 0 {
			c.collected[path.String()] = struct{}{}
		}
	}
	id := c.sessionID
	start := c.startTime
	c.mu.Unlock()

	log.Printf("correlate: session %s tracking hash %s for %s", id, target, c.listenDuration)

	c.buf.SetListener(c.onObservation)

	// Catch frames that landed just before the window opened.
	c.scanWindow(start)

	select {
	case <-time.After(c.listenDuration):
	case <-ctx.Done():
		c.mu.Lock()
		c.listening = false
		c.mu.Unlock()
		c.buf.SetListener(nil)
		return nil, ctx.Err()
	}

	c.mu.Lock()
	c.listening = false
	c.mu.Unlock()

	// Unconditional detach, even if a later session has since replaced
	// our registration (preserved behaviour, see type doc).
	c.buf.SetListener(nil)

	// Final reconciliation scan for arrivals the incremental listener
	// raced with.
	c.scanWindow(start)

	return c.finalize(start), nil
}

// onObservation is the incremental arrival feed, invoked synchronously by
// the buffer on every append.
func (c *Correlator) onObservation(obs rflog.Observation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.listening || c.target == "" {
		return
	}
	if time.Since(c.startTime) >= c.listenDuration {
		return
	}
	if obs.Hash != c.target {
		return
	}

	path, err := observationPath(obs)
	if err != nil || len(path) == 0 {
		log.Printf("correlate: matched hash %s but no path (%v)", c.target, err)
		return
	}
	c.collected[path.String()] = struct{}{}
}

// scanWindow sweeps the buffer for matching frames between backscan-before
// -start and the window's end, adding any decodable paths.
func (c *Correlator) scanWindow(start time.Time) {
	c.mu.Lock()
	target := c.target
	c.mu.Unlock()
	if target == "" {
		return
	}

	for _, obs := range c.buf.Window(start.Add(-c.backscan), start.Add(c.listenDuration)) {
		if obs.Hash != target {
			continue
		}
		path, err := observationPath(obs)
		if err != nil || len(path) == 0 {
			continue
		}
		c.mu.Lock()
		if c.collected != nil {
			c.collected[path.String()] = struct{}{}
		}
		c.mu.Unlock()
	}
}

// finalize reads the shared session state as it stands and builds the
// report. If the session was replaced mid-window this reflects the
// replacement's state (preserved behaviour).
func (c *Correlator) finalize(start time.Time) *Report {
	c.mu.Lock()
	report := &Report{
		SessionID:      c.sessionID,
		TargetHash:     c.target,
		ListenDuration: c.listenDuration,
	}
	for path := range c.collected {
		report.Paths = append(report.Paths, path)
	}
	c.target = ""
	c.mu.Unlock()

	sort.Strings(report.Paths)

	for _, obs := range c.buf.Window(start.Add(-c.backscan), start.Add(c.listenDuration)) {
		if obs.Hash == report.TargetHash {
			report.Matched++
		}
	}

	return report
}

// observationPath extracts the canonical path for an observation,
// preferring the structured path bytes over any textual rendering the
// transport supplied.
func observationPath(obs rflog.Observation) (packet.Path, error) {
	if obs.Path != nil {
		return obs.Path, nil
	}
	if obs.PathDisplay != "" {
		return packet.PathFromDisplay(obs.PathDisplay)
	}
	return nil, packet.ErrPathUndecodable
}
