// Package rflog keeps a short in-memory log of every frame heard on the
// radio. The transport feed appends; the correlation engine and the HTTP
// API read. Entries age out quickly because correlation is a short-lived,
// real-time activity; nothing here is persisted.
package rflog

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/banshee-data/mesh.report/internal/packet"
)

const (
	// DefaultRetention matches the companion bot's rf_data_timeout.
	DefaultRetention = 15 * time.Second

	// DefaultMaxEntries bounds the buffer under packet storms.
	DefaultMaxEntries = 1024
)

// Observation is one frame arrival with everything derived from it.
type Observation struct {
	Timestamp time.Time `json:"timestamp"`

	// Raw is the frame exactly as received.
	Raw []byte `json:"-"`
	// RawHex mirrors Raw for the JSON API.
	RawHex string `json:"raw_hex"`

	// Hash is the content identity, or packet.UnknownHash when the frame
	// was structurally undecodable.
	Hash string `json:"hash"`

	RouteType   string      `json:"route_type,omitempty"`
	PayloadType string      `json:"payload_type,omitempty"`
	Path        packet.Path `json:"path,omitempty"`

	// PathDisplay is the transport's textual path rendering when one was
	// reported alongside the frame, e.g. "11,98 via ROUTE_TYPE_FLOOD".
	PathDisplay string `json:"path_display,omitempty"`

	// Link quality as reported by the radio, when available.
	SNR  *float64 `json:"snr,omitempty"`
	RSSI *int     `json:"rssi,omitempty"`
}

// FromRaw builds an Observation from raw frame bytes, deriving the
// identity hash and routing metadata. An undecodable frame still yields an
// observation carrying the sentinel hash; a single malformed frame never
// aborts the feed.
func FromRaw(ts time.Time, raw []byte) Observation {
	obs := Observation{
		Timestamp: ts,
		Raw:       raw,
		RawHex:    hex.EncodeToString(raw),
		Hash:      packet.IdentityHash(raw),
	}
	if p, err := packet.Decode(raw); err == nil {
		obs.RouteType = p.RouteType.String()
		obs.PayloadType = p.PayloadType.String()
		obs.Path = packet.PathFromRaw(p.Path)
	}
	return obs
}

// Listener receives every appended observation synchronously. At most one
// listener is registered at a time; registering replaces the previous one.
type Listener func(Observation)

// Buffer is the bounded, age-limited observation log. It is appended to by
// the transport goroutine only and read by everyone else.
type Buffer struct {
	mu         sync.Mutex
	retention  time.Duration
	maxEntries int
	entries    []Observation
	listener   Listener
}

// NewBuffer creates an observation buffer. Zero values select the
// defaults.
func NewBuffer(retention time.Duration, maxEntries int) *Buffer {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Buffer{
		retention:  retention,
		maxEntries: maxEntries,
	}
}

// Append stores an observation, prunes expired entries, and invokes the
// registered listener (if any) outside the buffer lock.
func (b *Buffer) Append(obs Observation) {
	b.mu.Lock()
	b.entries = append(b.entries, obs)
	b.pruneLocked(time.Now())
	listener := b.listener
	b.mu.Unlock()

	if listener != nil {
		listener(obs)
	}
}

// pruneLocked drops entries past the retention window and enforces the
// size bound, oldest first.
func (b *Buffer) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.retention)
	first := 0
	for first < len(b.entries) && b.entries[first].Timestamp.Before(cutoff) {
		first++
	}
	if over := len(b.entries) - first - b.maxEntries; over > 0 {
		first += over
	}
	if first > 0 {
		b.entries = append([]Observation(nil), b.entries[first:]...)
	}
}

// SetListener registers the single arrival listener, replacing whatever
// was registered before. Pass nil to clear.
func (b *Buffer) SetListener(fn Listener) {
	b.mu.Lock()
	b.listener = fn
	b.mu.Unlock()
}

// Snapshot returns a copy of the current entries, oldest first.
func (b *Buffer) Snapshot() []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Observation, len(b.entries))
	copy(out, b.entries)
	return out
}

// Window returns a copy of the entries with timestamps in [from, to].
func (b *Buffer) Window(from, to time.Time) []Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Observation
	for _, obs := range b.entries {
		if obs.Timestamp.Before(from) || obs.Timestamp.After(to) {
			continue
		}
		out = append(out, obs)
	}
	return out
}

// Len reports the current number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
