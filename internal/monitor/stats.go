// Package monitor exposes debugging views over the live RF feed: frame
// rate counters, SNR statistics, and rendered charts.
package monitor

import (
	"log"
	"sync"
	"time"
)

// StatsSnapshot represents a snapshot of current statistics
type StatsSnapshot struct {
	FramesPerSec      float64   `json:"frames_per_sec"`
	BytesPerSec       float64   `json:"bytes_per_sec"`
	UndecodableCount  int64     `json:"undecodable_count"`
	TextMessagesCount int64     `json:"text_messages_count"`
	Timestamp         time.Time `json:"timestamp"`
}

// FrameStats tracks RF frame statistics with thread-safe operations
type FrameStats struct {
	mu             sync.Mutex
	frameCount     int64
	byteCount      int64
	undecodable    int64
	textMessages   int64
	lastReset      time.Time
	latestSnapshot *StatsSnapshot
}

// NewFrameStats creates a new FrameStats instance
func NewFrameStats() *FrameStats {
	return &FrameStats{lastReset: time.Now()}
}

// AddFrame increments frame count and byte count
func (fs *FrameStats) AddFrame(bytes int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.frameCount++
	fs.byteCount += int64(bytes)
}

// AddUndecodable increments the undecodable frame count
func (fs *FrameStats) AddUndecodable() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.undecodable++
}

// AddTextMessage increments the text message count
func (fs *FrameStats) AddTextMessage() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.textMessages++
}

// GetAndReset returns current stats and resets counters
func (fs *FrameStats) GetAndReset() (frames, bytes, undecodable, textMessages int64, duration time.Duration) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	duration = now.Sub(fs.lastReset)
	frames = fs.frameCount
	bytes = fs.byteCount
	undecodable = fs.undecodable
	textMessages = fs.textMessages

	fs.frameCount = 0
	fs.byteCount = 0
	fs.undecodable = 0
	fs.textMessages = 0
	fs.lastReset = now

	return
}

// LogStats logs formatted statistics and stores a snapshot for the web
// interface.
func (fs *FrameStats) LogStats() {
	frames, bytes, undecodable, textMessages, duration := fs.GetAndReset()
	if frames == 0 && undecodable == 0 {
		return
	}

	framesPerSec := float64(frames) / duration.Seconds()
	bytesPerSec := float64(bytes) / duration.Seconds()

	fs.mu.Lock()
	fs.latestSnapshot = &StatsSnapshot{
		FramesPerSec:      framesPerSec,
		BytesPerSec:       bytesPerSec,
		UndecodableCount:  undecodable,
		TextMessagesCount: textMessages,
		Timestamp:         time.Now(),
	}
	fs.mu.Unlock()

	log.Printf("rf: %.1f frames/s %.0f B/s (%d undecodable, %d text)",
		framesPerSec, bytesPerSec, undecodable, textMessages)
}

// LatestSnapshot returns the most recent snapshot, or nil before the
// first LogStats call.
func (fs *FrameStats) LatestSnapshot() *StatsSnapshot {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.latestSnapshot
}

// StartPeriodicLogging launches a goroutine that logs stats at the given
// interval until stop is closed.
func (fs *FrameStats) StartPeriodicLogging(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fs.LogStats()
			case <-stop:
				return
			}
		}
	}()
}
