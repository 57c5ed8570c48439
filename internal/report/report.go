// Package report handles delivery of human-readable reports over the
// mesh: splitting long reports into frame-sized pages and pacing page
// sends so the radio's duty cycle is respected.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxPageChars is the practical single-frame text budget.
const MaxPageChars = 130

// Paginate splits a report into pages of at most MaxPageChars characters.
// A single entry (line) is never split across two pages; entries longer
// than the budget are truncated with an ellipsis instead. Continuation
// pages carry an explicit page marker.
func Paginate(text string) []string {
	return paginate(text, MaxPageChars)
}

// PaginateWithLimit is Paginate with a caller-supplied page budget, for
// deployments whose radios carry larger frames.
func PaginateWithLimit(text string, limit int) []string {
	if limit <= 0 {
		limit = MaxPageChars
	}
	return paginate(text, limit)
}

func paginate(text string, limit int) []string {
	text = strings.TrimRight(text, "\n")
	if len(text) <= limit {
		return []string{text}
	}

	// Pack lines greedily, leaving headroom for the page marker a
	// multi-page report needs. Entries longer than the packing budget
	// are truncated up front so no page can overflow.
	const markerReserve = len(" [99/99]")
	maxLine := limit - markerReserve

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if len(line) > maxLine {
			lines[i] = line[:maxLine-3] + "..."
		}
	}

	var pages []string
	var current strings.Builder
	for _, line := range lines {
		need := len(line)
		if current.Len() > 0 {
			need += 1 // joining newline
		}
		if current.Len()+need > maxLine && current.Len() > 0 {
			pages = append(pages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		pages = append(pages, current.String())
	}

	if len(pages) == 1 {
		return pages
	}
	for i := range pages {
		pages[i] = fmt.Sprintf("%s [%d/%d]", pages[i], i+1, len(pages))
	}
	return pages
}

// RateLimiter enforces a minimum gap between transmissions. It mirrors
// the companion bot's TX limiter: a fixed cooldown stamped on every send.
type RateLimiter struct {
	mu       sync.Mutex
	gap      time.Duration
	lastSend time.Time
}

// NewRateLimiter creates a limiter with the given minimum inter-send gap.
func NewRateLimiter(gap time.Duration) *RateLimiter {
	return &RateLimiter{gap: gap}
}

// CanSend reports whether the cooldown has expired.
func (r *RateLimiter) CanSend() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastSend) >= r.gap
}

// TimeUntilNext returns how long until the next allowed send, zero if
// sending is allowed now.
func (r *RateLimiter) TimeUntilNext() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	remaining := r.gap - time.Since(r.lastSend)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSend stamps the cooldown.
func (r *RateLimiter) RecordSend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSend = time.Now()
}

// Wait blocks until the cooldown expires or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		remaining := r.TimeUntilNext()
		if remaining == 0 {
			return nil
		}
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sender transmits one page of text, typically by writing a command to
// the companion node's serial port.
type Sender interface {
	SendText(text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(text string) error

func (f SenderFunc) SendText(text string) error { return f(text) }

// Deliver paginates a report and sends each page through the sender,
// waiting on the rate limiter between pages. Delivery stops at the first
// send error or context cancellation.
func Deliver(ctx context.Context, sender Sender, limiter *RateLimiter, text string) error {
	return DeliverWithLimit(ctx, sender, limiter, text, MaxPageChars)
}

// DeliverWithLimit is Deliver with a caller-supplied page budget.
func DeliverWithLimit(ctx context.Context, sender Sender, limiter *RateLimiter, text string, limit int) error {
	for _, page := range PaginateWithLimit(text, limit) {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		if err := sender.SendText(page); err != nil {
			return fmt.Errorf("failed to send report page: %w", err)
		}
		if limiter != nil {
			limiter.RecordSend()
		}
	}
	return nil
}
