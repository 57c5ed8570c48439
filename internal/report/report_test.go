package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaginateShortReportIsSinglePage(t *testing.T) {
	pages := Paginate("Found 1 unique path(s):\n5f")
	require.Len(t, pages, 1)
	assert.NotContains(t, pages[0], "[1/1]", "single page needs no marker")
}

func TestPaginateNeverSplitsAnEntry(t *testing.T) {
	var lines []string
	for i := 0; i < 20; i++ {
		lines = append(lines, fmt.Sprintf("11,98,a4,49,cd,5f,%02x", i))
	}
	text := "Found 20 unique path(s):\n" + strings.Join(lines, "\n")

	pages := Paginate(text)
	require.Greater(t, len(pages), 1)

	for i, page := range pages {
		assert.LessOrEqual(t, len(page), MaxPageChars, "page %d over budget", i)
		// Every entry must appear intact on exactly one page.
	}
	joined := strings.Join(pages, "\n")
	for _, line := range lines {
		assert.Contains(t, joined, line)
	}
}

func TestPaginateMarksContinuationPages(t *testing.T) {
	text := strings.Repeat("0123456789abcdef,", 20) // one long entry per page
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("path entry number %d with some padding text", i))
	}
	text = strings.Join(lines, "\n")

	pages := Paginate(text)
	require.Greater(t, len(pages), 1)
	for i, page := range pages {
		assert.Contains(t, page, fmt.Sprintf("[%d/%d]", i+1, len(pages)))
	}
}

func TestPaginateTruncatesOversizedEntry(t *testing.T) {
	long := strings.Repeat("a", 300)
	pages := Paginate("header\n" + long)
	for _, page := range pages {
		assert.LessOrEqual(t, len(page), MaxPageChars)
	}
	assert.Contains(t, strings.Join(pages, "\n"), "...")
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(50 * time.Millisecond)

	assert.True(t, r.CanSend(), "fresh limiter must allow sending")
	r.RecordSend()
	assert.False(t, r.CanSend())
	assert.Greater(t, r.TimeUntilNext(), time.Duration(0))

	time.Sleep(60 * time.Millisecond)
	assert.True(t, r.CanSend())
	assert.Zero(t, r.TimeUntilNext())
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	r := NewRateLimiter(time.Minute)
	r.RecordSend()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeliverPacesPages(t *testing.T) {
	var sent []string
	sender := SenderFunc(func(text string) error {
		sent = append(sent, text)
		return nil
	})

	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("path entry number %d with some padding text", i))
	}
	text := strings.Join(lines, "\n")

	limiter := NewRateLimiter(5 * time.Millisecond)
	start := time.Now()
	err := Deliver(context.Background(), sender, limiter, text)
	require.NoError(t, err)

	require.Greater(t, len(sent), 1)
	// N pages need N-1 cooldown waits.
	assert.GreaterOrEqual(t, time.Since(start), time.Duration(len(sent)-1)*5*time.Millisecond)
}

func TestDeliverStopsOnSendError(t *testing.T) {
	boom := errors.New("radio unhappy")
	calls := 0
	sender := SenderFunc(func(string) error {
		calls++
		return boom
	})

	err := Deliver(context.Background(), sender, nil, "one line")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
