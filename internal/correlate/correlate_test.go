package correlate

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mesh.report/internal/packet"
	"github.com/banshee-data/mesh.report/internal/rflog"
)

// frame builds a FLOOD GRP_TXT frame with the given path bytes and payload.
func frame(path []byte, payload string) []byte {
	header := byte(packet.RouteFlood) | byte(packet.PayloadGrpTxt)<<2
	raw := []byte{header, byte(len(path))}
	raw = append(raw, path...)
	raw = append(raw, []byte(payload)...)
	return raw
}

func newTestCorrelator(buf *rflog.Buffer) *Correlator {
	return New(buf, 60*time.Millisecond, 20*time.Millisecond)
}

func TestRunRejectsUnknownIdentity(t *testing.T) {
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	_, err := c.Run(context.Background(), []byte{0x01})
	assert.ErrorIs(t, err, ErrNoIdentity)
	assert.False(t, c.Active())
}

func TestRunCollectsDistinctPaths(t *testing.T) {
	// Two retransmissions of the same content via different paths, one
	// duplicate, plus unrelated traffic that must stay isolated.
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	trigger := frame(nil, "the broadcast")

	done := make(chan *Report, 1)
	go func() {
		report, err := c.Run(context.Background(), trigger)
		require.NoError(t, err)
		done <- report
	}()

	// Let the window open before feeding arrivals.
	time.Sleep(10 * time.Millisecond)

	buf.Append(rflog.FromRaw(time.Now(), frame([]byte{0x5F, 0x00}, "the broadcast")))
	buf.Append(rflog.FromRaw(time.Now(), frame([]byte{0x5F, 0x00}, "the broadcast"))) // duplicate path
	buf.Append(rflog.FromRaw(time.Now(), frame([]byte{0x01, 0x00, 0x5F, 0x00}, "the broadcast")))
	buf.Append(rflog.FromRaw(time.Now(), frame([]byte{0x99, 0x00}, "unrelated content")))

	report := <-done
	assert.Equal(t, []string{"01,5f", "5f"}, report.Paths)
	assert.Contains(t, report.String(), "Found 2 unique path(s)")
	assert.False(t, c.Active())
}

func TestRunIncludesTriggerPath(t *testing.T) {
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	trigger := frame([]byte{0x11, 0x00, 0x98, 0x00}, "content")
	report, err := c.Run(context.Background(), trigger)
	require.NoError(t, err)

	assert.Equal(t, []string{"11,98"}, report.Paths)
}

func TestRunBackscanRecoversEarlyArrivals(t *testing.T) {
	// A retransmission that lands just before the window opens is still
	// collected by the backward scan.
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	early := frame([]byte{0xA4, 0x00}, "early bird")
	buf.Append(rflog.FromRaw(time.Now().Add(-10*time.Millisecond), early))

	report, err := c.Run(context.Background(), frame(nil, "early bird"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a4"}, report.Paths)
}

func TestRunMatchedButNoPaths(t *testing.T) {
	// Direct (zero hop) retransmissions match the hash but carry no
	// path; the report must say so rather than claiming silence.
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	trigger := frame(nil, "direct only")

	done := make(chan *Report, 1)
	go func() {
		report, err := c.Run(context.Background(), trigger)
		require.NoError(t, err)
		done <- report
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Append(rflog.FromRaw(time.Now(), frame(nil, "direct only")))

	report := <-done
	assert.Empty(t, report.Paths)
	assert.Equal(t, 1, report.Matched)
	assert.Contains(t, report.String(), "No paths extracted from 1 matching packet(s)")
}

func TestRunNothingHeard(t *testing.T) {
	buf := rflog.NewBuffer(time.Minute, 100)
	c := newTestCorrelator(buf)

	report, err := c.Run(context.Background(), frame(nil, "lonely"))
	require.NoError(t, err)

	assert.Empty(t, report.Paths)
	assert.Zero(t, report.Matched)
	assert.True(t, strings.HasPrefix(report.String(), "No matching packets found"))
}

func TestRunIsolation(t *testing.T) {
	// Frames with a different identity never enter the set, regardless
	// of volume.
	buf := rflog.NewBuffer(time.Minute, 1000)
	c := newTestCorrelator(buf)

	done := make(chan *Report, 1)
	go func() {
		report, err := c.Run(context.Background(), frame(nil, "target"))
		require.NoError(t, err)
		done <- report
	}()

	time.Sleep(10 * time.Millisecond)
	for i := 0; i < 50; i++ {
		buf.Append(rflog.FromRaw(time.Now(), frame([]byte{byte(i), 0x00}, "noise noise noise")))
	}

	report := <-done
	assert.Empty(t, report.Paths)
	assert.Zero(t, report.Matched)
}

func TestRunContextCancellation(t *testing.T) {
	buf := rflog.NewBuffer(time.Minute, 100)
	c := New(buf, time.Minute, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Run(ctx, frame(nil, "cancelled"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Active())
}

func TestReplacementDoesNotCancelEarlierTimer(t *testing.T) {
	// Opening a second window while the first is listening replaces the
	// shared session state; the first window's timer still fires and
	// finalises against the replacement's state. This pins the known
	// quirk so a behaviour change is deliberate, not accidental.
	buf := rflog.NewBuffer(time.Minute, 100)
	c := New(buf, 80*time.Millisecond, 20*time.Millisecond)

	firstDone := make(chan *Report, 1)
	go func() {
		report, err := c.Run(context.Background(), frame(nil, "first message"))
		require.NoError(t, err)
		firstDone <- report
	}()

	time.Sleep(20 * time.Millisecond)

	secondTrigger := frame(nil, "second message")
	secondHash := packet.IdentityHash(secondTrigger)

	secondDone := make(chan *Report, 1)
	go func() {
		report, err := c.Run(context.Background(), secondTrigger)
		require.NoError(t, err)
		secondDone <- report
	}()

	time.Sleep(20 * time.Millisecond)
	buf.Append(rflog.FromRaw(time.Now(), frame([]byte{0x5F, 0x00}, "second message")))

	first := <-firstDone
	second := <-secondDone

	// The first window finalised against the replaced state.
	assert.Equal(t, secondHash, first.TargetHash)
	// The second window still reports its own paths via the final scan.
	assert.Equal(t, []string{"5f"}, second.Paths)
}
