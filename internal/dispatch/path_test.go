package dispatch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/mesh.report/internal/db"
)

func newPathCommand(t *testing.T) *PathCommand {
	t.Helper()
	d, err := db.NewDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	now := time.Now()
	for _, c := range []db.RepeaterContact{
		{PublicKey: "11abcd", Name: "North Hill", LastSeen: now, IsActive: true},
		{PublicKey: "98abcd", Name: "A Repeater With A Really Quite Long Name Indeed", LastSeen: now, IsActive: true},
		{PublicKey: "a401", Name: "East One", LastSeen: now, IsActive: true},
		{PublicKey: "a402", Name: "East Two", LastSeen: now, IsActive: true},
	} {
		require.NoError(t, d.UpsertRepeater(c))
	}
	return &PathCommand{DB: d}
}

func TestPathCommandMatches(t *testing.T) {
	cmd := newPathCommand(t)

	assert.True(t, cmd.Matches("!path 11,98"))
	assert.True(t, cmd.Matches("decode 1198a4"))
	assert.True(t, cmd.Matches("route 11 98"))
	assert.False(t, cmd.Matches("path"), "bare keyword takes no action")
	assert.False(t, cmd.Matches("pathfinder game"))
}

func TestPathCommandResolvesHops(t *testing.T) {
	cmd := newPathCommand(t)

	reply, err := cmd.Execute(context.Background(), Message{Content: "!path 11,98,a4,ff"})
	require.NoError(t, err)

	lines := strings.Split(reply, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "11: North Hill", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "..."), "long names are truncated: %q", lines[1])
	assert.LessOrEqual(t, len(lines[1]), len("98: ")+maxNameChars)
	assert.Equal(t, "a4: 2 repeaters", lines[2])
	assert.Equal(t, "Unknown: ff", lines[3])
}

func TestPathCommandFlatHexInput(t *testing.T) {
	cmd := newPathCommand(t)

	reply, err := cmd.Execute(context.Background(), Message{Content: "path 11a4"})
	require.NoError(t, err)
	assert.Contains(t, reply, "11: North Hill")
	assert.Contains(t, reply, "a4: 2 repeaters")
}

func TestPathCommandBadInput(t *testing.T) {
	cmd := newPathCommand(t)

	reply, err := cmd.Execute(context.Background(), Message{Content: "path zz!!"})
	require.NoError(t, err)
	assert.Contains(t, reply, "No valid hex values found")
}

func TestPathCommandHelp(t *testing.T) {
	cmd := newPathCommand(t)

	// Matches() filters bare invocations, but Execute defends anyway.
	reply, err := cmd.Execute(context.Background(), Message{Content: "path"})
	require.NoError(t, err)
	assert.Contains(t, reply, "Path Decode")
}
