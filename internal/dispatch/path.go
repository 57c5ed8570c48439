package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/mesh.report/internal/db"
	"github.com/banshee-data/mesh.report/internal/packet"
)

const pathHelp = `Path Decode: !path <hex_data>

Decode hex path to show repeaters involved in routing.

Examples:
- !path 11,98,a4,49,cd,5f,01
- !path 11 98 a4 49 cd 5f 01
- !path 1198a449cd5f01

Shows repeater names, collisions, and unknown nodes.`

// maxNameChars keeps "<id>: <name>" lines comfortably inside one frame.
const maxNameChars = 27

// PathCommand decodes hex path data into the repeater names involved in
// routing a message.
type PathCommand struct {
	DB *db.DB

	// CooldownPeriod overrides the default one-second cooldown when set.
	CooldownPeriod time.Duration
}

func (c *PathCommand) Name() string       { return "path" }
func (c *PathCommand) Keywords() []string { return []string{"path", "decode", "route"} }

func (c *PathCommand) Cooldown() time.Duration {
	if c.CooldownPeriod > 0 {
		return c.CooldownPeriod
	}
	return time.Second
}

func (c *PathCommand) Matches(content string) bool {
	// Requires arguments; a bare "path" gets no reply.
	return MatchKeyword(content, c.Keywords(), false)
}

func (c *PathCommand) Execute(ctx context.Context, msg Message) (string, error) {
	args := Args(msg.Content)
	if args == "" {
		return pathHelp, nil
	}

	path, err := packet.PathFromText(args)
	if errors.Is(err, packet.ErrPathUndecodable) {
		return "No valid hex values found in path data. Use format like: 11,98,a4,49,cd,5f,01", nil
	}
	if err != nil {
		return "", err
	}

	resolved, err := c.DB.ResolveHops(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path hops: %w", err)
	}

	return formatPathResponse(resolved), nil
}

// formatPathResponse renders resolutions one line per named hop, then
// collisions, then a grouped line for unknowns.
func formatPathResponse(resolved []db.HopResolution) string {
	var lines []string
	var unknown []string

	for _, hop := range resolved {
		switch {
		case hop.Found && hop.Matches > 1:
			lines = append(lines, fmt.Sprintf("%s: %d repeaters", hop.NodeID, hop.Matches))
		case hop.Found:
			name := hop.Name
			if len(name) > maxNameChars {
				name = name[:maxNameChars-3] + "..."
			}
			lines = append(lines, fmt.Sprintf("%s: %s", hop.NodeID, name))
		default:
			unknown = append(unknown, hop.NodeID)
		}
	}

	if len(unknown) > 0 {
		lines = append(lines, "Unknown: "+strings.Join(unknown, ","))
	}

	return strings.Join(lines, "\n")
}
