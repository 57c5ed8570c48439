package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/mesh.report/internal/correlate"
)

// MultiTestCommand opens a correlation window keyed on the triggering
// message and reports every distinct path its retransmissions travelled.
type MultiTestCommand struct {
	Correlator *correlate.Correlator

	// CooldownPeriod overrides the default one-second cooldown when set.
	CooldownPeriod time.Duration
}

func (c *MultiTestCommand) Name() string       { return "multitest" }
func (c *MultiTestCommand) Keywords() []string { return []string{"multitest", "mt"} }

func (c *MultiTestCommand) Cooldown() time.Duration {
	if c.CooldownPeriod > 0 {
		return c.CooldownPeriod
	}
	return time.Second
}

func (c *MultiTestCommand) Matches(content string) bool {
	// Matches bare "multitest" or "mt"; trailing arguments are ignored.
	return MatchKeyword(content, c.Keywords(), true)
}

func (c *MultiTestCommand) Execute(ctx context.Context, msg Message) (string, error) {
	rep, err := c.Correlator.Run(ctx, msg.Raw)
	if errors.Is(err, correlate.ErrNoIdentity) {
		return "Error: Could not find packet data for this message. Please try again.", nil
	}
	if err != nil {
		return "", err
	}
	return rep.String(), nil
}
