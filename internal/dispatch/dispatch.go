// Package dispatch routes text messages received over the mesh to bot
// commands and delivers their replies, respecting per-command cooldowns
// and the shared transmit rate limiter.
package dispatch

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/mesh.report/internal/packet"
	"github.com/banshee-data/mesh.report/internal/report"
	"github.com/banshee-data/mesh.report/internal/serialmux"
)

// Message is one inbound text message, paired with the raw frame it
// arrived in so commands can reason about routing.
type Message struct {
	Content   string
	Raw       []byte
	Path      packet.Path
	Timestamp time.Time
}

// Command is a bot command. Execute returns the reply text to send back
// over the mesh; an empty reply sends nothing.
type Command interface {
	Name() string
	Keywords() []string
	Cooldown() time.Duration
	Matches(content string) bool
	Execute(ctx context.Context, msg Message) (string, error)
}

// MatchKeyword reports whether content invokes one of the keywords. A
// leading "!" is stripped. With bare set, the keyword alone matches;
// otherwise it must be followed by arguments.
func MatchKeyword(content string, keywords []string, bare bool) bool {
	content = strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(content, "!"); ok {
		content = strings.TrimSpace(after)
	}
	content = strings.ToLower(content)

	for _, kw := range keywords {
		if bare && content == kw {
			return true
		}
		if strings.HasPrefix(content, kw+" ") {
			return true
		}
	}
	return false
}

// Args returns the argument portion of a command invocation, with any
// "!" prefix and the keyword itself removed.
func Args(content string) string {
	content = strings.TrimSpace(content)
	if after, ok := strings.CutPrefix(content, "!"); ok {
		content = strings.TrimSpace(after)
	}
	_, args, _ := strings.Cut(content, " ")
	return strings.TrimSpace(args)
}

// Dispatcher owns the registered commands and the reply channel.
type Dispatcher struct {
	sender  report.Sender
	limiter *report.RateLimiter

	// PageChars overrides the reply page budget when positive.
	PageChars int

	mu       sync.Mutex
	commands []Command
	lastRun  map[string]time.Time
}

// NewDispatcher creates a dispatcher that sends replies through the
// given sender, paced by the limiter.
func NewDispatcher(sender report.Sender, limiter *report.RateLimiter) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		limiter: limiter,
		lastRun: make(map[string]time.Time),
	}
}

// Register adds a command. Commands are tried in registration order and
// the first match wins.
func (d *Dispatcher) Register(cmd Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, cmd)
}

// match finds the command for a message and checks its cooldown,
// stamping the run time when it may proceed.
func (d *Dispatcher) match(content string) (Command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, cmd := range d.commands {
		if !cmd.Matches(content) {
			continue
		}
		if last, ok := d.lastRun[cmd.Name()]; ok && time.Since(last) < cmd.Cooldown() {
			log.Printf("dispatch: %s on cooldown, dropping", cmd.Name())
			return nil, false
		}
		d.lastRun[cmd.Name()] = time.Now()
		return cmd, true
	}
	return nil, false
}

// Dispatch runs the first command matching the message and delivers its
// reply. Messages matching nothing are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) error {
	cmd, ok := d.match(msg.Content)
	if !ok {
		return nil
	}

	log.Printf("dispatch: running %s for %q", cmd.Name(), msg.Content)
	reply, err := cmd.Execute(ctx, msg)
	if err != nil {
		log.Printf("dispatch: %s failed: %v", cmd.Name(), err)
		return err
	}
	if reply == "" {
		return nil
	}
	return report.DeliverWithLimit(ctx, d.sender, d.limiter, reply, d.PageChars)
}

// Run subscribes to the serial mux and dispatches every text-bearing
// frame until the context is cancelled. Each command runs in its own
// goroutine so a long listening window does not stall the feed.
func (d *Dispatcher) Run(ctx context.Context, mux serialmux.SerialMuxInterface) error {
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			msg, ok := messageFromLine(line)
			if !ok {
				continue
			}
			go func() {
				if err := d.Dispatch(ctx, msg); err != nil {
					log.Printf("dispatch: error handling %q: %v", msg.Content, err)
				}
			}()
		}
	}
}

// messageFromLine extracts a text message from an RF log line. Frames
// that are not decodable text messages are skipped.
func messageFromLine(line string) (Message, bool) {
	if serialmux.ClassifyLine(line) != serialmux.EventTypeRFFrame {
		return Message{}, false
	}
	parsed, err := serialmux.ParseRFLine(line)
	if err != nil {
		return Message{}, false
	}
	p, err := packet.Decode(parsed.Raw)
	if err != nil {
		return Message{}, false
	}
	if p.PayloadType != packet.PayloadTxtMsg && p.PayloadType != packet.PayloadGrpTxt {
		return Message{}, false
	}
	text := p.Text()
	if text.Text == "" {
		return Message{}, false
	}

	content := text.Text
	if p.PayloadType == packet.PayloadGrpTxt {
		// Group messages arrive as "sender: content".
		if _, after, ok := strings.Cut(content, ": "); ok {
			content = after
		}
	}

	return Message{
		Content:   content,
		Raw:       parsed.Raw,
		Path:      packet.PathFromRaw(p.Path),
		Timestamp: time.Now(),
	}, true
}
