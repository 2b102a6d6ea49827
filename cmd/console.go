// File: cmd/console.go
package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/events"
)

// responder answers the pending confirmation. Implemented by *confirmation.Manager.
type responder interface {
	ConfirmAction(confirmed bool, comment string) error
}

// console prints task progress and asks the user about dangerous actions.
type console struct {
	out       io.Writer
	in        *bufio.Reader
	responder responder
	autoYes   bool
	logger    *zap.Logger
}

func newConsole(out io.Writer, in io.Reader, r responder, autoYes bool, logger *zap.Logger) *console {
	return &console{
		out:       out,
		in:        bufio.NewReader(in),
		responder: r,
		autoYes:   autoYes,
		logger:    logger.Named("console"),
	}
}

// watch renders events until ch is closed or ctx is done. It returns a
// channel closed when it stops.
func (c *console) watch(ctx context.Context, ch <-chan events.Event) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				c.handle(ev)
			}
		}
	}()
	return done
}

func (c *console) handle(ev events.Event) {
	switch p := ev.Payload.(type) {
	case events.IterationPayload:
		fmt.Fprintf(c.out, "[%d/%d] observing\n", p.Iteration, p.MaxIterations)
	case events.ThinkingPayload:
		if p.IsComplete {
			return
		}
		fmt.Fprintf(c.out, "  thinking: %s -> %s\n", oneLine(p.Thought), p.Tool)
	case events.ActionPayload:
		c.action(ev.Type, p)
	case events.CodeActPayload:
		if ev.Type == events.CodeActTriggered {
			fmt.Fprintf(c.out, "  sandbox: %s (%s)\n", p.SuggestedTask, strings.Join(p.Rules, ", "))
		}
	case events.ConfirmationPayload:
		c.confirmation(ev.Type, p)
	case events.CheckpointPayload:
		if !p.IsAutoSave {
			fmt.Fprintf(c.out, "  checkpoint %s saved (%s)\n", p.Name, p.CheckpointID)
		}
	}
}

func (c *console) action(typ events.Type, p events.ActionPayload) {
	if p.Action == nil {
		return
	}
	switch typ {
	case events.ActionCompleted:
		fmt.Fprintf(c.out, "  done: %s\n", p.Action.Tool)
	case events.ActionRecovered:
		fmt.Fprintf(c.out, "  recovered: %s via %s\n", p.Action.Tool, p.Strategy)
	case events.ActionFailed:
		fmt.Fprintf(c.out, "  failed: %s: %s\n", p.Action.Tool, oneLine(p.Error))
	}
}

func (c *console) confirmation(typ events.Type, p events.ConfirmationPayload) {
	switch typ {
	case events.ConfirmationRequested:
		c.ask(p)
	case events.ConfirmationTimeout:
		fmt.Fprintln(c.out, "  no answer in time; the action was skipped")
	case events.ConfirmationCancelled:
		fmt.Fprintln(c.out, "  confirmation withdrawn")
	}
}

// ask prints the preview and blocks on one line of input.
func (c *console) ask(p events.ConfirmationPayload) {
	fmt.Fprintf(c.out, "\n%s\n", p.Preview)
	if c.autoYes {
		fmt.Fprintln(c.out, "Auto-confirmed (--yes).")
		c.answer(true, "auto-confirmed")
		return
	}

	fmt.Fprintf(c.out, "Proceed? [y/N] (%s risk, answer within %s): ", p.RiskLevel, p.Timeout)
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		c.logger.Debug("No input for confirmation; rejecting.", zap.Error(err))
		c.answer(false, "no input")
		return
	}
	line = strings.TrimSpace(line)
	verdict, comment, _ := strings.Cut(line, " ")
	switch strings.ToLower(verdict) {
	case "y", "yes":
		c.answer(true, strings.TrimSpace(comment))
	default:
		c.answer(false, strings.TrimSpace(comment))
	}
}

func (c *console) answer(confirmed bool, comment string) {
	if err := c.responder.ConfirmAction(confirmed, comment); err != nil {
		fmt.Fprintf(c.out, "  too late: %v\n", err)
	}
}

func oneLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
