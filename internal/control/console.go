package control

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Console reads single keypresses from stdin: digits 0-9 trigger the same
// switch path as the HTTP control plane, and 'm' prints a status summary.
type Console struct {
	sw    Switcher
	log   *slog.Logger
	out   io.Writer
	stdin *os.File
}

// NewConsole builds a Console reading from os.Stdin.
func NewConsole(sw Switcher, logger *slog.Logger) *Console {
	return &Console{sw: sw, log: logger, out: os.Stdout, stdin: os.Stdin}
}

// Run puts stdin into raw mode and blocks, dispatching keypresses until ctx
// is cancelled or stdin is closed. Cancellation is checked before each
// read, so a Run blocked in a read returns after the next keypress. It is a
// no-op (returns nil immediately) if stdin is not a terminal, since raw
// mode has no meaning otherwise.
func (c *Console) Run(ctx context.Context) error {
	fd := int(c.stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("putting stdin into raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := c.stdin.Read(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if n == 0 {
			continue
		}

		c.handleKey(buf[0])
	}
}

func (c *Console) handleKey(key byte) {
	switch {
	case key >= '0' && key <= '9':
		n := int(key - '0')
		if err := c.sw.RequestSwitch(n); err != nil {
			c.log.Warn("console switch rejected", slog.Int("requested", n), slog.String("error", err.Error()))
			return
		}
		c.log.Info("console switch", slog.Int("to", n))
	case key == 'm':
		c.printStatus()
	}
}

func (c *Console) printStatus() {
	st := c.sw.Status()
	fmt.Fprintf(c.out, "\r\nactive=%d num_sources=%d\r\n", st.ActiveSource, st.NumSources)
	for _, s := range st.Sources {
		fmt.Fprintf(c.out, "  [%d] %s healthy=%t active=%t queue=%d packets=%d\r\n",
			s.Index, s.URL, s.Healthy, s.Active, s.QueueDepth, s.PacketsRead)
	}
}
