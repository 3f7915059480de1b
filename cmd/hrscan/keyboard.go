package main

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/hrscan/internal/groutine"
	"github.com/srg/hrscan/scanner"
	"golang.org/x/term"
)

const ctrlC = 0x03

// keyControl maps single key presses to scan controls:
// p or space toggles pause, q or Ctrl+C quits.
type keyControl struct {
	pause   *scanner.PauseFlag
	quit    context.CancelFunc
	onPhase func(phase string)
	status  io.Writer
}

// handle applies one key press and reports whether reading should stop
func (k *keyControl) handle(b byte) bool {
	switch b {
	case 'p', 'P', ' ':
		if k.pause.Toggle() {
			k.onPhase("Paused")
			color.New(color.FgYellow).Fprint(k.status, "\r\033[Kscan paused, press p to resume\r\n")
		} else {
			k.onPhase("Scanning")
			color.New(color.FgGreen).Fprint(k.status, "\r\033[Kscan resumed\r\n")
		}
	case 'q', 'Q', ctrlC:
		k.quit()
		return true
	}
	return false
}

// startKeyboard puts stdin into raw mode and feeds key presses to k.
// It is a no-op when in is not a terminal. The returned restore func is
// idempotent and must run before printing results.
func startKeyboard(ctx context.Context, in *os.File, k *keyControl, logger *logrus.Logger) func() {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return func() {}
	}

	fd := int(in.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		logger.WithError(err).Debug("Failed to enable raw terminal mode, keyboard control disabled")
		return func() {}
	}

	var once sync.Once
	restore := func() {
		once.Do(func() {
			if err := term.Restore(fd, state); err != nil {
				logger.WithError(err).Debug("Failed to restore terminal")
			}
		})
	}

	// the read blocks until the next key press, even after ctx is done
	groutine.Go(ctx, "keyboard", func(ctx context.Context) {
		buf := make([]byte, 1)
		for ctx.Err() == nil {
			n, err := in.Read(buf)
			if err != nil {
				return
			}
			if n == 1 && ctx.Err() == nil && k.handle(buf[0]) {
				return
			}
		}
	})

	return restore
}
