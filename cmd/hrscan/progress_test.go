package main

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeBuffer lets the test read what the printer goroutine writes
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProgressPrinter_Seconds(t *testing.T) {
	up := NewProgressPrinter(nil, "Inspecting", "Connecting")
	assert.Equal(t, 0, up.seconds(900*time.Millisecond))
	assert.Equal(t, 3, up.seconds(3700*time.Millisecond))

	down := NewCountdownProgressPrinter(nil, "Scanning", "Scanning", 10*time.Second)
	assert.Equal(t, 10, down.seconds(0))
	assert.Equal(t, 4, down.seconds(6300*time.Millisecond), "remaining time MUST round to the nearest second")
	assert.Equal(t, 0, down.seconds(12*time.Second), "an expired countdown MUST show zero")
}

func TestProgressPrinter_PrintsPhaseAndClears(t *testing.T) {
	out := &safeBuffer{}
	p := NewProgressPrinter(out, "Inspecting device X", "Scanning", "Done")
	p.Start()

	p.Callback()("Connecting")
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("(Connecting..."))
	}, time.Second, 10*time.Millisecond, "printer MUST show the new phase")

	p.Stop()
	p.Stop()

	assert.Contains(t, out.String(), "\rInspecting device X (Scanning...)")
	assert.True(t, bytes.HasSuffix([]byte(out.String()), []byte(clearLineSequence)), "Stop MUST clear the line")
}

func TestProgressPrinter_StopPhaseStops(t *testing.T) {
	out := &safeBuffer{}
	p := NewProgressPrinter(out, "Inspecting", "Connecting", "Done", "Failed")
	p.Start()

	p.Callback()("Failed")

	select {
	case <-p.done:
	case <-time.After(time.Second):
		require.Fail(t, "stop phase MUST terminate the printer goroutine")
	}
	assert.Equal(t, "Failed", p.Phase())
}

func TestProgressPrinter_StartTwicePanics(t *testing.T) {
	p := NewProgressPrinter(nil, "x", "y")
	p.Start()
	defer p.Stop()

	assert.Panics(t, p.Start)
}
