package capture

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Indicator shows a transient status message.
type Indicator interface {
	Show(message string, d time.Duration)
}

// TermIndicator draws the message on one terminal line and clears it when
// the duration elapses. A newer message replaces the current one.
type TermIndicator struct {
	w     io.Writer
	mu    sync.Mutex
	timer *time.Timer
	seq   int
}

// NewTermIndicator writes to w (usually stderr).
func NewTermIndicator(w io.Writer) *TermIndicator {
	return &TermIndicator{w: w}
}

func (t *TermIndicator) Show(message string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.seq++
	seq := t.seq
	fmt.Fprintf(t.w, "\r\033[K%s", message)

	t.timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.seq == seq {
			fmt.Fprint(t.w, "\r\033[K")
		}
	})
}

// Dismiss clears the current message immediately.
func (t *TermIndicator) Dismiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && t.timer.Stop() {
		fmt.Fprint(t.w, "\r\033[K")
	}
	t.seq++
}

type nopIndicator struct{}

func (nopIndicator) Show(string, time.Duration) {}
