// Package console redraws the display mirror on a terminal whenever a cell changes.
package console

import (
	"context"
	"fmt"
	"io"

	"github.com/fisaks/weatherstation/internal/lcd"
	"github.com/fisaks/weatherstation/internal/logging"
)

type Renderer struct {
	mirror *lcd.Mirror
	out    io.Writer
	ansi   bool
	dirty  chan struct{}
}

// New observes mirror. With ansi set every redraw clears the screen first.
func New(mirror *lcd.Mirror, out io.Writer, ansi bool) *Renderer {
	r := &Renderer{mirror: mirror, out: out, ansi: ansi, dirty: make(chan struct{}, 1)}
	mirror.Observe(func(int, int, byte) { r.markDirty() })
	return r
}

func (r *Renderer) markDirty() {
	select {
	case r.dirty <- struct{}{}: // a redraw is already pending otherwise
	default:
	}
}

func (r *Renderer) Run(ctx context.Context) {
	r.draw()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.dirty:
			r.draw()
		}
	}
}

func (r *Renderer) draw() {
	prefix := ""
	if r.ansi {
		prefix = "\x1b[H\x1b[2J"
	}
	if _, err := fmt.Fprint(r.out, prefix+lcd.Frame(r.mirror.Snapshot())); err != nil {
		logging.Debug("console redraw failed", "error", err)
	}
}
