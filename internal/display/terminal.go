package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/tinyrange/xtvm/internal/cga"
)

// Terminal draws the text screen with ANSI escapes. The first frame paints
// every cell; later frames repaint only the cells that changed.
type Terminal struct {
	out     io.Writer
	palette *Palette

	prev    cga.Snapshot
	painted bool
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out, palette: &CGAPalette}
}

// Render writes the difference between s and the previous frame. It
// returns without writing when nothing changed.
func (t *Terminal) Render(s *cga.Snapshot) error {
	var sb strings.Builder
	if !t.painted {
		sb.WriteString(ansi.HideCursor)
		sb.WriteString(ansi.ResetStyle)
		sb.WriteString(ansi.EraseEntireScreen)
	}

	lastAttr := -1
	next := -1
	for i, c := range s.Cells {
		if t.painted && t.prev.Cells[i] == c {
			continue
		}
		if i != next {
			sb.WriteString(ansi.CursorPosition(i%cga.Columns+1, i/cga.Columns+1))
		}
		if int(c.Attribute()) != lastAttr {
			lastAttr = int(c.Attribute())
			sb.WriteString(ansi.ResetStyle)
			sb.WriteString(t.style(c).String())
		}
		sb.WriteRune(Glyph(c.Char()))
		next = i + 1
		// The terminal wraps on its own after column 80.
		if next%cga.Columns == 0 {
			next = -1
		}
	}

	t.prev = *s
	if sb.Len() == 0 {
		t.painted = true
		return nil
	}
	sb.WriteString(ansi.ResetStyle)
	t.painted = true

	if _, err := io.WriteString(t.out, sb.String()); err != nil {
		return fmt.Errorf("display: write terminal frame: %w", err)
	}
	return nil
}

func (t *Terminal) style(c cga.Cell) ansi.Style {
	a := DecodeAttribute(c.Attribute())
	s := ansi.Style{}.
		ForegroundColor(t.palette[a.Foreground]).
		BackgroundColor(t.palette[a.Background])
	if a.Blink {
		s = s.Blink(true)
	}
	return s
}

// Run renders buf whenever it changes until ctx is done. Frames are paced
// to at most one per interval.
func (t *Terminal) Run(ctx context.Context, buf *cga.TextBuffer, interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	snap := buf.Snapshot()
	if err := t.Render(&snap); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			snap := buf.Snapshot()
			return t.Render(&snap)
		case <-buf.Changed():
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		snap := buf.Snapshot()
		if err := t.Render(&snap); err != nil {
			return err
		}
	}
}

// Close moves the cursor below the screen and shows it again.
func (t *Terminal) Close() error {
	if !t.painted {
		return nil
	}
	_, err := io.WriteString(t.out, ansi.ResetStyle+ansi.CursorPosition(1, cga.Rows+1)+ansi.ShowCursor)
	return err
}
