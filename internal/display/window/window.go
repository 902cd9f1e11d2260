//go:build !headless

// Package window shows the CGA text screen in a desktop window.
package window

import (
	"context"
	"fmt"
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/text"
	"golang.org/x/image/font/basicfont"

	"github.com/tinyrange/xtvm/internal/cga"
	"github.com/tinyrange/xtvm/internal/display"
)

const (
	cellWidth  = 7
	cellHeight = 14
	baseline   = 11
	scale      = 2
)

// KeySink receives bytes typed into the window.
type KeySink interface {
	Feed(b byte)
}

// Window is an ebiten game drawing a cga.TextBuffer. Update and Draw run
// on the main goroutine and copy the screen once per tick.
type Window struct {
	buf     *cga.TextBuffer
	keys    KeySink
	palette *display.Palette
	title   string

	ctx    context.Context
	cancel context.CancelFunc

	snap  cga.Snapshot
	chars []rune
	glyph [1]rune
}

// New returns a window showing buf. Keys may be nil. Closing the window
// calls cancel.
func New(ctx context.Context, cancel context.CancelFunc, buf *cga.TextBuffer, keys KeySink, title string) *Window {
	return &Window{
		buf:     buf,
		keys:    keys,
		palette: &display.CGAPalette,
		title:   title,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run opens the window and blocks until it is closed or ctx is done. It
// must be called from the main goroutine.
func (w *Window) Run() error {
	ebiten.SetWindowSize(cga.Columns*cellWidth*scale, cga.Rows*cellHeight*scale)
	ebiten.SetWindowTitle(w.title)
	ebiten.SetWindowClosingHandled(true)
	if err := ebiten.RunGame(w); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	return nil
}

func (w *Window) Update() error {
	if ebiten.IsWindowBeingClosed() {
		w.cancel()
		return ebiten.Termination
	}
	if w.ctx.Err() != nil {
		return ebiten.Termination
	}
	w.readKeys()

	w.snap = w.buf.Snapshot()
	return nil
}

func (w *Window) readKeys() {
	if w.keys == nil {
		return
	}
	w.chars = ebiten.AppendInputChars(w.chars[:0])
	for _, r := range w.chars {
		if b, ok := display.InputByte(r); ok {
			w.keys.Feed(b)
		}
	}
	special := []struct {
		key ebiten.Key
		b   byte
	}{
		{ebiten.KeyEnter, '\r'},
		{ebiten.KeyNumpadEnter, '\r'},
		{ebiten.KeyBackspace, 0x08},
		{ebiten.KeyTab, '\t'},
		{ebiten.KeyEscape, 0x1B},
	}
	for _, s := range special {
		if inpututil.IsKeyJustPressed(s.key) {
			w.keys.Feed(s.b)
		}
	}
}

func (w *Window) Draw(screen *ebiten.Image) {
	for i, c := range w.snap.Cells {
		x := (i % cga.Columns) * cellWidth
		y := (i / cga.Columns) * cellHeight
		fg, bg := w.palette.Colors(c)

		rect := image.Rect(x, y, x+cellWidth, y+cellHeight)
		screen.SubImage(rect).(*ebiten.Image).Fill(bg)

		ch := c.Char()
		if ch == 0 || ch == ' ' {
			continue
		}
		w.glyph[0] = display.Glyph(ch)
		text.Draw(screen, string(w.glyph[:]), basicfont.Face7x13, x, y+baseline, fg)
	}
}

func (w *Window) Layout(outsideWidth, outsideHeight int) (int, int) {
	return cga.Columns * cellWidth, cga.Rows * cellHeight
}
