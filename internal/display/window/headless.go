//go:build headless

package window

import (
	"context"
	"errors"

	"github.com/tinyrange/xtvm/internal/cga"
)

// KeySink receives bytes typed into the window.
type KeySink interface {
	Feed(b byte)
}

// Window is unavailable in headless builds.
type Window struct{}

func New(ctx context.Context, cancel context.CancelFunc, buf *cga.TextBuffer, keys KeySink, title string) *Window {
	return &Window{}
}

func (w *Window) Run() error {
	return errors.New("window: built without window support (headless)")
}
