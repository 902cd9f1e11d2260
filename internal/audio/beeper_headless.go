//go:build headless

package audio

import (
	"errors"
	"log/slog"
	"time"
)

var errHeadless = errors.New("audio: built without sound output (headless)")

// Beeper is unavailable in headless builds.
type Beeper struct{}

func Open(sampleRate int, logger *slog.Logger) (*Beeper, error) {
	return nil, errHeadless
}

func (b *Beeper) Beep(freq uint32, d time.Duration) {}

func (b *Beeper) Close() error { return nil }
