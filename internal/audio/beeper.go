//go:build !headless

package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/tinyrange/xtvm/internal/devices/xt"
)

// Beeper sends speaker tones to the default output device.
type Beeper struct {
	logger *slog.Logger
	stream *ToneStream

	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
}

// Open creates the oto context and starts a player that is silent until
// the first tone. Only one oto context may exist per process.
func Open(sampleRate int, logger *slog.Logger) (*Beeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatFloat32LE,
		BufferSize:   20 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("audio: open output: %w", err)
	}
	<-ready

	b := &Beeper{
		logger: logger,
		stream: NewToneStream(sampleRate),
		ctx:    ctx,
	}
	b.player = ctx.NewPlayer(b.stream)
	b.player.Play()
	return b, nil
}

// Beep queues a square wave and returns immediately.
func (b *Beeper) Beep(freq uint32, d time.Duration) {
	if !b.stream.Enqueue(freq, d) {
		b.logger.Debug("tone dropped", "freq", freq, "duration", d)
	}
}

func (b *Beeper) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.player == nil {
		return nil
	}
	err := b.player.Close()
	b.player = nil
	if err != nil {
		return fmt.Errorf("audio: close player: %w", err)
	}
	return nil
}

var _ xt.ToneSink = &Beeper{}
