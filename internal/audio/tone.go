// Package audio plays PC speaker tones on the host sound device.
package audio

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// DefaultSampleRate is the output rate of the tone stream.
const DefaultSampleRate = 44100

// maxQueued bounds the tones waiting to play. A guest beeping in a tight
// loop drops tones rather than growing the queue.
const maxQueued = 64

const amplitude = 0.25

type tone struct {
	period    float64 // samples per cycle
	remaining int
}

// ToneStream is an io.Reader producing mono float32 little-endian samples.
// Queued tones play back to back as 50% square waves; the stream is silent
// when the queue is empty.
type ToneStream struct {
	sampleRate int

	mu    sync.Mutex
	queue []tone
	phase float64
}

func NewToneStream(sampleRate int) *ToneStream {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &ToneStream{sampleRate: sampleRate}
}

// Enqueue schedules a tone of freq Hz for d. It never blocks. Tones with no
// audible frequency or duration are ignored.
func (s *ToneStream) Enqueue(freq uint32, d time.Duration) bool {
	samples := int(int64(d) * int64(s.sampleRate) / int64(time.Second))
	if freq == 0 || samples <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) >= maxQueued {
		return false
	}
	s.queue = append(s.queue, tone{
		period:    float64(s.sampleRate) / float64(freq),
		remaining: samples,
	})
	return true
}

// Pending returns the number of tones not yet fully played.
func (s *ToneStream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *ToneStream) Read(p []byte) (int, error) {
	n := len(p) / 4 * 4

	s.mu.Lock()
	defer s.mu.Unlock()

	for off := 0; off < n; off += 4 {
		var v float32
		if len(s.queue) > 0 {
			t := &s.queue[0]
			if s.phase < t.period/2 {
				v = amplitude
			} else {
				v = -amplitude
			}
			s.phase++
			if s.phase >= t.period {
				s.phase = math.Mod(s.phase, t.period)
			}
			t.remaining--
			if t.remaining == 0 {
				s.queue = s.queue[1:]
				s.phase = 0
			}
		}
		binary.LittleEndian.PutUint32(p[off:], math.Float32bits(v))
	}
	return n, nil
}
