package xt

import (
	"log/slog"
	"time"

	"github.com/tinyrange/xtvm/internal/chipset"
)

const (
	// DefaultToneDuration is how long each speaker activation sounds.
	DefaultToneDuration = 60 * time.Millisecond

	idleToneFrequency = 750

	sysCtrlSpeakerMask = 0x03
	sysCtrlParityMask  = 0x02
	sysCtrlNibbleLow   = 0x04
)

// ToneSink plays a speaker tone. Implementations must not block the caller
// for the duration of the tone.
type ToneSink interface {
	Beep(freq uint32, d time.Duration)
}

// ToneFunc adapts a function to ToneSink.
type ToneFunc func(freq uint32, d time.Duration)

func (f ToneFunc) Beep(freq uint32, d time.Duration) { f(freq, d) }

// SystemControl models 8255 port B (SYS_CTRL) and port C (SYS_PORTC).
// Port B gates the speaker from PIT channel 2; port C reports the
// planar memory size through a nibble selected by port B bit 2.
type SystemControl struct {
	portSet

	pit      *PIT
	tones    ToneSink
	duration time.Duration
	nibble   byte
	logger   *slog.Logger

	value     byte
	speakerOn bool
	mux       portMux
}

// NewSystemControl returns the port B/C pair. ramKiB is the conventional
// memory size reported to the BIOS and must be at least 64.
func NewSystemControl(pit *PIT, tones ToneSink, duration time.Duration, ramKiB int, logger *slog.Logger) *SystemControl {
	if duration <= 0 {
		duration = DefaultToneDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &SystemControl{
		pit:      pit,
		tones:    tones,
		duration: duration,
		nibble:   MemoryNibble(ramKiB),
		logger:   logger,
	}
	s.mux = portMux{
		PortSysCtrl: chipset.PortFunc{
			Read:  s.readPortB,
			Write: s.writePortB,
		},
		PortSysPortC: chipset.PortFunc{Read: s.readPortC},
	}
	return s
}

// MemoryNibble encodes a RAM size in KiB the way the XT planar switches
// report it: the number of 32 KiB blocks above the first 64 KiB.
func MemoryNibble(ramKiB int) byte {
	return byte((ramKiB - 64) / 32)
}

func (s *SystemControl) Value() byte     { return s.value }
func (s *SystemControl) SpeakerOn() bool { return s.speakerOn }

func (s *SystemControl) SupportsPortIO() *chipset.PortIOIntercept { return s.mux.intercept() }

func (s *SystemControl) Reset() error {
	s.value = 0
	s.speakerOn = false
	return nil
}

func (s *SystemControl) readPortB(port uint16, data []byte) error {
	putLow(data, s.value)
	return nil
}

func (s *SystemControl) writePortB(port uint16, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	s.value = data[0]
	on := s.value&sysCtrlSpeakerMask == sysCtrlSpeakerMask
	if on && !s.speakerOn {
		s.beep()
	}
	s.speakerOn = on
	return nil
}

func (s *SystemControl) beep() {
	freq := uint32(idleToneFrequency)
	if s.pit != nil {
		if reload := s.pit.Counter(2).Reload(); reload != 0 {
			freq = PITFrequency / uint32(reload)
		}
	}
	s.logger.Debug("speaker on", "freq", freq, "duration", s.duration)
	if s.tones != nil {
		s.tones.Beep(freq, s.duration)
	}
}

func (s *SystemControl) readPortC(port uint16, data []byte) error {
	var v byte
	if s.value&sysCtrlNibbleLow != 0 {
		v = s.nibble & 0x0F
	} else {
		v = (s.nibble >> 4) & 0x0F
	}
	if s.value&sysCtrlParityMask != 0 {
		v |= 0x20
	}
	putLow(data, v)
	return nil
}

func putLow(data []byte, v byte) {
	clear(data)
	if len(data) > 0 {
		data[0] = v
	}
}

var (
	_ chipset.Device   = &SystemControl{}
	_ chipset.Resetter = &SystemControl{}
	_ ToneSink         = ToneFunc(nil)
)
