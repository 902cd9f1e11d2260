package xt

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tinyrange/xtvm/internal/chipset"
)

// DefaultRAMKiB is the conventional memory size reported to the BIOS.
const DefaultRAMKiB = 640

// Config carries the host collaborators and tunables of a Board. Nil
// collaborators are allowed: output is dropped and input reads as 0xFF.
type Config struct {
	RAMKiB          int
	ToneDuration    time.Duration
	RetraceInterval time.Duration

	Console  io.Writer
	Keyboard io.ByteReader
	Text     TextSink
	Tones    ToneSink

	// Now is the clock used for the CGA retrace toggle.
	Now func() time.Time

	Tracer chipset.Tracer
	Logger *slog.Logger
}

// Board is the assembled XT device set and the chipset dispatching to it.
type Board struct {
	Chipset *chipset.Chipset

	Printer  *Printer
	Keyboard *Keyboard
	Disk     *Disk
	PIT      *PIT
	System   *SystemControl
	PIC      *PIC
	DMA      *DMA
	MDA      *CRTC
	CGA      *CRTC
	Retrace  *RetraceStatus
	FDC      *FDC
	Misc     *Misc
}

// NewBoard builds every XT device and registers it with a new chipset.
func NewBoard(cfg Config) (*Board, error) {
	if cfg.RAMKiB == 0 {
		cfg.RAMKiB = DefaultRAMKiB
	}
	if cfg.RAMKiB < 64 {
		return nil, fmt.Errorf("xt: ram size %d KiB below 64 KiB", cfg.RAMKiB)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := &Board{
		Printer:  NewPrinter(cfg.Console, cfg.Text),
		Keyboard: NewKeyboard(cfg.Keyboard),
		Disk:     NewDisk(),
		PIT:      NewPIT(),
		PIC:      NewPIC(),
		DMA:      NewDMA(),
		MDA:      NewMDA(),
		CGA:      NewCGA(),
		Retrace:  NewRetraceStatus(cfg.RetraceInterval, cfg.Now),
		FDC:      NewFDC(),
		Misc:     NewMisc(),
	}
	b.System = NewSystemControl(b.PIT, cfg.Tones, cfg.ToneDuration, cfg.RAMKiB, logger)

	builder := chipset.NewBuilder().
		WithTracer(cfg.Tracer).
		WithLogger(logger)

	devices := []struct {
		name string
		dev  chipset.Device
	}{
		{"printer", b.Printer},
		{"keyboard", b.Keyboard},
		{"disk", b.Disk},
		{"pit", b.PIT},
		{"system-control", b.System},
		{"pic", b.PIC},
		{"dma", b.DMA},
		{"mda", b.MDA},
		{"cga", b.CGA},
		{"cga-status", b.Retrace},
		{"fdc", b.FDC},
		{"misc", b.Misc},
	}
	for _, d := range devices {
		if err := builder.RegisterDevice(d.name, d.dev); err != nil {
			return nil, fmt.Errorf("xt: register %s: %w", d.name, err)
		}
	}

	cs, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("xt: build chipset: %w", err)
	}
	b.Chipset = cs
	return b, nil
}
