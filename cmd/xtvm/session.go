package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/term"

	"github.com/tinyrange/xtvm/internal/audio"
	"github.com/tinyrange/xtvm/internal/cga"
	"github.com/tinyrange/xtvm/internal/chipset"
	"github.com/tinyrange/xtvm/internal/config"
	"github.com/tinyrange/xtvm/internal/console"
	"github.com/tinyrange/xtvm/internal/devices/xt"
	"github.com/tinyrange/xtvm/internal/display"
	"github.com/tinyrange/xtvm/internal/display/window"
	"github.com/tinyrange/xtvm/internal/hv/whp"
	"github.com/tinyrange/xtvm/internal/loader"
	"github.com/tinyrange/xtvm/internal/portlog"
	"github.com/tinyrange/xtvm/internal/vmm"
)

const (
	startBanner = "============ Program Start ============"
	endBanner   = "============= Program End ============="

	// windowGrace is how long a closed window waits for the guest to stop.
	windowGrace = 2 * time.Second
)

// session is one assembled machine and the host resources feeding it.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	stdout io.Writer

	video    *cga.TextBuffer
	keyboard *console.Keyboard
	beeper   *audio.Beeper
	portLog  *portlog.Log
	terminal *display.Terminal
	board    *xt.Board
	machine  *vmm.Machine
}

func newSession(cfg config.Config, logger *slog.Logger, stdout io.Writer) (_ *session, err error) {
	s := &session{
		cfg:    cfg,
		logger: logger,
		stdout: stdout,
		video:  cga.NewTextBuffer(),
	}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if cfg.PortLog != "" {
		if s.portLog, err = portlog.Open(cfg.PortLog); err != nil {
			return nil, err
		}
	}

	if cfg.Display == config.DisplayWindow {
		s.keyboard = console.NewKeyboard(logger)
	} else if s.keyboard, err = console.Open(logger); err != nil {
		logger.Warn("host keyboard unavailable, guest reads will see no input", "error", err)
		s.keyboard = console.NewKeyboard(logger)
		s.keyboard.Close()
	}

	var tones xt.ToneSink
	if cfg.Audio {
		if s.beeper, err = audio.Open(audio.DefaultSampleRate, logger); err != nil {
			logger.Warn("audio unavailable, speaker disabled", "error", err)
			s.beeper = nil
		} else {
			tones = s.beeper
		}
	}

	// Console output shows up through the rendered screen in terminal
	// mode. Everywhere else it is echoed as a plain stream.
	var echo io.Writer = stdout
	if cfg.Display == config.DisplayTerminal && isTerminal(stdout) {
		s.terminal = display.NewTerminal(stdout)
		echo = nil
		if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && (w < cga.Columns || h <= cga.Rows) {
			logger.Warn("terminal smaller than the guest screen", "width", w, "height", h)
		}
	}

	s.board, err = xt.NewBoard(xt.Config{
		RAMKiB:          int(cfg.RAMKiB),
		ToneDuration:    cfg.ToneDuration,
		RetraceInterval: cfg.RetraceInterval,
		Console:         echo,
		Keyboard:        s.keyboard,
		Text:            s.video,
		Tones:           tones,
		Tracer:          s.tracer(),
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// tracer sends every port access to the debug log and the port log file.
func (s *session) tracer() chipset.Tracer {
	return chipset.TracerFunc(func(access chipset.PortAccess) {
		s.logger.Debug("port access", "access", access.String())
		if s.portLog != nil {
			s.portLog.TracePort(access)
		}
	})
}

// run builds the machine, loads the images and runs the guest to
// completion. It must be called on a locked OS thread.
func (s *session) run(ctx context.Context) error {
	platform, err := whp.Open(s.logger)
	if err != nil {
		return fmt.Errorf("open hypervisor: %w", err)
	}

	s.machine, err = vmm.New(platform, vmm.Config{
		MemorySize:   s.cfg.MemoryBytes(),
		MirrorMemory: s.cfg.MirrorMemory,
		SyncVideo:    s.cfg.SyncVideo,
		Ports:        s.board.Chipset,
		Video:        s.video,
		Logger:       s.logger,
	})
	if err != nil {
		return err
	}
	if err := s.machine.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		if err := s.machine.Terminate(); err != nil {
			s.logger.Error("terminate machine", "error", err)
		}
	}()

	if err := s.load(); err != nil {
		return err
	}

	// A guest blocked on keyboard input only notices cancellation once
	// the keyboard is closed.
	stopKeyboard := context.AfterFunc(ctx, func() { s.keyboard.Close() })
	defer stopKeyboard()

	fmt.Fprintln(s.stdout, startBanner)
	runErr := s.present(ctx, s.machine.Run)
	fmt.Fprintln(s.stdout, endBanner)

	if exit := s.machine.LastExit(); exit != nil {
		s.logger.Info("guest stopped", "reason", exit.Reason.String(), "rip", fmt.Sprintf("%#x", exit.Rip))
	}
	if err := s.video.Dump(s.stdout); err != nil {
		s.logger.Warn("dump screen", "error", err)
	}
	if s.cfg.CopyScreen {
		s.copyScreen()
	}
	return runErr
}

func (s *session) load() error {
	l := loader.Loader{Logger: s.logger}
	if isTerminal(os.Stderr) {
		l.Progress = os.Stderr
	}
	mem := s.machine.Memory().Bytes()

	if _, err := l.LoadFirmware(mem, s.cfg.BIOS, s.cfg.FallbackBIOS); err != nil {
		return err
	}
	if s.cfg.Program != "" {
		if _, err := l.LoadProgram(mem, s.cfg.Program, s.cfg.ProgramOffset); err != nil {
			return err
		}
	}
	if err := l.LoadDisk(s.board.Disk, s.cfg.Disk, xt.SectorSize); err != nil {
		return err
	}
	s.video.Clear()
	return nil
}

// present runs fn while the terminal renderer, if any, follows the screen.
func (s *session) present(ctx context.Context, fn func(context.Context) error) error {
	if s.terminal == nil {
		return fn(ctx)
	}

	renderCtx, stopRender := context.WithCancel(ctx)
	rendered := make(chan error, 1)
	go func() { rendered <- s.terminal.Run(renderCtx, s.video, s.cfg.RetraceInterval) }()

	err := fn(ctx)
	stopRender()
	if rerr := <-rendered; rerr != nil {
		s.logger.Warn("terminal display", "error", rerr)
	}
	if cerr := s.terminal.Close(); cerr != nil {
		s.logger.Warn("restore terminal", "error", cerr)
	}
	return err
}

// runWindowed runs the guest on its own locked thread while the window
// owns the main goroutine.
func (s *session) runWindowed(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- s.run(ctx)
		cancel()
	}()

	w := window.New(ctx, cancel, s.video, s.keyboard, "xtvm")
	werr := w.Run()
	cancel()

	select {
	case err := <-done:
		return errors.Join(werr, err)
	case <-time.After(windowGrace):
		s.logger.Warn("guest did not stop after the window closed")
		return werr
	}
}

func (s *session) copyScreen() {
	if err := copyToClipboard(s.video.Text()); err != nil {
		s.logger.Warn("clipboard unavailable", "error", err)
		return
	}
	s.logger.Info("screen copied to clipboard")
}

func (s *session) close() {
	if s.keyboard != nil {
		s.keyboard.Close()
	}
	if s.beeper != nil {
		if err := s.beeper.Close(); err != nil {
			s.logger.Warn("close audio", "error", err)
		}
	}
	if s.portLog != nil {
		if err := s.portLog.Close(); err != nil {
			s.logger.Warn("close port log", "error", err)
		}
	}
}
