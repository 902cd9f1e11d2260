// Command xtvm boots an IBM PC/XT class BIOS or a flat program image on the
// Windows Hypervisor Platform and emulates its I/O ports in user space.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/tinyrange/xtvm/internal/chipset"
	"github.com/tinyrange/xtvm/internal/config"
	"github.com/tinyrange/xtvm/internal/hv/whp"
)

// Version is set at build time.
var Version = "dev"

// ExitError carries a process exit code through run.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "xtvm: %v\n", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

type options struct {
	configPath string
	debug      bool
	probe      bool
	cfg        config.Config
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("xtvm", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "Machine configuration file (default: "+config.DefaultFilename+" when present)")
	program := fs.String("program", "", "Flat program image to load")
	bios := fs.String("bios", "", "BIOS image")
	disk := fs.String("disk", "", "Disk sector image")
	memory := fs.Uint64("memory", 0, "Guest memory in KiB")
	display := fs.String("display", "", "Display: terminal, window or none")
	noAudio := fs.Bool("no-audio", false, "Disable the PC speaker")
	portLog := fs.String("port-log", "", "Port access log file (empty string disables)")
	fs.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&opts.probe, "probe", false, "Report hypervisor capabilities and exit")
	copyScreen := fs.Bool("copy-screen", false, "Copy the final text screen to the clipboard")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: xtvm [flags]\n\n")
		fmt.Fprintf(stderr, "Run an 8088 BIOS or program image in a hardware-virtualized real-mode guest.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	var err error
	if opts.configPath != "" {
		opts.cfg, err = config.Load(opts.configPath, false)
	} else {
		opts.cfg, err = config.Load(config.DefaultFilename, true)
	}
	if err != nil {
		return options{}, err
	}

	// Only flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "program":
			opts.cfg.Program = *program
		case "bios":
			opts.cfg.BIOS = *bios
		case "disk":
			opts.cfg.Disk = *disk
		case "memory":
			opts.cfg.MemoryKiB = *memory
		case "display":
			opts.cfg.Display = *display
		case "no-audio":
			opts.cfg.Audio = !*noAudio
		case "port-log":
			opts.cfg.PortLog = *portLog
		case "copy-screen":
			opts.cfg.CopyScreen = *copyScreen
		}
	})
	if err := opts.cfg.Validate(); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Debug("xtvm", "version", Version, "config", opts.configPath)

	if opts.probe {
		caps, err := whp.Probe()
		fmt.Fprintln(stdout, caps)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := newSession(opts.cfg, logger, stdout)
	if err != nil {
		return err
	}
	defer s.close()

	if opts.cfg.Display == config.DisplayWindow {
		err = s.runWindowed(ctx)
	} else {
		// The hypervisor wants every call for a virtual processor to come
		// from the thread that created it.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		err = s.run(ctx)
	}

	switch {
	case errors.Is(err, chipset.ErrRunawayPort):
		return &ExitError{Code: 1, Err: err}
	case errors.Is(err, context.Canceled):
		logger.Info("interrupted")
		return nil
	}
	return err
}
