package vmm

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tinyrange/xtvm/internal/cga"
	"github.com/tinyrange/xtvm/internal/chipset"
	"github.com/tinyrange/xtvm/internal/devices/xt"
	"github.com/tinyrange/xtvm/internal/hv"
	"github.com/tinyrange/xtvm/internal/hv/hvtest"
)

var errInjected = errors.New("injected failure")

type testMachine struct {
	*Machine
	platform *hvtest.Platform
	board    *xt.Board
	video    *cga.TextBuffer
	console  *bytes.Buffer
	tones    []uint32
}

func newTestMachine(t *testing.T, platform *hvtest.Platform, input string) *testMachine {
	t.Helper()
	tm := &testMachine{
		platform: platform,
		video:    cga.NewTextBuffer(),
		console:  &bytes.Buffer{},
	}
	board, err := xt.NewBoard(xt.Config{
		Console:  tm.console,
		Keyboard: strings.NewReader(input),
		Text:     tm.video,
		Tones: xt.ToneFunc(func(freq uint32, d time.Duration) {
			tm.tones = append(tm.tones, freq)
		}),
	})
	if err != nil {
		t.Fatalf("NewBoard: %v", err)
	}
	tm.board = board

	m, err := New(platform, Config{
		MirrorMemory: true,
		SyncVideo:    true,
		Ports:        board.Chipset,
		Video:        tm.video,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tm.Machine = m
	return tm
}

func initialized(t *testing.T, platform *hvtest.Platform, input string) *testMachine {
	t.Helper()
	tm := newTestMachine(t, platform, input)
	if err := tm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { tm.Terminate() })
	// Blank the guest text page so the first video sync has nothing to copy.
	tm.video.Clear()
	return tm
}

func TestInitializeAcquiresInOrder(t *testing.T) {
	platform := &hvtest.Platform{}
	tm := newTestMachine(t, platform, "")
	if err := tm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer tm.Terminate()

	want := []string{
		"create emulator",
		"create partition",
		"set processor count",
		"setup partition",
		"allocate memory",
		"map memory 0x0",
		"map memory 0x100000",
		"create vp",
	}
	if got := platform.Events(); !slices.Equal(got, want) {
		t.Fatalf("events:\n got %q\nwant %q", got, want)
	}
	if platform.Partition.ProcessorCount() != 1 {
		t.Fatalf("processor count = %d", platform.Partition.ProcessorCount())
	}
	mem := tm.Memory().Bytes()
	if len(mem) != DefaultMemorySize {
		t.Fatalf("memory size = %d", len(mem))
	}
	for i, b := range mem {
		if b != 0 {
			t.Fatalf("guest memory not zeroed at %#x", i)
		}
	}
}

func TestInitializeWithoutMirror(t *testing.T) {
	platform := &hvtest.Platform{}
	tm := newTestMachine(t, platform, "")
	tm.cfg.MirrorMemory = false
	if err := tm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer tm.Terminate()
	if got := platform.Partition.Mapped(); !slices.Equal(got, []uint64{0}) {
		t.Fatalf("mapped = %#x", got)
	}
}

func TestTerminateReleasesInOrderOnce(t *testing.T) {
	platform := &hvtest.Platform{}
	tm := newTestMachine(t, platform, "")
	if err := tm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	before := len(platform.Events())

	if err := tm.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	want := []string{
		"unmap memory 0x100000",
		"unmap memory 0x0",
		"free memory",
		"delete vp",
		"delete partition",
		"destroy emulator",
	}
	if got := platform.Events()[before:]; !slices.Equal(got, want) {
		t.Fatalf("release events:\n got %q\nwant %q", got, want)
	}

	if err := tm.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
	if n := len(platform.Events()); n != before+len(want) {
		t.Fatalf("second Terminate released again: %q", platform.Events()[before+len(want):])
	}
	if err := tm.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Run after Terminate = %v", err)
	}
}

func TestInitializeFailureReleasesAcquired(t *testing.T) {
	tests := []struct {
		name    string
		fail    string
		release []string
	}{
		{
			name:    "emulator",
			fail:    "create emulator",
			release: nil,
		},
		{
			name:    "partition",
			fail:    "create partition",
			release: []string{"destroy emulator"},
		},
		{
			name:    "setup",
			fail:    "setup partition",
			release: []string{"delete partition", "destroy emulator"},
		},
		{
			name:    "allocate",
			fail:    "allocate memory",
			release: []string{"delete partition", "destroy emulator"},
		},
		{
			name:    "mirror mapping",
			fail:    "map memory 0x100000",
			release: []string{"unmap memory 0x0", "free memory", "delete partition", "destroy emulator"},
		},
		{
			name: "vp",
			fail: "create vp",
			release: []string{
				"unmap memory 0x100000", "unmap memory 0x0", "free memory",
				"delete partition", "destroy emulator",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			platform := &hvtest.Platform{Fail: map[string]error{tt.fail: errInjected}}
			tm := newTestMachine(t, platform, "")

			err := tm.Initialize(context.Background())
			if !errors.Is(err, errInjected) {
				t.Fatalf("Initialize = %v, want injected failure", err)
			}

			events := platform.Events()
			idx := slices.Index(events, tt.fail+" (failed)")
			if idx < 0 {
				t.Fatalf("failure not recorded: %q", events)
			}
			if got := events[idx+1:]; !slices.Equal(got, tt.release) {
				t.Fatalf("release events:\n got %q\nwant %q", got, tt.release)
			}

			// Nothing is left to release.
			if err := tm.Terminate(); err != nil {
				t.Fatalf("Terminate after failed Initialize: %v", err)
			}
			if n := len(platform.Events()); n != len(events) {
				t.Fatalf("Terminate released resources after a failed Initialize")
			}
		})
	}
}

func TestInitializeRegisterGroupFailure(t *testing.T) {
	platform := &hvtest.Platform{FailRegisters: map[hv.Register]error{hv.RegisterCr0: errInjected}}
	tm := newTestMachine(t, platform, "")

	err := tm.Initialize(context.Background())
	if !errors.Is(err, ErrRegisterGroup) || !errors.Is(err, errInjected) {
		t.Fatalf("Initialize = %v", err)
	}
	if !strings.Contains(err.Error(), "Control Registers") {
		t.Fatalf("error does not name the group: %v", err)
	}
	events := platform.Events()
	want := []string{
		"delete vp", "unmap memory 0x100000", "unmap memory 0x0", "free memory",
		"delete partition", "destroy emulator",
	}
	if got := events[len(events)-len(want):]; !slices.Equal(got, want) {
		t.Fatalf("release events:\n got %q\nwant %q", got, want)
	}
}

func TestInitializeRespectsCancelledContext(t *testing.T) {
	platform := &hvtest.Platform{}
	tm := newTestMachine(t, platform, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tm.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Initialize = %v", err)
	}
	if len(platform.Events()) != 0 {
		t.Fatalf("platform touched: %q", platform.Events())
	}
}

func TestNewValidatesConfig(t *testing.T) {
	board, err := xt.NewBoard(xt.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(&hvtest.Platform{}, Config{}); err == nil {
		t.Fatalf("missing port handler accepted")
	}
	if _, err := New(&hvtest.Platform{}, Config{Ports: board.Chipset, MemorySize: 1000}); err == nil {
		t.Fatalf("unaligned memory size accepted")
	}
	if _, err := New(nil, Config{Ports: board.Chipset}); err == nil {
		t.Fatalf("nil platform accepted")
	}
}

func TestRunPrintsToConsoleAndScreen(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.Out(xt.PortStringPrint, 'H'),
			hvtest.Out(xt.PortStringPrint, 'i'),
			hvtest.Out(xt.PortStringPrint, '\r'),
			hvtest.Out(xt.PortStringPrint, '\n'),
			hvtest.Reason(hv.ExitUnrecoverableException),
		},
	}
	tm := initialized(t, platform, "")

	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := tm.console.String(); got != "Hi\r\n" {
		t.Fatalf("console = %q", got)
	}
	if got := tm.video.Cell(0).Char(); got != 'H' {
		t.Fatalf("screen cell 0 = %q", got)
	}
	if got := tm.video.Cursor(); got != cga.Columns {
		t.Fatalf("cursor = %d, want %d", got, cga.Columns)
	}
	if exit := tm.LastExit(); exit == nil || exit.Reason != hv.ExitUnrecoverableException {
		t.Fatalf("LastExit = %+v", exit)
	}
	if rip := platform.VP.Register(hv.RegisterRip).Uint64(); rip != 0xFFF0+4 {
		t.Fatalf("rip = %#x, want %#x", rip, 0xFFF0+4)
	}
	if n := tm.ExitCounts()[hv.ExitIOPortAccess]; n != 4 {
		t.Fatalf("io exits = %d", n)
	}
}

func TestRunReadsKeyboardIntoRax(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.In(xt.PortKbdData, 1),
			hvtest.Reason(hv.ExitInvalidRegisterValue),
		},
	}
	tm := initialized(t, platform, "k")
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rax := platform.VP.Register(hv.RegisterRax).Uint64(); rax != 'k' {
		t.Fatalf("rax = %#x, want %#x", rax, 'k')
	}
}

func TestRunSpeakerTone(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.Out(xt.PortPITControl, 0xB6),
			hvtest.Out(xt.PortPITCounter2, 0xA9),
			hvtest.Out(xt.PortPITCounter2, 0x04),
			hvtest.Out(xt.PortSysCtrl, 0x03),
			hvtest.Reason(hv.ExitUnrecoverableException),
		},
	}
	tm := initialized(t, platform, "")
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(tm.tones) != 1 {
		t.Fatalf("tones = %v", tm.tones)
	}
	if f := tm.tones[0]; f < 995 || f > 1005 {
		t.Fatalf("tone = %d Hz, want about 1000", f)
	}
}

func TestRunHaltLoopNeverStopsOnItsOwn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const limit = 500
	platform := &hvtest.Platform{}
	halt := hvtest.Halt(1)
	platform.Repeat = func(vp *hvtest.VirtualProcessor) (*hv.Exit, error) {
		if vp.Runs >= limit {
			cancel()
		}
		return halt(vp)
	}
	tm := initialized(t, platform, "")

	err := tm.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
	if platform.VP.Runs != limit {
		t.Fatalf("runs = %d, want %d", platform.VP.Runs, limit)
	}
	if rip := platform.VP.Register(hv.RegisterRip).Uint64(); rip != 0xFFF0+limit {
		t.Fatalf("rip = %#x, want %#x", rip, 0xFFF0+limit)
	}
	if tm.LastExit() != nil {
		t.Fatalf("LastExit set on cancellation")
	}
}

func TestRunStopsOnMemoryFault(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.Halt(1),
			hvtest.MemoryFault(0x200000, hv.AccessWrite),
			hvtest.Halt(1),
		},
	}
	tm := initialized(t, platform, "")
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	exit := tm.LastExit()
	if exit == nil || exit.Reason != hv.ExitMemoryAccess || exit.Memory.GPA != 0x200000 {
		t.Fatalf("LastExit = %+v", exit)
	}
	if platform.VP.Runs != 2 {
		t.Fatalf("runs = %d, want 2", platform.VP.Runs)
	}
}

func TestRunStopsOnUnknownReason(t *testing.T) {
	platform := &hvtest.Platform{Steps: []hvtest.Step{hvtest.Reason(hv.ExitReason(0x1234))}}
	tm := initialized(t, platform, "")
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tm.LastExit().Reason != hv.ExitReason(0x1234) {
		t.Fatalf("LastExit = %+v", tm.LastExit())
	}
}

func TestRunUnknownPortIsRecoverableOnce(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.Out(0x0070, 0x8F),
			hvtest.Out(0x0080, 0x01),
			hvtest.Out(0x0070, 0x8F),
			hvtest.Reason(hv.ExitUnrecoverableException),
		},
	}
	tm := initialized(t, platform, "")
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if platform.Emulator.Attempts != 3 {
		t.Fatalf("emulation attempts = %d", platform.Emulator.Attempts)
	}
}

func TestRunRunawayPort(t *testing.T) {
	platform := &hvtest.Platform{
		Steps: []hvtest.Step{
			hvtest.Out(0x0070, 0x8F),
			hvtest.In(0x0070, 1),
			hvtest.Halt(1),
		},
	}
	tm := initialized(t, platform, "")
	err := tm.Run(context.Background())
	if !errors.Is(err, chipset.ErrRunawayPort) {
		t.Fatalf("Run = %v, want ErrRunawayPort", err)
	}
	if platform.VP.Runs != 2 {
		t.Fatalf("runs = %d, want 2", platform.VP.Runs)
	}
}

func TestRunReturnsPlatformError(t *testing.T) {
	platform := &hvtest.Platform{Steps: []hvtest.Step{hvtest.Halt(1)}}
	tm := initialized(t, platform, "")
	if err := tm.Run(context.Background()); !errors.Is(err, hvtest.ErrScriptExhausted) {
		t.Fatalf("Run = %v", err)
	}
}

func TestRunSyncsGuestVideoMemory(t *testing.T) {
	platform := &hvtest.Platform{}
	tm := initialized(t, platform, "")
	halt := hvtest.Halt(1)
	platform.Steps = []hvtest.Step{
		func(vp *hvtest.VirtualProcessor) (*hv.Exit, error) {
			mem := tm.Memory().Bytes()
			mem[cga.VideoBase] = 'Z'
			mem[cga.VideoBase+1] = 0x1F
			return halt(vp)
		},
		hvtest.Reason(hv.ExitUnrecoverableException),
	}
	if err := tm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if c := tm.video.Cell(0); c.Char() != 'Z' || c.Attribute() != 0x1F {
		t.Fatalf("screen cell 0 = %#04x", uint16(c))
	}
}

func TestRunBeforeInitialize(t *testing.T) {
	tm := newTestMachine(t, &hvtest.Platform{}, "")
	if err := tm.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Run = %v", err)
	}
}
