package vmm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinyrange/xtvm/internal/hv"
)

// Run executes the guest until an exit it cannot continue from, the
// runaway port breaker trips, or ctx is cancelled. A fatal exit is logged
// with a register dump and recorded in LastExit; Run then returns nil.
// Cancellation is only observed between exits.
func (m *Machine) Run(ctx context.Context) error {
	if !m.initialized || m.terminated {
		return ErrNotInitialized
	}
	m.lastExit = nil

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		exit, err := m.vp.Run()
		if err != nil {
			return fmt.Errorf("vmm: run virtual processor: %w", err)
		}
		m.exits[exit.Reason]++

		cont, err := m.handleExit(exit)
		if m.cfg.SyncVideo && m.video != nil {
			m.video.SyncFromGuestMemory()
		}
		if err != nil {
			return err
		}
		if !cont {
			m.lastExit = exit
			return nil
		}
	}
}

// handleExit classifies one exit and reports whether the guest may
// continue.
func (m *Machine) handleExit(exit *hv.Exit) (bool, error) {
	switch exit.Reason {
	case hv.ExitIOPortAccess:
		return m.handleIOPort(exit)

	case hv.ExitHalt:
		// HLT with interrupts off would park the processor for good.
		// Step over it so BIOS wait loops keep polling.
		length := uint64(exit.InstructionLength)
		if length == 0 {
			length = 1
		}
		names := []hv.Register{hv.RegisterRip}
		values := []hv.RegisterValue{hv.Uint64Value(exit.Rip + length)}
		if err := m.vp.SetRegisters(names, values); err != nil {
			return false, fmt.Errorf("vmm: advance rip past hlt at %#x: %w", exit.Rip, err)
		}
		return true, nil

	case hv.ExitMemoryAccess:
		fault := exit.Memory
		m.logger.Error("memory access violation",
			"gpa", fmt.Sprintf("%#x", fault.GPA),
			"gva", fmt.Sprintf("%#x", fault.GVA),
			"access", fault.Access.String(),
			"gvaValid", fault.GVAValid,
			"gpaUnmapped", fault.GPAUnmapped,
			"instruction", fmt.Sprintf("% x", fault.InstructionBytes),
			"cs", fmt.Sprintf("%#04x", exit.Cs.Selector),
			"rip", fmt.Sprintf("%#x", exit.Rip))
		m.dumpRegisters(slog.LevelError)
		return false, nil

	case hv.ExitUnrecoverableException:
		m.logger.Error("unrecoverable exception",
			"cs", fmt.Sprintf("%#04x", exit.Cs.Selector),
			"rip", fmt.Sprintf("%#x", exit.Rip),
			"rflags", fmt.Sprintf("%#x", exit.Rflags))
		m.dumpRegisters(slog.LevelError)
		return false, nil

	case hv.ExitInvalidRegisterValue:
		m.logger.Error("invalid virtual processor register value",
			"rip", fmt.Sprintf("%#x", exit.Rip))
		m.dumpRegisters(slog.LevelError)
		return false, nil

	default:
		m.logger.Error("unhandled exit",
			"reason", exit.Reason.String(),
			"code", fmt.Sprintf("%#x", uint32(exit.Reason)),
			"rip", fmt.Sprintf("%#x", exit.Rip))
		return false, nil
	}
}

func (m *Machine) handleIOPort(exit *hv.Exit) (bool, error) {
	m.bridge.fatal = nil

	status, err := m.emulator.TryIoEmulation(m.vp, exit)
	if fatal := m.bridge.fatal; fatal != nil {
		m.bridge.fatal = nil
		m.dumpRegisters(slog.LevelError)
		return false, fmt.Errorf("vmm: port 0x%04x at %#x: %w", exit.IOPort.Port, exit.Rip, fatal)
	}
	switch {
	case err != nil:
		m.logger.Warn("i/o emulation call failed",
			"port", fmt.Sprintf("0x%04x", exit.IOPort.Port),
			"error", err)
	case !status.Successful():
		m.logger.Warn("i/o emulation failed",
			"port", fmt.Sprintf("0x%04x", exit.IOPort.Port),
			"status", fmt.Sprintf("%#08x", uint32(status)))
	}
	return true, nil
}

// dumpRegisters logs the general purpose and segment registers.
func (m *Machine) dumpRegisters(level slog.Level) {
	ctx := context.Background()
	if !m.logger.Enabled(ctx, level) {
		return
	}

	gpr := make([]hv.RegisterValue, len(hv.GeneralPurposeRegisters))
	if err := m.vp.GetRegisters(hv.GeneralPurposeRegisters, gpr); err != nil {
		m.logger.Warn("read general purpose registers", "error", err)
	} else {
		var sb strings.Builder
		for i, r := range hv.GeneralPurposeRegisters {
			if i > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%s=%016x", r, gpr[i].Uint64())
		}
		m.logger.Log(ctx, level, "general purpose registers", "regs", sb.String())
	}

	seg := make([]hv.RegisterValue, len(hv.SegmentRegisters))
	if err := m.vp.GetRegisters(hv.SegmentRegisters, seg); err != nil {
		m.logger.Warn("read segment registers", "error", err)
		return
	}
	var sb strings.Builder
	for i, r := range hv.SegmentRegisters {
		if i > 0 {
			sb.WriteByte(' ')
		}
		s := seg[i].Segment()
		fmt.Fprintf(&sb, "%s=%04x:%x/%x/%04x", r, s.Selector, s.Base, s.Limit, s.Attributes)
	}
	m.logger.Log(ctx, level, "segment registers", "regs", sb.String())
}
