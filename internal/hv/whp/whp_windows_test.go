//go:build windows && amd64

package whp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/tinyrange/xtvm/internal/hv"
	"github.com/tinyrange/xtvm/internal/hv/whp/bindings"
)

func TestRegisterMapCoversMonitorRegisters(t *testing.T) {
	names := append([]hv.Register{}, hv.GeneralPurposeRegisters...)
	names = append(names, hv.SegmentRegisters...)
	names = append(names,
		hv.RegisterIdtr, hv.RegisterGdtr,
		hv.RegisterCr0, hv.RegisterCr2, hv.RegisterCr3, hv.RegisterCr4,
		hv.RegisterDr0, hv.RegisterDr1, hv.RegisterDr2, hv.RegisterDr3, hv.RegisterDr6, hv.RegisterDr7,
		hv.RegisterXCr0, hv.RegisterFpControlStatus,
	)
	whpNames, err := toWHPNames(names)
	if err != nil {
		t.Fatal(err)
	}
	back, ok := toHVNames(whpNames)
	if !ok {
		t.Fatalf("reverse mapping incomplete")
	}
	for i := range names {
		if back[i] != names[i] {
			t.Errorf("%v mapped back to %v", names[i], back[i])
		}
	}
	if _, ok := toHVNames([]bindings.RegisterName{0x2001}); ok {
		t.Errorf("efer mapped to a monitor register")
	}
}

func TestResultFor(t *testing.T) {
	if got := resultFor(nil); got != bindings.S_OK {
		t.Errorf("nil = %#x", uint32(got))
	}
	if got := resultFor(fmt.Errorf("port 0x70: %w", hv.ErrNotImplemented)); got != bindings.E_NOTIMPL {
		t.Errorf("not implemented = %#x", uint32(got))
	}
	if got := resultFor(errors.New("boom")); got != bindings.E_FAIL {
		t.Errorf("other = %#x", uint32(got))
	}
}

func TestDecodeIOPortExit(t *testing.T) {
	var ctx bindings.RunVPExitContext
	ctx.ExitReason = bindings.RunVPExitReasonX64IoPortAccess
	ctx.VpContext.InstructionLengthCr8 = 0x31
	ctx.VpContext.Rip = 0xFFF0
	ctx.VpContext.Cs = bindings.X64SegmentRegister{Base: 0xF0000, Limit: 0xFFFF, Selector: 0xF000, Attributes: 0x9B}
	io := ctx.IoPortAccess()
	io.PortNumber = 0x61
	io.AccessInfo.AsUINT32 = 1 | 1<<1
	io.Rax = 0x03

	exit := decodeExit(&ctx)
	if exit.Reason != hv.ExitIOPortAccess || exit.InstructionLength != 1 {
		t.Fatalf("reason %v length %d", exit.Reason, exit.InstructionLength)
	}
	if exit.Cs.Selector != 0xF000 || exit.Rip != 0xFFF0 {
		t.Fatalf("cs:ip = %04x:%x", exit.Cs.Selector, exit.Rip)
	}
	want := hv.IOPortExit{Port: 0x61, AccessSize: 1, Write: true, Rax: 0x03}
	if exit.IOPort != want {
		t.Fatalf("io = %+v, want %+v", exit.IOPort, want)
	}
	if exit.Native != &ctx {
		t.Fatalf("native context not preserved")
	}
}

func TestDecodeMemoryExit(t *testing.T) {
	var ctx bindings.RunVPExitContext
	ctx.ExitReason = bindings.RunVPExitReasonMemoryAccess
	m := ctx.MemoryAccess()
	m.Gpa = 0x123456
	m.Gva = 0x3456
	m.AccessInfo.AsUINT32 = 1 | 1<<2 | 1<<3
	m.InstructionByteCount = 2
	m.InstructionBytes[0], m.InstructionBytes[1] = 0x88, 0x07

	exit := decodeExit(&ctx)
	f := exit.Memory
	if f.GPA != 0x123456 || f.GVA != 0x3456 || f.Access != hv.AccessWrite || !f.GPAUnmapped || !f.GVAValid {
		t.Fatalf("fault = %+v", f)
	}
	if len(f.InstructionBytes) != 2 || f.InstructionBytes[0] != 0x88 {
		t.Fatalf("instruction bytes = % x", f.InstructionBytes)
	}
}

type recordingCallbacks struct {
	ports []hv.IOAccess
	regs  map[hv.Register]hv.RegisterValue
	err   error
}

func (r *recordingCallbacks) IOPort(access *hv.IOAccess) error {
	r.ports = append(r.ports, *access)
	if r.err != nil {
		return r.err
	}
	if !access.Write {
		access.Data = 0x5A
	}
	return nil
}

func (r *recordingCallbacks) Memory(access *hv.MemoryAccess) error {
	return r.err
}

func (r *recordingCallbacks) GetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	for i, n := range names {
		values[i] = r.regs[n]
	}
	return nil
}

func (r *recordingCallbacks) SetRegisters(names []hv.Register, values []hv.RegisterValue) error {
	for i, n := range names {
		r.regs[n] = values[i]
	}
	return nil
}

func (r *recordingCallbacks) TranslateGVA(gva uint64, flags hv.TranslateFlags) (hv.TranslateResult, uint64, error) {
	return hv.TranslateSuccess, gva, nil
}

func registerFake(t *testing.T, cb hv.EmulatorCallbacks) uintptr {
	t.Helper()
	registryMu.Lock()
	nextID++
	id := nextID
	registry[id] = &emulator{id: id, cb: cb}
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, id)
		registryMu.Unlock()
	})
	return id
}

func TestRouterDispatchesByContextID(t *testing.T) {
	cb := &recordingCallbacks{regs: map[hv.Register]hv.RegisterValue{hv.RegisterRip: hv.Uint64Value(0xFFF0)}}
	id := registerFake(t, cb)
	r := router{}

	in := &bindings.EmulatorIOAccessInfo{Port: 0x60, AccessSize: 1}
	if hr := r.IOPort(id, in); hr != bindings.S_OK {
		t.Fatalf("IOPort = %#x", uint32(hr))
	}
	if in.Data != 0x5A {
		t.Fatalf("read data = %#x", in.Data)
	}

	out := &bindings.EmulatorIOAccessInfo{Direction: 1, Port: 0x00, AccessSize: 1, Data: 'H'}
	r.IOPort(id, out)
	if len(cb.ports) != 2 || !cb.ports[1].Write || cb.ports[1].Data != 'H' {
		t.Fatalf("ports = %+v", cb.ports)
	}

	values := make([]bindings.RegisterValue, 1)
	if hr := r.GetRegisters(id, []bindings.RegisterName{bindings.RegisterRip}, values); hr != bindings.S_OK {
		t.Fatalf("GetRegisters = %#x", uint32(hr))
	}
	if values[0].Low64 != 0xFFF0 {
		t.Fatalf("rip = %#x", values[0].Low64)
	}

	if hr := r.IOPort(id+1000, in); hr != bindings.E_FAIL {
		t.Fatalf("unknown context = %#x", uint32(hr))
	}
}

func TestRouterMapsNotImplemented(t *testing.T) {
	cb := &recordingCallbacks{err: fmt.Errorf("port 0x70: %w", hv.ErrNotImplemented)}
	id := registerFake(t, cb)
	if hr := (router{}).IOPort(id, &bindings.EmulatorIOAccessInfo{Port: 0x70, AccessSize: 1}); hr != bindings.E_NOTIMPL {
		t.Fatalf("IOPort = %#x", uint32(hr))
	}
}

func TestProbe(t *testing.T) {
	caps, err := Probe()
	if errors.Is(err, hv.ErrUnsupported) {
		t.Skipf("platform unavailable: %v", err)
	}
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	t.Log(caps)
}
