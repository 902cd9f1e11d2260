package chipset

import (
	"errors"
	"testing"
)

type testDevice struct {
	ports   []uint16
	handler PortIOHandler
	names   map[uint16]string
}

func (d *testDevice) SupportsPortIO() *PortIOIntercept {
	return &PortIOIntercept{Ports: d.ports, Handler: d.handler}
}

func (d *testDevice) PortName(port uint16) (string, bool) {
	name, ok := d.names[port]
	return name, ok
}

func buildChipset(t *testing.T, tracer Tracer) (*Chipset, *Latch) {
	t.Helper()
	latch := &Latch{}
	b := NewBuilder().WithTracer(tracer)
	if err := b.RegisterDevice("latch", &testDevice{
		ports:   []uint16{0x80},
		handler: latch,
		names:   map[uint16]string{0x80: "POST"},
	}); err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	cs, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cs, latch
}

func TestRegisterDeviceRejectsDuplicatePorts(t *testing.T) {
	b := NewBuilder()
	if err := b.RegisterDevice("a", &testDevice{ports: []uint16{0x61}, handler: &Latch{}}); err != nil {
		t.Fatalf("first RegisterDevice: %v", err)
	}
	if err := b.RegisterDevice("b", &testDevice{ports: []uint16{0x61}, handler: &Latch{}}); err == nil {
		t.Fatalf("expected duplicate port registration to fail")
	}
	if err := b.RegisterDevice("a", &testDevice{ports: []uint16{0x62}, handler: &Latch{}}); err == nil {
		t.Fatalf("expected duplicate device name to fail")
	}
}

func TestHandlePIODispatchAndTrace(t *testing.T) {
	var traced []PortAccess
	cs, latch := buildChipset(t, TracerFunc(func(a PortAccess) { traced = append(traced, a) }))

	if err := cs.HandlePIO(0x80, []byte{0x5A}, true); err != nil {
		t.Fatalf("write: %v", err)
	}
	if latch.Value() != 0x5A {
		t.Fatalf("latch = 0x%02x, want 0x5a", latch.Value())
	}

	data := []byte{0xFF, 0xFF}
	if err := cs.HandlePIO(0x80, data, false); err != nil {
		t.Fatalf("read: %v", err)
	}
	if data[0] != 0x5A || data[1] != 0 {
		t.Fatalf("read data = % x, want 5a 00", data)
	}

	if len(traced) != 2 {
		t.Fatalf("traced %d accesses, want 2", len(traced))
	}
	if traced[0].Name != "POST" || !traced[0].Write || traced[0].Value != 0x5A {
		t.Fatalf("unexpected write trace %+v", traced[0])
	}
	if traced[1].Write || traced[1].Size != 2 || traced[1].Value != 0x5A {
		t.Fatalf("unexpected read trace %+v", traced[1])
	}
}

func TestUnknownPortBreaker(t *testing.T) {
	cs, _ := buildChipset(t, nil)

	err := cs.HandlePIO(0x1234, []byte{0}, true)
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("first unknown access: got %v, want ErrNotImplemented", err)
	}
	err = cs.HandlePIO(0x1234, []byte{0}, false)
	if !errors.Is(err, ErrRunawayPort) {
		t.Fatalf("second unknown access: got %v, want ErrRunawayPort", err)
	}
}

func TestUnknownPortBreakerResetsOnDifferentPort(t *testing.T) {
	cs, _ := buildChipset(t, nil)

	if err := cs.HandlePIO(0x1234, []byte{0}, true); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("P: got %v", err)
	}
	if err := cs.HandlePIO(0x4321, []byte{0}, true); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Q: got %v", err)
	}
	if err := cs.HandlePIO(0x1234, []byte{0}, true); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("P after Q: got %v", err)
	}
}

func TestUnknownPortBreakerResetsOnKnownPort(t *testing.T) {
	cs, _ := buildChipset(t, nil)

	if err := cs.HandlePIO(0x1234, []byte{0}, true); !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("P: got %v", err)
	}
	if err := cs.HandlePIO(0x80, []byte{0}, false); err != nil {
		t.Fatalf("known port: %v", err)
	}
	if err := cs.HandlePIO(0x1234, []byte{0}, true); errors.Is(err, ErrRunawayPort) {
		t.Fatalf("breaker tripped across an intervening access")
	}
}

func TestPortNameFallsBackToUnknown(t *testing.T) {
	cs, _ := buildChipset(t, nil)
	if got := cs.PortName(0x80); got != "POST" {
		t.Fatalf("PortName(0x80) = %q", got)
	}
	if got := cs.PortName(0x999); got != "UNKNOWN" {
		t.Fatalf("PortName(0x999) = %q", got)
	}
}
