package hv

import (
	"bytes"
	"testing"
)

func TestSegmentValueLayout(t *testing.T) {
	v := SegmentValue(Segment{Base: 0xF0000, Limit: 0xFFFF, Selector: 0xF000, Attributes: 0x9B})

	want := []byte{
		0x00, 0x00, 0x0F, 0x00, 0x00, 0x00, 0x00, 0x00, // base
		0xFF, 0xFF, 0x00, 0x00, // limit
		0x00, 0xF0, // selector
		0x9B, 0x00, // attributes
	}
	got := v.Bytes()
	if !bytes.Equal(got[:], want) {
		t.Fatalf("segment encoding = % x, want % x", got, want)
	}
	if seg := v.Segment(); seg.Selector != 0xF000 || seg.Attributes != 0x9B || seg.Limit != 0xFFFF {
		t.Fatalf("decoded segment mismatch: %+v", seg)
	}
}

func TestTableValueLayout(t *testing.T) {
	v := TableValue(Table{Limit: 0xFFFF, Base: 0x1234})
	got := v.Bytes()
	if got[6] != 0xFF || got[7] != 0xFF {
		t.Fatalf("limit not at offset 6: % x", got)
	}
	if got[8] != 0x34 || got[9] != 0x12 {
		t.Fatalf("base not at offset 8: % x", got)
	}
}

func TestFPControlStatusLayout(t *testing.T) {
	v := FPControlStatusValue(FPControlStatus{Control: 0x40, Tag: 0x55})
	got := v.Bytes()
	if got[0] != 0x40 || got[1] != 0x00 {
		t.Fatalf("control word misplaced: % x", got)
	}
	if got[4] != 0x55 {
		t.Fatalf("tag byte misplaced: % x", got)
	}
}

func TestEmulatorStatusSuccessful(t *testing.T) {
	tests := []struct {
		status EmulatorStatus
		want   bool
	}{
		{EmulatorSuccess, true},
		{0, false},
		{EmulatorSuccess | EmulatorIOPortCallbackFailed, false},
		{EmulatorSuccess | EmulatorTranslateNotAligned, true},
	}
	for _, tt := range tests {
		if got := tt.status.Successful(); got != tt.want {
			t.Errorf("EmulatorStatus(%#x).Successful() = %v, want %v", uint32(tt.status), got, tt.want)
		}
	}
}
