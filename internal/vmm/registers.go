package vmm

import (
	"errors"
	"fmt"

	"github.com/tinyrange/xtvm/internal/hv"
)

// ErrRegisterGroup reports a failure writing one group of the reset state.
var ErrRegisterGroup = errors.New("failed to set register group")

// Real-mode reset state of an 8086-compatible processor, with execution
// starting at F000:FFF0.
const (
	resetRip    = 0xFFF0
	resetRsp    = 0xFFF0
	resetRflags = 0x2

	resetCsBase     = 0xF0000
	resetCsSelector = 0xF000
	realModeLimit   = 0xFFFF

	dataSegmentAttributes = 0x93
	codeSegmentAttributes = 0x9B
	ldtAttributes         = 0x82
	tssAttributes         = 0x83

	resetCr0  = 0x60000010
	resetDr6  = 0xFFFF0FF0
	resetDr7  = 0x400
	resetXCr0 = 0x1

	resetFpControl = 0x40
	resetFpTag     = 0x55
)

type registerGroup struct {
	name   string
	names  []hv.Register
	values []hv.RegisterValue
}

func generalPurposeGroup() registerGroup {
	values := make([]hv.RegisterValue, len(hv.GeneralPurposeRegisters))
	for i, r := range hv.GeneralPurposeRegisters {
		switch r {
		case hv.RegisterRsp:
			values[i] = hv.Uint64Value(resetRsp)
		case hv.RegisterRip:
			values[i] = hv.Uint64Value(resetRip)
		case hv.RegisterRflags:
			values[i] = hv.Uint64Value(resetRflags)
		}
	}
	return registerGroup{"General Purpose Registers", hv.GeneralPurposeRegisters, values}
}

func segmentGroup() registerGroup {
	data := hv.SegmentValue(hv.Segment{Limit: realModeLimit, Attributes: dataSegmentAttributes})
	values := make([]hv.RegisterValue, len(hv.SegmentRegisters))
	for i, r := range hv.SegmentRegisters {
		switch r {
		case hv.RegisterCs:
			values[i] = hv.SegmentValue(hv.Segment{
				Base:       resetCsBase,
				Limit:      realModeLimit,
				Selector:   resetCsSelector,
				Attributes: codeSegmentAttributes,
			})
		case hv.RegisterLdtr:
			values[i] = hv.SegmentValue(hv.Segment{Limit: realModeLimit, Attributes: ldtAttributes})
		case hv.RegisterTr:
			values[i] = hv.SegmentValue(hv.Segment{Limit: realModeLimit, Attributes: tssAttributes})
		default:
			values[i] = data
		}
	}
	return registerGroup{"Segment Registers", hv.SegmentRegisters, values}
}

// resetRegisterGroups returns the seven groups written to a fresh virtual
// processor, in the order they are applied.
func resetRegisterGroups() []registerGroup {
	table := hv.TableValue(hv.Table{Limit: realModeLimit})
	return []registerGroup{
		generalPurposeGroup(),
		segmentGroup(),
		{
			name:   "Descriptor Tables",
			names:  []hv.Register{hv.RegisterIdtr, hv.RegisterGdtr},
			values: []hv.RegisterValue{table, table},
		},
		{
			name:  "Control Registers",
			names: []hv.Register{hv.RegisterCr0, hv.RegisterCr2, hv.RegisterCr3, hv.RegisterCr4},
			values: []hv.RegisterValue{
				hv.Uint64Value(resetCr0), {}, {}, {},
			},
		},
		{
			name: "Debug Registers",
			names: []hv.Register{
				hv.RegisterDr0, hv.RegisterDr1, hv.RegisterDr2, hv.RegisterDr3,
				hv.RegisterDr6, hv.RegisterDr7,
			},
			values: []hv.RegisterValue{
				{}, {}, {}, {},
				hv.Uint64Value(resetDr6), hv.Uint64Value(resetDr7),
			},
		},
		{
			name:   "Extended Control Registers",
			names:  []hv.Register{hv.RegisterXCr0},
			values: []hv.RegisterValue{hv.Uint64Value(resetXCr0)},
		},
		{
			name:  "x87 Floating Point Control Status",
			names: []hv.Register{hv.RegisterFpControlStatus},
			values: []hv.RegisterValue{
				hv.FPControlStatusValue(hv.FPControlStatus{Control: resetFpControl, Tag: resetFpTag}),
			},
		},
	}
}

// InitializeRegisters puts vp into the real-mode reset state. Each group is
// written with a single SetRegisters call; the first failure is returned
// wrapped in ErrRegisterGroup and names the group.
func InitializeRegisters(vp hv.VirtualProcessor) error {
	for _, g := range resetRegisterGroups() {
		if err := vp.SetRegisters(g.names, g.values); err != nil {
			return fmt.Errorf("vmm: %w %q: %w", ErrRegisterGroup, g.name, err)
		}
	}
	return nil
}
