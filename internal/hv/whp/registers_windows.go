//go:build windows && amd64

package whp

import (
	"fmt"

	"github.com/tinyrange/xtvm/internal/hv"
	"github.com/tinyrange/xtvm/internal/hv/whp/bindings"
)

var whpRegisterMap = map[hv.Register]bindings.RegisterName{
	hv.RegisterRax:    bindings.RegisterRax,
	hv.RegisterRcx:    bindings.RegisterRcx,
	hv.RegisterRdx:    bindings.RegisterRdx,
	hv.RegisterRbx:    bindings.RegisterRbx,
	hv.RegisterRsp:    bindings.RegisterRsp,
	hv.RegisterRbp:    bindings.RegisterRbp,
	hv.RegisterRsi:    bindings.RegisterRsi,
	hv.RegisterRdi:    bindings.RegisterRdi,
	hv.RegisterR8:     bindings.RegisterR8,
	hv.RegisterR9:     bindings.RegisterR9,
	hv.RegisterR10:    bindings.RegisterR10,
	hv.RegisterR11:    bindings.RegisterR11,
	hv.RegisterR12:    bindings.RegisterR12,
	hv.RegisterR13:    bindings.RegisterR13,
	hv.RegisterR14:    bindings.RegisterR14,
	hv.RegisterR15:    bindings.RegisterR15,
	hv.RegisterRip:    bindings.RegisterRip,
	hv.RegisterRflags: bindings.RegisterRflags,

	hv.RegisterEs:   bindings.RegisterEs,
	hv.RegisterCs:   bindings.RegisterCs,
	hv.RegisterSs:   bindings.RegisterSs,
	hv.RegisterDs:   bindings.RegisterDs,
	hv.RegisterFs:   bindings.RegisterFs,
	hv.RegisterGs:   bindings.RegisterGs,
	hv.RegisterLdtr: bindings.RegisterLdtr,
	hv.RegisterTr:   bindings.RegisterTr,

	hv.RegisterIdtr: bindings.RegisterIdtr,
	hv.RegisterGdtr: bindings.RegisterGdtr,

	hv.RegisterCr0: bindings.RegisterCr0,
	hv.RegisterCr2: bindings.RegisterCr2,
	hv.RegisterCr3: bindings.RegisterCr3,
	hv.RegisterCr4: bindings.RegisterCr4,

	hv.RegisterDr0: bindings.RegisterDr0,
	hv.RegisterDr1: bindings.RegisterDr1,
	hv.RegisterDr2: bindings.RegisterDr2,
	hv.RegisterDr3: bindings.RegisterDr3,
	hv.RegisterDr6: bindings.RegisterDr6,
	hv.RegisterDr7: bindings.RegisterDr7,

	hv.RegisterXCr0: bindings.RegisterXCr0,

	hv.RegisterFpControlStatus: bindings.RegisterFpControlStatus,
}

var hvRegisterMap = func() map[bindings.RegisterName]hv.Register {
	m := make(map[bindings.RegisterName]hv.Register, len(whpRegisterMap))
	for r, n := range whpRegisterMap {
		m[n] = r
	}
	return m
}()

func toWHPNames(names []hv.Register) ([]bindings.RegisterName, error) {
	out := make([]bindings.RegisterName, len(names))
	for i, r := range names {
		n, ok := whpRegisterMap[r]
		if !ok {
			return nil, fmt.Errorf("whp: unsupported register %v", r)
		}
		out[i] = n
	}
	return out, nil
}

// toHVNames translates names requested by the instruction emulator. ok is
// false when any of them has no hv.Register.
func toHVNames(names []bindings.RegisterName) ([]hv.Register, bool) {
	out := make([]hv.Register, len(names))
	for i, n := range names {
		r, ok := hvRegisterMap[n]
		if !ok {
			return nil, false
		}
		out[i] = r
	}
	return out, true
}

func toWHPValue(v hv.RegisterValue) bindings.RegisterValue {
	return bindings.RegisterValue{Low64: v.Low, High64: v.High}
}

func toHVValue(v bindings.RegisterValue) hv.RegisterValue {
	return hv.RegisterValue{Low: v.Low64, High: v.High64}
}
