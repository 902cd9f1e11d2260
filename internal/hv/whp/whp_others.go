//go:build !(windows && amd64)

package whp

import (
	"log/slog"

	"github.com/tinyrange/xtvm/internal/hv"
)

// Platform is unavailable on this host.
type Platform struct{}

func Open(logger *slog.Logger) (*Platform, error) {
	return nil, hv.ErrUnsupported
}

func Probe() (Capabilities, error) {
	return Capabilities{}, hv.ErrUnsupported
}

func (p *Platform) CreateEmulator(cb hv.EmulatorCallbacks) (hv.Emulator, error) {
	return nil, hv.ErrUnsupported
}

func (p *Platform) CreatePartition() (hv.Partition, error) {
	return nil, hv.ErrUnsupported
}

func (p *Platform) AllocateMemory(size uint64) (hv.Memory, error) {
	return nil, hv.ErrUnsupported
}

var _ hv.Platform = &Platform{}
