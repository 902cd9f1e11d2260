// Package loader places firmware, program and disk images into a freshly
// initialized machine.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
)

var ErrImageTooLarge = errors.New("image too large")

const (
	// FirmwareBase is where the BIOS ROM starts in guest memory.
	FirmwareBase = 0xF0000
	// FirmwareWindow is the size of the ROM area below 1 MiB.
	FirmwareWindow = 0x10000
	// ResetVector is the physical address of F000:FFF0.
	ResetVector = 0xFFFF0

	// DefaultProgramOffset leaves room for a PSP below a .COM image.
	DefaultProgramOffset = 0x10100
)

// farJumpF000 is JMP F000:0000.
var farJumpF000 = [...]byte{0xEA, 0x00, 0x00, 0x00, 0xF0}

// SectorLoader receives a disk image.
type SectorLoader interface {
	Load(image []byte)
}

// Loader reads images from the host file system.
type Loader struct {
	Logger *slog.Logger

	// Progress receives a progress bar per image when non-nil.
	Progress io.Writer
}

func (l *Loader) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}

func (l *Loader) readImage(path, title string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(int(info.Size()))
	var w io.Writer = &buf
	if l.Progress != nil {
		bar := progressbar.NewOptions64(info.Size(),
			progressbar.OptionSetWriter(l.Progress),
			progressbar.OptionSetDescription(title),
			progressbar.OptionShowBytes(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprintln(l.Progress) }),
		)
		defer bar.Close()
		w = io.MultiWriter(&buf, bar)
	}
	if _, err := io.Copy(w, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadProgram copies the file at path into mem at offset and returns its
// size.
func (l *Loader) LoadProgram(mem []byte, path string, offset uint64) (int, error) {
	img, err := l.readImage(path, "load "+filepath.Base(path))
	if err != nil {
		return 0, fmt.Errorf("loader: read program: %w", err)
	}
	if offset > uint64(len(mem)) || uint64(len(img)) > uint64(len(mem))-offset {
		return 0, fmt.Errorf("loader: program %s (%d bytes at %#x): %w", path, len(img), offset, ErrImageTooLarge)
	}
	copy(mem[offset:], img)
	l.logger().Debug("program loaded", "path", path, "offset", fmt.Sprintf("%#x", offset), "size", len(img))
	return len(img), nil
}

// Firmware describes the ROM LoadFirmware placed.
type Firmware struct {
	Path     string
	Size     int
	Fallback bool
	Patched  bool
}

// LoadFirmware places a BIOS image at FirmwareBase. When primary does not
// exist the fallback image is used instead. Images shorter than
// FirmwareWindow are repeated to fill it. The reset vector is rewritten to
// jump to F000:0000 for fallback firmware, and for any image that does not
// already start with a far jump there.
func (l *Loader) LoadFirmware(mem []byte, primary, fallback string) (Firmware, error) {
	if len(mem) < FirmwareBase+FirmwareWindow {
		return Firmware{}, fmt.Errorf("loader: %d bytes of memory cannot hold the ROM window", len(mem))
	}

	fw := Firmware{Path: primary}
	img, err := l.readImage(primary, "load firmware")
	if errors.Is(err, fs.ErrNotExist) && fallback != "" && fallback != primary {
		l.logger().Warn("firmware not found, falling back", "path", primary, "fallback", fallback)
		fw = Firmware{Path: fallback, Fallback: true}
		img, err = l.readImage(fallback, "load firmware")
	}
	if err != nil {
		return Firmware{}, fmt.Errorf("loader: read firmware: %w", err)
	}
	if len(img) == 0 {
		return Firmware{}, fmt.Errorf("loader: firmware %s is empty", fw.Path)
	}
	if len(img) > FirmwareWindow {
		return Firmware{}, fmt.Errorf("loader: firmware %s (%d bytes): %w", fw.Path, len(img), ErrImageTooLarge)
	}
	if fallback != "" && filepath.Base(fw.Path) == filepath.Base(fallback) {
		fw.Fallback = true
	}
	fw.Size = len(img)

	rom := mem[FirmwareBase : FirmwareBase+FirmwareWindow]
	for pos := 0; pos < len(rom); pos += len(img) {
		copy(rom[pos:], img)
	}

	if fw.Fallback || mem[ResetVector] != farJumpF000[0] {
		copy(mem[ResetVector:], farJumpF000[:])
		fw.Patched = true
	}

	l.logger().Debug("firmware loaded",
		"path", fw.Path,
		"size", fw.Size,
		"fallback", fw.Fallback,
		"patched", fw.Patched)
	return fw, nil
}

// LoadDisk fills the disk sector from path. A missing file leaves the
// sector blank and is only logged.
func (l *Loader) LoadDisk(disk SectorLoader, path string, sectorSize int) error {
	img, err := l.readImage(path, "load disk")
	if errors.Is(err, fs.ErrNotExist) {
		l.logger().Warn("disk image not loaded, disk reads will return zeros", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loader: read disk: %w", err)
	}
	switch {
	case len(img) > sectorSize:
		l.logger().Warn("disk image truncated", "path", path, "size", len(img), "kept", sectorSize)
		img = img[:sectorSize]
	case len(img) < sectorSize:
		l.logger().Debug("disk image zero padded", "path", path, "size", len(img))
	}
	disk.Load(img)
	return nil
}
