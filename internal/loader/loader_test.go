package loader

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tinyrange/xtvm/internal/devices/xt"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestLoadProgram(t *testing.T) {
	dir := t.TempDir()
	prog := []byte{0xB0, 'H', 0xE6, 0x00, 0xF4}
	path := writeFile(t, dir, "hello.com", prog)

	mem := make([]byte, 1<<20)
	var l Loader
	n, err := l.LoadProgram(mem, path, DefaultProgramOffset)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	if n != len(prog) || !bytes.Equal(mem[DefaultProgramOffset:DefaultProgramOffset+len(prog)], prog) {
		t.Fatalf("loaded %d bytes: % x", n, mem[DefaultProgramOffset:DefaultProgramOffset+8])
	}
}

func TestLoadProgramOverflow(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.com", make([]byte, 64))

	mem := make([]byte, 0x1000)
	var l Loader
	if _, err := l.LoadProgram(mem, path, 0xFF0); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("overflowing load = %v", err)
	}
	if _, err := l.LoadProgram(mem, path, 0x2000); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("offset past end = %v", err)
	}
	if _, err := l.LoadProgram(mem, filepath.Join(dir, "missing.com"), 0); err == nil {
		t.Fatalf("missing program accepted")
	}
}

func TestLoadFirmwareFullWindow(t *testing.T) {
	dir := t.TempDir()
	img := pattern(FirmwareWindow, 0)
	img[ResetVector-FirmwareBase] = 0xEA
	path := writeFile(t, dir, "bios.bin", img)

	mem := make([]byte, 1<<20)
	var l Loader
	fw, err := l.LoadFirmware(mem, path, filepath.Join(dir, "ivt.fw"))
	if err != nil {
		t.Fatalf("LoadFirmware: %v", err)
	}
	if fw.Fallback || fw.Patched || fw.Size != FirmwareWindow {
		t.Fatalf("firmware = %+v", fw)
	}
	if !bytes.Equal(mem[FirmwareBase:], img) {
		t.Fatalf("ROM window does not match image")
	}
}

func TestLoadFirmwareMirrorsSmallImage(t *testing.T) {
	dir := t.TempDir()
	img := pattern(0x2000, 0x10)
	path := writeFile(t, dir, "small.bin", img)

	mem := make([]byte, 1<<20)
	var l Loader
	fw, err := l.LoadFirmware(mem, path, "")
	if err != nil {
		t.Fatalf("LoadFirmware: %v", err)
	}
	for base := FirmwareBase; base < FirmwareBase+FirmwareWindow-len(img); base += len(img) {
		if !bytes.Equal(mem[base:base+len(img)], img) {
			t.Fatalf("copy at %#x differs", base)
		}
	}
	// The last copy ends at 1 MiB, less the patched reset vector.
	if !fw.Patched {
		t.Fatalf("image without a far jump was not patched")
	}
	if got := mem[ResetVector : ResetVector+5]; !bytes.Equal(got, farJumpF000[:]) {
		t.Fatalf("reset vector = % x", got)
	}
	if mem[FirmwareBase-1] != 0 {
		t.Fatalf("wrote below the ROM window")
	}
}

func TestLoadFirmwareFallback(t *testing.T) {
	dir := t.TempDir()
	fallback := writeFile(t, dir, "ivt.fw", pattern(0x1000, 0x40))

	mem := make([]byte, 1<<20)
	var l Loader
	fw, err := l.LoadFirmware(mem, filepath.Join(dir, "ami.bin"), fallback)
	if err != nil {
		t.Fatalf("LoadFirmware: %v", err)
	}
	if !fw.Fallback || !fw.Patched || fw.Path != fallback {
		t.Fatalf("firmware = %+v", fw)
	}
	if got := mem[ResetVector : ResetVector+5]; !bytes.Equal(got, farJumpF000[:]) {
		t.Fatalf("reset vector = % x", got)
	}
}

func TestLoadFirmwareFallbackNamedDirectly(t *testing.T) {
	dir := t.TempDir()
	img := pattern(FirmwareWindow, 0)
	img[ResetVector-FirmwareBase] = 0xEA
	fallback := writeFile(t, dir, "ivt.fw", img)

	mem := make([]byte, 1<<20)
	var l Loader
	fw, err := l.LoadFirmware(mem, fallback, fallback)
	if err != nil {
		t.Fatal(err)
	}
	if !fw.Fallback || !fw.Patched {
		t.Fatalf("fallback firmware named as primary = %+v", fw)
	}
}

func TestLoadFirmwareErrors(t *testing.T) {
	dir := t.TempDir()
	var l Loader

	big := writeFile(t, dir, "big.bin", make([]byte, FirmwareWindow+1))
	if _, err := l.LoadFirmware(make([]byte, 1<<20), big, ""); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("oversized firmware = %v", err)
	}
	empty := writeFile(t, dir, "empty.bin", nil)
	if _, err := l.LoadFirmware(make([]byte, 1<<20), empty, ""); err == nil {
		t.Fatalf("empty firmware accepted")
	}
	if _, err := l.LoadFirmware(make([]byte, 1<<20), filepath.Join(dir, "a.bin"), filepath.Join(dir, "b.fw")); err == nil {
		t.Fatalf("both images missing accepted")
	}
	if _, err := l.LoadFirmware(make([]byte, 0x10000), big, ""); err == nil {
		t.Fatalf("memory without a ROM window accepted")
	}
}

func TestLoadDisk(t *testing.T) {
	dir := t.TempDir()
	var l Loader

	disk := xt.NewDisk()
	if err := l.LoadDisk(disk, filepath.Join(dir, "disk.img"), xt.SectorSize); err != nil {
		t.Fatalf("missing disk: %v", err)
	}
	if !bytes.Equal(disk.Bytes(), make([]byte, xt.SectorSize)) {
		t.Fatalf("missing disk left data behind")
	}

	short := writeFile(t, dir, "short.img", []byte{1, 2, 3})
	if err := l.LoadDisk(disk, short, xt.SectorSize); err != nil {
		t.Fatal(err)
	}
	got := disk.Bytes()
	if got[0] != 1 || got[2] != 3 || got[3] != 0 || got[xt.SectorSize-1] != 0 {
		t.Fatalf("short image not zero padded: % x", got[:8])
	}

	long := writeFile(t, dir, "long.img", pattern(xt.SectorSize+100, 7))
	if err := l.LoadDisk(disk, long, xt.SectorSize); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(disk.Bytes(), pattern(xt.SectorSize, 7)) {
		t.Fatalf("long image not truncated to one sector")
	}
}

func TestProgressOutput(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "prog.com", make([]byte, 4096))

	var progress bytes.Buffer
	l := Loader{Progress: &progress}
	if _, err := l.LoadProgram(make([]byte, 1<<16), path, 0); err != nil {
		t.Fatal(err)
	}
	if progress.Len() == 0 {
		t.Fatalf("no progress written")
	}
}
