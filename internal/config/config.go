// Package config loads the machine description from xtvm.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultFilename = "xtvm.yaml"

// Display modes.
const (
	DisplayTerminal = "terminal"
	DisplayWindow   = "window"
	DisplayNone     = "none"
)

// Config is the full machine description. Zero fields are filled from
// Default when loaded.
type Config struct {
	MemoryKiB    uint64 `yaml:"memoryKiB"`
	RAMKiB       uint32 `yaml:"ramKiB"`
	MirrorMemory bool   `yaml:"mirrorMemory"`

	Program       string `yaml:"program,omitempty"`
	ProgramOffset uint64 `yaml:"programOffset"`
	BIOS          string `yaml:"bios"`
	FallbackBIOS  string `yaml:"fallbackBios"`
	Disk          string `yaml:"disk"`
	PortLog       string `yaml:"portLog"`

	ToneDuration    time.Duration `yaml:"toneDuration"`
	RetraceInterval time.Duration `yaml:"retraceInterval"`
	SyncVideo       bool          `yaml:"syncVideo"`

	Display    string `yaml:"display"`
	Audio      bool   `yaml:"audio"`
	CopyScreen bool   `yaml:"copyScreen"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		MemoryKiB:       1024,
		RAMKiB:          640,
		MirrorMemory:    true,
		ProgramOffset:   0x10100,
		BIOS:            "ami_8088_bios_31jan89.bin",
		FallbackBIOS:    "ivt.fw",
		Disk:            "disk.img",
		PortLog:         "port.log",
		ToneDuration:    60 * time.Millisecond,
		RetraceInterval: 16 * time.Millisecond,
		SyncVideo:       true,
		Display:         DisplayTerminal,
		Audio:           true,
	}
}

// MemoryBytes returns the guest memory size in bytes.
func (c Config) MemoryBytes() uint64 { return c.MemoryKiB * 1024 }

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MemoryKiB == 0 || c.MemoryKiB%4 != 0 {
		return fmt.Errorf("config: memoryKiB %d is not a positive multiple of 4", c.MemoryKiB)
	}
	if c.RAMKiB < 64 {
		return fmt.Errorf("config: ramKiB %d is below the 64 KiB minimum", c.RAMKiB)
	}
	if c.Program != "" && c.ProgramOffset >= c.MemoryBytes() {
		return fmt.Errorf("config: programOffset %#x is outside %d KiB of memory", c.ProgramOffset, c.MemoryKiB)
	}
	switch c.Display {
	case DisplayTerminal, DisplayWindow, DisplayNone:
	default:
		return fmt.Errorf("config: unknown display %q", c.Display)
	}
	return nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load reads path. A missing file yields Default when optional is set.
func Load(path string, optional bool) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return buf.Bytes(), nil
}
