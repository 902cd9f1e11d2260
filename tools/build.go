///usr/bin/true; exec /usr/bin/env go run "$0" "$@"

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const PACKAGE_NAME = "github.com/tinyrange/xtvm"

// Only Windows on amd64 has the hypervisor platform xtvm runs on. Other
// hosts build and test with the headless tag.
const (
	targetOS   = "windows"
	targetArch = "amd64"
)

type buildOptions struct {
	OutputDir string
	Headless  bool
	Version   string
	DryRun    bool
}

func (o buildOptions) tags() []string {
	if o.Headless {
		return []string{"headless"}
	}
	return nil
}

func runCommand(dryRun bool, env []string, args ...string) error {
	fmt.Fprintf(os.Stderr, "+ %s\n", strings.Join(args, " "))
	if dryRun {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func goBuild(opts buildOptions) (string, error) {
	output := filepath.Join(opts.OutputDir, "xtvm.exe")
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create build directory: %w", err)
	}

	env := []string{"GOOS=" + targetOS, "GOARCH=" + targetArch, "CGO_ENABLED=0"}
	args := []string{"go", "build", "-o", output}
	if tags := opts.tags(); len(tags) > 0 {
		args = append(args, "-tags", strings.Join(tags, " "))
	}
	if opts.Version != "" {
		args = append(args, fmt.Sprintf("-ldflags=-X main.Version=%s", opts.Version))
	}
	args = append(args, PACKAGE_NAME+"/cmd/xtvm")

	if err := runCommand(opts.DryRun, env, args...); err != nil {
		return "", fmt.Errorf("go build failed: %w", err)
	}
	return output, nil
}

func goTest(opts buildOptions) error {
	args := []string{"go", "test"}
	if tags := opts.tags(); len(tags) > 0 {
		args = append(args, "-tags", strings.Join(tags, " "))
	}
	args = append(args, "./internal/...", "./cmd/...")
	if err := runCommand(opts.DryRun, nil, args...); err != nil {
		return fmt.Errorf("go test failed: %w", err)
	}
	return nil
}

func getVersion() string {
	if ref := os.Getenv("XTVM_VERSION"); ref != "" {
		return ref
	}
	out, err := exec.Command("git", "describe", "--tags", "--always").Output()
	if err == nil {
		if version := strings.TrimSpace(string(out)); version != "" {
			return version
		}
	}
	return "dev"
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [options] [build|test|run] [-- args...]

Options:
  -o <dir>       Output directory (default: build)
  --headless     Build without window, audio and clipboard support
  --dry-run      Show what would be done without executing
  -h, --help     Show this help message

Arguments after -- are passed to xtvm by 'run'.
`, os.Args[0])
}

func main() {
	opts := buildOptions{OutputDir: "build"}
	target := "build"
	var extraArgs []string

	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			extraArgs = args[i+1:]
			break
		}
		switch arg {
		case "-o":
			if i+1 >= len(args) {
				fmt.Fprintf(os.Stderr, "-o requires an argument\n")
				os.Exit(1)
			}
			i++
			opts.OutputDir = args[i]
		case "--headless":
			opts.Headless = true
		case "--dry-run":
			opts.DryRun = true
		case "-h", "--help":
			usage()
			os.Exit(0)
		case "build", "test", "run":
			target = arg
		default:
			fmt.Fprintf(os.Stderr, "unknown argument: %s\n", arg)
			usage()
			os.Exit(1)
		}
	}

	var err error
	switch target {
	case "build":
		opts.Version = getVersion()
		_, err = goBuild(opts)
	case "test":
		err = goTest(opts)
	case "run":
		opts.Version = getVersion()
		var output string
		if output, err = goBuild(opts); err == nil {
			err = runCommand(opts.DryRun, nil, append([]string{output}, extraArgs...)...)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
