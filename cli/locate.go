// Package cli locates the Inlet companion command-line executable installed
// alongside the server, so embedding applications can shell out to it for
// operations the RPC surface does not cover (bootstrapping, log collection).
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ErrNotFound is returned when no companion executable could be located.
var ErrNotFound = errors.New("cli: inlet executable not found")

// executable is the companion binary base name.
const executable = "inlet"

// Locate returns the path of the companion executable. The search order is
// $INLET_HOME/bin, ~/.inlet/bin, then PATH.
func Locate() (string, error) {
	name := executable
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	var candidates []string
	if home := os.Getenv("INLET_HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, "bin", name))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".inlet", "bin", name))
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("%w (searched INLET_HOME, ~/.inlet/bin and PATH)", ErrNotFound)
}
