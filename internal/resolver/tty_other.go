//go:build !linux

package resolver

import "os"

// ttyKey falls back to the controlling terminal's device path reported by
// the standard streams on non-Linux platforms, since /proc ancestry isn't
// available there.
func ttyKey() string {
	if f, err := os.Stdin.Stat(); err == nil {
		return "mode:" + f.Mode().String()
	}
	return ""
}
