//go:build unix

package identity

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// osVersion returns the kernel release, e.g. "6.8.0-45-generic".
func osVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS
	}
	if release := unix.ByteSliceToString(u.Release[:]); release != "" {
		return release
	}
	return runtime.GOOS
}
