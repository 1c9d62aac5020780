//go:build linux

package channel

import "golang.org/x/sys/unix"

// PlatformVersion returns "Linux <kernel release>".
func PlatformVersion() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return "Linux"
	}
	return "Linux " + unix.ByteSliceToString(u.Release[:])
}
