//go:build !linux

package channel

import (
	"runtime"
	"strings"
)

func PlatformVersion() string {
	if runtime.GOOS == "" {
		return "unknown"
	}
	return strings.ToUpper(runtime.GOOS[:1]) + runtime.GOOS[1:]
}
