//go:build !(linux || darwin || freebsd)

package diskusage

import "errors"

func statPlatform(string) (Usage, error) {
	return Usage{}, errors.New("disk usage is not supported on this platform")
}
