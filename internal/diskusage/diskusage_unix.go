//go:build linux || darwin || freebsd

package diskusage

import "golang.org/x/sys/unix"

func statPlatform(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bfree) * bsize
	return Usage{
		Total: total,
		Used:  total - free,
		Free:  uint64(st.Bavail) * bsize,
	}, nil
}
