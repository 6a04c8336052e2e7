//go:build linux || darwin

package storage

import (
	"golang.org/x/sys/unix"

	"github.com/tanq16/danzo-agent/dlerr"
)

// FreeSpace returns the bytes available to unprivileged users on the filesystem holding dir.
func FreeSpace(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, dlerr.Wrap(dlerr.FailToAccessFile, "statfs", err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
