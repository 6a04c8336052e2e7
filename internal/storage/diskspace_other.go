//go:build !linux && !darwin && !windows

package storage

import "errors"

// FreeSpace is not available on this platform; callers skip the check.
func FreeSpace(dir string) (uint64, error) {
	return 0, errors.ErrUnsupported
}
