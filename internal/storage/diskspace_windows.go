//go:build windows

package storage

import (
	"golang.org/x/sys/windows"

	"github.com/tanq16/danzo-agent/dlerr"
)

func FreeSpace(dir string) (uint64, error) {
	ptr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, dlerr.Wrap(dlerr.FailToAccessFile, "free space", err)
	}
	var available, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &total, &totalFree); err != nil {
		return 0, dlerr.Wrap(dlerr.FailToAccessFile, "free space", err)
	}
	return available, nil
}
