//go:build unix

package cache

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps f read-only. Empty files and mapping failures report
// mapped=false so the caller falls back to a buffered read.
func mmapFile(f *os.File, size int64) ([]byte, bool) {
	if size <= 0 || size > int64(maxMapSize) {
		return nil, false
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, false
	}
	return data, true
}

func munmap(region []byte) {
	_ = unix.Munmap(region)
}

// maxMapSize guards int conversion on 32-bit platforms.
const maxMapSize = 1 << 30
