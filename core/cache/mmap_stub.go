//go:build !unix

package cache

import "os"

// mmapFile on platforms without mmap support always reports
// mapped=false; the cache serves buffered reads instead.
func mmapFile(_ *os.File, _ int64) ([]byte, bool) {
	return nil, false
}

func munmap(_ []byte) {}
