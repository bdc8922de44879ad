//go:build linux

package pmregion

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mapSyncIfAvailable is unix.MAP_SYNC when the vendored constants define
// it (kernel >= 4.15 with a DAX-mounted backing filesystem); this module
// pins it to the numeric value from linux/mman.h since some older
// golang.org/x/sys releases don't export it.
const mapSyncIfAvailable = 0x80000

// mapFixed attempts a fixed-address mapping at cfg.Addr, first with the
// DAX-equivalent flag (if requested), then retrying once without it —
// mirroring mapPersistentRegion's "try with DAX, then retry plain" loop.
// If the kernel ever honors a fixed hint at the wrong address (it
// shouldn't, given MAP_FIXED, but defense in depth matches the original's
// unmap-and-retry branch) the mapping is torn down and retried.
func mapFixed(f *os.File, cfg Config) ([]byte, error) {
	const maxAttempts = 3
	flags := unix.MAP_SHARED | unix.MAP_FIXED
	if cfg.DAX {
		flags |= mapSyncIfAvailable
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		addr, _, errno := unix.Syscall6(
			unix.SYS_MMAP,
			cfg.Addr,
			cfg.Size,
			unix.PROT_READ|unix.PROT_WRITE,
			uintptr(flags),
			f.Fd(),
			0,
		)
		if errno != 0 {
			lastErr = errno
			if flags&mapSyncIfAvailable != 0 {
				// Retry without the DAX flag: the backing filesystem or
				// kernel may not support MAP_SYNC.
				flags &^= mapSyncIfAvailable
				continue
			}
			break
		}
		if addr != cfg.Addr {
			unix.Syscall(unix.SYS_MUNMAP, addr, cfg.Size, 0)
			lastErr = fmt.Errorf("pmregion: mmap landed at %#x, wanted %#x", addr, cfg.Addr)
			continue
		}
		return unsafe.Slice((*byte)(unsafe.Pointer(addr)), cfg.Size), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrMapping, lastErr)
}

func unmap(data []byte) error {
	return unix.Munmap(data)
}
