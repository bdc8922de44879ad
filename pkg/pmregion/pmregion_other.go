//go:build !linux

package pmregion

import (
	"os"
)

// There is no portable fixed-address mapping facility outside Linux (the
// BSDs and Darwin don't expose MAP_FIXED_NOREPLACE/MAP_SYNC equivalents
// this module can rely on for DAX), so non-Linux builds fail fast rather
// than silently degrading persistence guarantees. Per §9's "Fixed-address
// mapping" design note, there is no portable fallback to offer here.
func mapFixed(f *os.File, cfg Config) ([]byte, error) {
	return nil, ErrMapping
}

func unmap(data []byte) error {
	return nil
}
