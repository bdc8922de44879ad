// Package pmregion maps a PTM's backing file at a fixed virtual address,
// attempting a DAX-capable mapping first and falling back to a plain
// shared mapping, honoring the contract of §4.C: a persistent pointer is a
// raw virtual address, so the runtime cannot operate if the region lands
// anywhere else.
//
// Grounded on TrinityFC.hpp's mapPersistentRegion (mmap/MAP_SHARED_VALIDATE,
// retry-without-DAX, unmap-and-retry-on-wrong-address) and on the
// teacher's pkg/state/statefile package, which opens/maps backing files
// behind a small Go-idiomatic wrapper type.
package pmregion

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/pramalhe/durabletx/pkg/persist"
)

// ErrMapping is returned when the backing file cannot be mapped at its
// required fixed address.
var ErrMapping = persist.ErrMapping

// Config describes a single backing-file mapping.
type Config struct {
	// Path to the backing file. Created if it does not already exist.
	Path string
	// Addr is the fixed virtual address the mapping must land at.
	// Persistent pointers are raw addresses within [Addr, Addr+Size), so
	// every attaching process must request the same Addr.
	Addr uintptr
	// Size of the mapping in bytes.
	Size uintptr
	// DAX requests a MAP_SYNC-capable mapping (Direct Access semantics)
	// when the backing filesystem supports it; on failure the mapper
	// retries once without it.
	DAX bool
}

// Region is a live mapping of a Config. The zero value is not usable;
// construct with Map.
type Region struct {
	cfg     Config
	file    *os.File
	data    []byte
	flock   *flock.Flock
	created bool
}

// Map attaches to the backing file described by cfg, creating and
// zero-initializing it on first use. The returned bool reports whether
// this call performed first-time creation (the caller must then
// initialize the region's header, allocator, and root table before
// admitting transactions) as opposed to a re-attach to an existing file.
func Map(cfg Config) (*Region, bool, error) {
	fl := flock.New(cfg.Path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("pmregion: advisory lock: %w", err)
	}
	if locked {
		defer fl.Unlock()
	}

	preexisting := fileExists(cfg.Path)

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("pmregion: open %s: %w", cfg.Path, err)
	}

	created := !preexisting
	if created {
		if err := f.Truncate(int64(cfg.Size)); err != nil {
			f.Close()
			return nil, false, fmt.Errorf("pmregion: truncate: %w", err)
		}
	}

	data, err := mapFixed(f, cfg)
	if err != nil {
		f.Close()
		return nil, false, err
	}

	logrus.WithFields(logrus.Fields{
		"path":    cfg.Path,
		"addr":    fmt.Sprintf("%#x", cfg.Addr),
		"size":    cfg.Size,
		"created": created,
		"dax":     cfg.DAX,
	}).Info("pmregion: mapped")

	return &Region{cfg: cfg, file: f, data: data, flock: fl, created: created}, created, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// Bytes returns the mapped region as a byte slice backed by cfg.Addr.
func (r *Region) Bytes() []byte { return r.data }

// Addr returns the fixed virtual address the region was mapped at.
func (r *Region) Addr() uintptr { return r.cfg.Addr }

// Size returns the mapping size in bytes.
func (r *Region) Size() uintptr { return r.cfg.Size }

// Close unmaps the region and closes the backing file descriptor. Safe to
// call more than once.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unmap(r.data)
	r.data = nil
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
