package fc

import (
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/pramalhe/durabletx/pkg/alloc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pmregion"
	"github.com/pramalhe/durabletx/pkg/pwb"
	"github.com/pramalhe/durabletx/pkg/rwlock"
	"github.com/pramalhe/durabletx/pkg/threadreg"
)

// Config describes how to open or create a Trinity-FC region.
type Config struct {
	Path       string
	Addr       uintptr
	Size       uintptr
	DAX        bool
	NumRoots   int
	MaxThreads int
}

// Runtime is a live Trinity-FC PTM. Construct with Open.
type Runtime struct {
	region *pmregion.Region
	hdr    *header
	roots  []persist.Cell[uint64]
	pool   *alloc.Pool
	reg    *threadreg.Registry
	lock   *rwlock.Lock
	cfg    Config
}

var _ persist.Runtime = (*Runtime)(nil)

// Open maps cfg's backing file, initializing a fresh region on first use
// or attaching to (and recovering) an existing one.
func Open(cfg Config) (*Runtime, error) {
	if cfg.NumRoots <= 0 {
		cfg.NumRoots = 64
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = threadreg.DefaultMaxThreads
	}

	region, created, err := pmregion.Map(pmregion.Config{
		Path: cfg.Path, Addr: cfg.Addr, Size: cfg.Size, DAX: cfg.DAX,
	})
	if err != nil {
		return nil, err
	}

	base := unsafe.Pointer(&region.Bytes()[0])
	reg := threadreg.NewRegistry(cfg.MaxThreads)

	headerBytes, rootBytes := poolLayoutFor(base, cfg.NumRoots)
	poolSize := cfg.Size - headerBytes - rootBytes
	pBase := poolBase(base, cfg.NumRoots)

	rt := &Runtime{
		region: region,
		roots:  rootTableAt(base, cfg.NumRoots),
		reg:    reg,
		lock:   rwlock.New(cfg.MaxThreads, reg.MaxTid),
		cfg:    cfg,
	}

	if created {
		rt.hdr = initHeader(base, cfg.NumRoots)
		rt.pool = alloc.Init(pBase, poolSize, cfg.MaxThreads, reg.MaxTid)
		pwb.PSYNC()
		logrus.WithField("path", cfg.Path).Info("fc: initialized new region")
	} else {
		hdr, err := attachHeader(base, cfg.NumRoots)
		if err != nil {
			region.Close()
			return nil, err
		}
		rt.hdr = hdr
		rt.pool = alloc.Attach(pBase, poolSize, cfg.MaxThreads, reg.MaxTid)
		logrus.WithField("path", cfg.Path).Info("fc: attached to existing region, recovering")
		if err := Recover(rt.hdr, rt.pool, rt.roots); err != nil {
			region.Close()
			return nil, fmt.Errorf("fc: recovery failed: %w", err)
		}
	}

	return rt, nil
}

// Close unmaps the region. It does not delete the backing file.
func (rt *Runtime) Close() error { return rt.region.Close() }

// Name identifies this flavor for diagnostics (cmd/ptmctl, logs).
func (rt *Runtime) Name() string { return "Trinity-FC" }

// UpdateTx runs fn once under the exclusive side of the C-RW-WP lock.
// It does not combine other threads' pending requests into the same
// critical section: each call runs only its own closure and pays its own
// PFENCE/PSYNC. Every UpdateTx call gets mutual exclusion and the
// two-copy durability protocol tx.go implements.
func (rt *Runtime) UpdateTx(fn func(persist.Tx) error) error {
	rt.lock.ExclusiveLock()
	defer rt.lock.ExclusiveUnlock()

	tx := &Tx{rt: rt}
	if err := rt.runProtected(tx, fn); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// UpdateTxSeq runs fn with no locking at all, for callers that guarantee
// single-threaded access to the region (e.g. offline tools, or a single
// writer thread that never shares the region concurrently).
func (rt *Runtime) UpdateTxSeq(fn func(persist.Tx) error) error {
	tx := &Tx{rt: rt}
	if err := rt.runProtected(tx, fn); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

// ReadTx runs fn under the shared side of the lock. Stores are rejected
// with ErrAPIMisuse.
func (rt *Runtime) ReadTx(fn func(persist.Tx) error) error {
	c := rt.reg.CheckIn()
	defer c.CheckOut()

	rt.lock.SharedLock(c.TID())
	defer rt.lock.SharedUnlock(c.TID())

	tx := &Tx{rt: rt, readOnly: true}
	return rt.runProtected(tx, fn)
}

func (rt *Runtime) runProtected(tx *Tx, fn func(persist.Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if as, ok := r.(abortSignal); ok {
				err = as.err
				return
			}
			panic(r)
		}
	}()
	return fn(tx)
}

// TMMalloc allocates size bytes from the region's allocator. tx must be
// this runtime's own Tx (obtained from UpdateTx/UpdateTxSeq); calling it
// against a read-only Tx returns ErrAPIMisuse.
func (rt *Runtime) TMMalloc(tx persist.Tx, size uintptr) (unsafe.Pointer, error) {
	t, ok := tx.(*Tx)
	if !ok || t.readOnly {
		return nil, persist.ErrAPIMisuse
	}
	c := rt.reg.CheckIn()
	defer c.CheckOut()
	return rt.pool.Malloc(t, c.TID(), size)
}

// TMFree returns ptr to the allocator.
func (rt *Runtime) TMFree(tx persist.Tx, ptr unsafe.Pointer) error {
	t, ok := tx.(*Tx)
	if !ok || t.readOnly {
		return persist.ErrAPIMisuse
	}
	c := rt.reg.CheckIn()
	defer c.CheckOut()
	return rt.pool.Free(t, c.TID(), ptr)
}

// GetObject reads root pointer table slot i.
func (rt *Runtime) GetObject(i int) unsafe.Pointer {
	v := rt.roots[i].LoadDirect()
	return unsafe.Pointer(uintptr(v))
}

// PutObject writes root pointer table slot i within tx.
func (rt *Runtime) PutObject(tx persist.Tx, i int, p unsafe.Pointer) {
	rt.roots[i].Store(tx, uint64(uintptr(p)))
}

// Info is a snapshot of a region's header and root pointer table, for
// diagnostic tools that need to report region state without transacting.
type Info struct {
	Magic    uint64
	NumRoots uint64
	PSeq     uint64
	Roots    []uint64
}

// Inspect snapshots rt's header and root table. Safe to call concurrently
// with transactions; a root pointer observed here may be stale by the
// time the caller prints it.
func (rt *Runtime) Inspect() Info {
	roots := make([]uint64, len(rt.roots))
	for i := range rt.roots {
		roots[i] = rt.roots[i].LoadDirect()
	}
	return Info{
		Magic:    rt.hdr.Magic,
		NumRoots: rt.hdr.NumRoots,
		PSeq:     rt.hdr.PSeq.LoadDirect(),
		Roots:    roots,
	}
}
