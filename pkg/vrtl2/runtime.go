package vrtl2

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/pramalhe/durabletx/pkg/alloc"
	"github.com/pramalhe/durabletx/pkg/persist"
	"github.com/pramalhe/durabletx/pkg/pmregion"
	"github.com/pramalhe/durabletx/pkg/pwb"
	"github.com/pramalhe/durabletx/pkg/threadreg"
)

// Config describes how to open or create a Trinity-VR-TL2 region. PM is
// mapped at Addr/Size as usual; the volatile replica gets its own,
// separate fixed-address mapping (VRAddr/VRPath), matching the
// original's distinct VFILE_NAME/VREGION_ADDR rather than sharing PM's
// backing file. VRAddr and VRPath default from Addr/Path when left
// zero, placing the replica immediately past the PM mapping's address
// range in a sibling file.
type Config struct {
	Path       string
	Addr       uintptr
	Size       uintptr
	DAX        bool
	NumRoots   int
	MaxThreads int

	VRPath   string
	VRAddr   uintptr
	NumLocks int
}

func (cfg Config) vrPath() string {
	if cfg.VRPath != "" {
		return cfg.VRPath
	}
	return cfg.Path + ".vr"
}

func (cfg Config) vrAddr() uintptr {
	if cfg.VRAddr != 0 {
		return cfg.VRAddr
	}
	return cfg.Addr + cfg.Size
}

// Runtime is a live Trinity-VR-TL2 PTM. Construct with Open.
type Runtime struct {
	region *pmregion.Region
	hdr    *header
	perSeq []persist.Cell[uint64]

	pmPCLBase unsafe.Pointer
	numPCLs   uintptr

	replica *replica
	locks   *lockTable

	roots []persist.Cell[uint64]
	pool  *alloc.Pool
	reg   *threadreg.Registry
	clock atomic.Uint64
	cfg   Config
}

var _ persist.Runtime = (*Runtime)(nil)

// Open maps cfg's PM file and its separate volatile-replica file,
// initializing both on first use or attaching to (and recovering) an
// existing pair. PM holds only the header, the per-thread commit-
// generation table, and the pcl array; the replica holds the root
// table and the allocator's entire arena, mirroring the original's
// EsLoco2/root-table placement inside VREGION_ADDR.
func Open(cfg Config) (*Runtime, error) {
	if cfg.NumRoots <= 0 {
		cfg.NumRoots = 64
	}
	if cfg.MaxThreads <= 0 {
		cfg.MaxThreads = threadreg.DefaultMaxThreads
	}
	if cfg.NumLocks <= 0 {
		cfg.NumLocks = defaultNumLocks
	}

	region, created, err := pmregion.Map(pmregion.Config{
		Path: cfg.Path, Addr: cfg.Addr, Size: cfg.Size, DAX: cfg.DAX,
	})
	if err != nil {
		return nil, err
	}

	base := unsafe.Pointer(&region.Bytes()[0])
	reg := threadreg.NewRegistry(cfg.MaxThreads)

	numPCLs, capCells := pmCapacity(cfg.Size, cfg.MaxThreads)
	pmPCLBase := pclAreaBase(base, cfg.MaxThreads)

	vr, _, err := openReplica(cfg, capCells)
	if err != nil {
		region.Close()
		return nil, err
	}
	vrBase := unsafe.Pointer(vr.base)
	vrSize := capCells * cellStride
	rootBytes := uintptr(cfg.NumRoots) * cellStride
	poolBase := vrPoolBase(vrBase, cfg.NumRoots)
	poolSize := vrSize - rootBytes

	rt := &Runtime{
		region:    region,
		perSeq:    perSeqAt(base, cfg.MaxThreads),
		pmPCLBase: pmPCLBase,
		numPCLs:   numPCLs,
		replica:   vr,
		locks:     newLockTable(cfg.NumLocks),
		roots:     rootTableAt(vrBase, cfg.NumRoots),
		reg:       reg,
		cfg:       cfg,
	}

	if created {
		rt.hdr = initHeader(base, cfg.NumRoots)
		// Generation 0 is reserved as "never touched" (a virgin pcl's
		// zero-valued TSeq reads as untouched in recoverPCL): every
		// thread's perSeq slot starts at 1, like tl2's own perSeq and
		// the original's PMetadata p_seq initialization.
		for i := range rt.perSeq {
			rt.perSeq[i].StoreDirect(1)
			pwb.PWB(unsafe.Pointer(&rt.perSeq[i]))
		}
		rt.clock.Store(1)
		rt.pool = alloc.Init(poolBase, poolSize, cfg.MaxThreads, reg.MaxTid)
		pwb.PSYNC()
		logrus.WithField("path", cfg.Path).Info("vrtl2: initialized new region")
	} else {
		hdr, err := attachHeader(base, cfg.NumRoots)
		if err != nil {
			vr.close()
			region.Close()
			return nil, err
		}
		rt.hdr = hdr
		rt.pool = alloc.Attach(poolBase, poolSize, cfg.MaxThreads, reg.MaxTid)
		logrus.WithField("path", cfg.Path).Info("vrtl2: attached to existing region, recovering")
		maxCommitted, err := Recover(rt.perSeq, pmPCLBase, numPCLs)
		if err != nil {
			vr.close()
			region.Close()
			return nil, fmt.Errorf("vrtl2: recovery failed: %w", err)
		}
		rt.clock.Store(maxCommitted)
		rt.replica.rebuild(pmPCLBase)
	}

	return rt, nil
}

// Close unmaps both the PM region and the volatile replica.
func (rt *Runtime) Close() error {
	rerr := rt.replica.close()
	perr := rt.region.Close()
	if rerr != nil {
		return rerr
	}
	return perr
}

// Name identifies this flavor for diagnostics.
func (rt *Runtime) Name() string { return "Trinity-VR-TL2" }

// retryPolicy builds the exponential backoff schedule a conflicting
// transaction retries under, capped so a pathologically contended region
// fails loudly rather than spinning forever.
func retryPolicy() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Microsecond
	b.MaxInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return b
}

// UpdateTx runs fn, retrying with backoff whenever it conflicts with a
// concurrent writer. fn must have no side effects beyond Tx/allocator
// operations, since it may run more than once.
func (rt *Runtime) UpdateTx(fn func(persist.Tx) error) error {
	c := rt.reg.CheckIn()
	defer c.CheckOut()

	var lastErr error
	op := func() error {
		tx := newTx(rt, c.TID(), false)
		if err := rt.runProtected(tx, fn); err != nil {
			lastErr = err
			if err == errConflict {
				return err
			}
			return backoff.Permanent(err)
		}
		if err := tx.commit(); err != nil {
			lastErr = err
			return err
		}
		return nil
	}

	if err := backoff.Retry(op, retryPolicy()); err != nil {
		if err == errConflict {
			return lastErr
		}
		return err
	}
	return nil
}

// UpdateTxSeq runs fn once with no retry loop, for callers that guarantee
// no concurrent transactions against the region.
func (rt *Runtime) UpdateTxSeq(fn func(persist.Tx) error) error {
	c := rt.reg.CheckIn()
	defer c.CheckOut()

	tx := newTx(rt, c.TID(), false)
	if err := rt.runProtected(tx, fn); err != nil {
		return err
	}
	return tx.commit()
}

// ReadTx runs fn as a read-only snapshot transaction. Stores are rejected
// with ErrAPIMisuse; a stale read aborts and retries with the same
// backoff schedule as UpdateTx.
func (rt *Runtime) ReadTx(fn func(persist.Tx) error) error {
	c := rt.reg.CheckIn()
	defer c.CheckOut()

	var lastErr error
	op := func() error {
		tx := newTx(rt, c.TID(), true)
		if err := rt.runProtected(tx, fn); err != nil {
			lastErr = err
			if err == errConflict {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}
	if err := backoff.Retry(op, retryPolicy()); err != nil {
		if err == errConflict {
			return lastErr
		}
		return err
	}
	return nil
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

// TMMalloc allocates size bytes. tx must be this runtime's own Tx.
func (rt *Runtime) TMMalloc(tx persist.Tx, size uintptr) (unsafe.Pointer, error) {
	t, ok := tx.(*Tx)
	if !ok || t.readOnly {
		return nil, persist.ErrAPIMisuse
	}
	return rt.pool.Malloc(t, t.tid, size)
}

// TMFree returns ptr to the allocator.
func (rt *Runtime) TMFree(tx persist.Tx, ptr unsafe.Pointer) error {
	t, ok := tx.(*Tx)
	if !ok || t.readOnly {
		return persist.ErrAPIMisuse
	}
	return rt.pool.Free(t, t.tid, ptr)
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

// Info is a snapshot of a region's header, global clock, and root
// pointer table, for diagnostic tools that need to report region state
// without transacting.
type Info struct {
	Magic    uint64
	NumRoots uint64
	Clock    uint64
	Roots    []uint64
}

// Inspect snapshots rt's header, clock, and root table. Safe to call
// concurrently with transactions; any field observed here may be stale
// by the time the caller prints it.
func (rt *Runtime) Inspect() Info {
	roots := make([]uint64, len(rt.roots))
	for i := range rt.roots {
		roots[i] = rt.roots[i].LoadDirect()
	}
	return Info{
		Magic:    rt.hdr.Magic,
		NumRoots: rt.hdr.NumRoots,
		Clock:    rt.clock.Load(),
		Roots:    roots,
	}
}
