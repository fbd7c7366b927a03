// Package vm implements the demand-paged virtual memory core: the
// per-process supplemental page table, the global frame table with
// clock eviction, the anonymous swap backend, and memory-mapped
// files.
package vm

import "container/list"
import "sync"

import "github.com/rs/zerolog"

import "vmkern/fs"
import "vmkern/mem"
import "vmkern/stats"
import "vmkern/util"

/// Vmtype_t identifies the backing of a page. The low bits carry the
/// variant; marker bits above them tag special pages.
type Vmtype_t int

const (
	VM_UNINIT Vmtype_t = 0 /// not yet materialized
	VM_ANON   Vmtype_t = 1 /// backed by swap
	VM_FILE   Vmtype_t = 2 /// backed by a file region

	// VM_MARKER_STACK tags pages created by stack growth.
	VM_MARKER_STACK Vmtype_t = 1 << 3

	vmtypemask Vmtype_t = 7
)

/// Base strips marker bits and returns the variant.
func (t Vmtype_t) Base() Vmtype_t {
	return t & vmtypemask
}

/// Isstack reports whether the stack marker is set.
func (t Vmtype_t) Isstack() bool {
	return t&VM_MARKER_STACK != 0
}

/// Initfunc_t is a lazy loader invoked the first time a page faults.
/// The page's frame is installed when it runs.
type Initfunc_t func(pg *Page_t, aux interface{}) bool

/// Pageops_i is the per-variant behavior of a page: populate a frame,
/// save the contents ahead of eviction, and tear down.
type Pageops_i interface {
	Swapin(pg *Page_t, kva *mem.Bytepg_t) bool
	Swapout(pg *Page_t) bool
	Destroy(pg *Page_t)
	Type() Vmtype_t
}

/// Page_t is the record for one user virtual page. It lives in
/// exactly one supplemental page table for its lifetime. The frame
/// link is non-owning and nil while the page is not resident.
type Page_t struct {
	va       uintptr
	writable bool
	frame    *Frame_t
	ops      Pageops_i
	as       *As_t
}

/// Va returns the page-aligned virtual address.
func (pg *Page_t) Va() uintptr {
	return pg.va
}

/// Writable reports whether the mapping allows stores.
func (pg *Page_t) Writable() bool {
	return pg.writable
}

/// Resident reports whether the page currently has a frame.
func (pg *Page_t) Resident() bool {
	return pg.frame != nil
}

/// Pagetype returns the variant the page has, or will have once
/// materialized.
func (pg *Page_t) Pagetype() Vmtype_t {
	if u, ok := pg.ops.(*Uninitpg_t); ok {
		return u.typ.Base()
	}
	return pg.ops.Type().Base()
}

/// Frame_t describes one physical frame holding a resident page.
/// Frames live on the global frame list while in use.
type Frame_t struct {
	pa   mem.Pa_t
	kva  *mem.Bytepg_t
	as   *As_t
	page *Page_t
	elem *list.Element
}

/// Kva returns the kernel mapping of the frame.
func (fr *Frame_t) Kva() *mem.Bytepg_t {
	return fr.kva
}

/// Vmsys_t is the process-global VM state: the physical pool, the
/// swap store, and the frame table. It is created once at boot and
/// passed explicitly.
type Vmsys_t struct {
	phys   *mem.Physmem_t
	swap   *Swap_t
	framel sync.Mutex
	frames *list.List
	fslock sync.Mutex
	log    zerolog.Logger
	Stats  stats.Vmstats_t
}

/// Mkvm initializes the VM subsystem over the given physical pool and
/// swap device.
func Mkvm(phys *mem.Physmem_t, swapdisk fs.Disk_i, log zerolog.Logger) *Vmsys_t {
	sys := &Vmsys_t{
		phys:   phys,
		swap:   mkswap(swapdisk),
		frames: list.New(),
		log:    log,
	}
	log.Info().Int("userframes", phys.Userfree()).
		Int("swapslots", sys.swap.nslots).Msg("vm initialized")
	return sys
}

/// Phys returns the physical pool.
func (sys *Vmsys_t) Phys() *mem.Physmem_t {
	return sys.phys
}

/// Swap returns the swap store.
func (sys *Vmsys_t) Swap() *Swap_t {
	return sys.swap
}

/// As_t is one process's side of the VM core: its page table and its
/// supplemental page table. The mutex serializes fault handling with
/// other address space mutations.
type As_t struct {
	sync.Mutex
	sys  *Vmsys_t
	pmap *mem.Ptable_t
	spt  *Spt_t
	// saved stack pointer, consulted for faults that arrive from
	// kernel context; the user-access helpers also pass it to the
	// fault handler as the faulting rsp
	Rsp uintptr

	pgfltaken bool
}

/// Lock_pmap acquires the address space mutex and marks that a page
/// fault is being handled.
func (as *As_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex after page table
/// manipulation is complete.
func (as *As_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *As_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

/// Mkas creates an empty address space.
func (sys *Vmsys_t) Mkas() *As_t {
	as := &As_t{sys: sys, pmap: mem.Mkptable(sys.phys)}
	as.spt = mkspt(as)
	return as
}

/// Pmap returns the address space's page table.
func (as *As_t) Pmap() *mem.Ptable_t {
	return as.pmap
}

/// Spt returns the supplemental page table.
func (as *As_t) Spt() *Spt_t {
	return as.spt
}

/// Destroy tears down the address space: every page is destroyed
/// (writing back modified file contents) and the page table is freed.
func (as *As_t) Destroy() {
	as.spt.Kill()
	as.pmap.Destroy()
}

// getframe returns a frame backed by a fresh user page, evicting one
// resident page if the pool is empty.
func (sys *Vmsys_t) getframe(as *As_t) *Frame_t {
	pa, ok := sys.phys.Palloc()
	if !ok {
		if !sys.evictframe() {
			return nil
		}
		pa, ok = sys.phys.Palloc()
		if !ok {
			return nil
		}
	}
	fr := &Frame_t{pa: pa, kva: sys.phys.Dmap(pa), as: as}
	sys.framel.Lock()
	fr.elem = sys.frames.PushBack(fr)
	sys.framel.Unlock()
	return fr
}

// getvictim walks the frame list clock-style: the first frame whose
// page has not been referenced since the last sweep is unlinked and
// chosen; referenced frames get their accessed bit cleared, a second
// chance. If every frame was referenced the head is taken.
func (sys *Vmsys_t) getvictim() *Frame_t {
	sys.framel.Lock()
	defer sys.framel.Unlock()

	var victim *Frame_t
	for el := sys.frames.Front(); el != nil; el = el.Next() {
		fr := el.Value.(*Frame_t)
		if fr.page == nil {
			// claim in progress; not evictable yet
			continue
		}
		if fr.as.pmap.Accessed(fr.page.va) {
			fr.as.pmap.Clearaccessed(fr.page.va)
		} else {
			victim = fr
			sys.frames.Remove(el)
			break
		}
	}
	if victim == nil {
		for el := sys.frames.Front(); el != nil; el = el.Next() {
			fr := el.Value.(*Frame_t)
			if fr.page != nil {
				victim = fr
				sys.frames.Remove(el)
				break
			}
		}
		if victim == nil {
			return nil
		}
	}
	victim.elem = nil
	return victim
}

// evictframe picks a victim and swaps it out. The victim's backend
// returns its physical page to the pool on success.
func (sys *Vmsys_t) evictframe() bool {
	victim := sys.getvictim()
	if victim == nil {
		return false
	}
	pg := victim.page
	sys.log.Debug().Uint64("va", uint64(pg.va)).
		Int("type", int(pg.ops.Type().Base())).Msg("evicting frame")
	if !pg.ops.Swapout(pg) {
		sys.framel.Lock()
		victim.elem = sys.frames.PushBack(victim)
		sys.framel.Unlock()
		return false
	}
	sys.Stats.Evictions.Inc()
	return true
}

// dropframe unlinks fr from the frame list, if linked, and returns
// its physical page to the pool.
func (sys *Vmsys_t) dropframe(fr *Frame_t) {
	sys.framel.Lock()
	if fr.elem != nil {
		sys.frames.Remove(fr.elem)
		fr.elem = nil
	}
	sys.framel.Unlock()
	sys.phys.Pfree(fr.pa)
	fr.page = nil
}

// relinquish clears the MMU mapping and gives up pg's frame. Backends
// call it on eviction (frame already unlinked) and on teardown
// (unlink is true).
func (pg *Page_t) relinquish(unlink bool) {
	fr := pg.frame
	if fr == nil {
		return
	}
	pg.as.pmap.Unmap(pg.va)
	if unlink {
		pg.as.sys.dropframe(fr)
	} else {
		pg.as.sys.phys.Pfree(fr.pa)
		fr.page = nil
	}
	pg.frame = nil
}

/// Alloc_page_with_initializer creates a pending page at upage that
/// will materialize as typ on first fault, running init with aux once
/// the frame is installed to populate it. It fails if upage is already
/// tracked.
func (as *As_t) Alloc_page_with_initializer(typ Vmtype_t, upage uintptr,
	writable bool, init Initfunc_t, aux interface{}) bool {
	if typ.Base() == VM_UNINIT {
		panic("allocating an uninitialized page")
	}
	upage = util.Rounddown(upage, uintptr(mem.PGSIZE))

	if as.spt.Find(upage) != nil {
		return false
	}
	var initializer func(*Page_t, Vmtype_t) bool
	switch typ.Base() {
	case VM_ANON:
		initializer = anoninit
	case VM_FILE:
		initializer = fileinit
	default:
		return false
	}
	pg := &Page_t{va: upage, writable: writable, as: as}
	pg.ops = mkuninit(typ, init, aux, initializer)
	return as.spt.Insert(pg)
}

/// Alloc_page is Alloc_page_with_initializer with no loader.
func (as *As_t) Alloc_page(typ Vmtype_t, upage uintptr, writable bool) bool {
	return as.Alloc_page_with_initializer(typ, upage, writable, nil, nil)
}

/// Claim_page materializes the page tracked at va.
func (as *As_t) Claim_page(va uintptr) bool {
	pg := as.spt.Find(va)
	if pg == nil {
		return false
	}
	return as.do_claim(pg)
}

/// Do_claim_page materializes pg directly.
func (as *As_t) Do_claim_page(pg *Page_t) bool {
	return as.do_claim(pg)
}

/// Dealloc_page destroys pg, releasing its frame or swap slot and
/// writing back modified file contents.
func (as *As_t) Dealloc_page(pg *Page_t) {
	pg.ops.Destroy(pg)
}

// do_claim obtains a frame, links it to pg, installs the mapping and
// dispatches the backend's swap-in to populate it.
func (as *As_t) do_claim(pg *Page_t) bool {
	if pg.frame != nil {
		// already resident; the mapping exists
		return false
	}
	fr := as.sys.getframe(as)
	if fr == nil {
		return false
	}
	fr.page = pg
	pg.frame = fr

	if !as.pmap.Map(pg.va, fr.pa, pg.writable) {
		pg.frame = nil
		as.sys.dropframe(fr)
		return false
	}
	if !pg.ops.Swapin(pg, fr.kva) {
		as.pmap.Unmap(pg.va)
		pg.frame = nil
		as.sys.dropframe(fr)
		return false
	}
	return true
}

/// Trapframe_t carries the interrupted context's user stack pointer
/// into the fault handler.
type Trapframe_t struct {
	Rsp uintptr
}

/// Try_handle_fault resolves a not-present fault at addr. A hit in
/// the supplemental page table claims the page; a miss within the
/// stack heuristic grows the stack. Anything else is a bad address.
func (as *As_t) Try_handle_fault(tf *Trapframe_t, addr uintptr,
	user, write, notpresent bool) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.try_handle_fault(tf, addr, user, write, notpresent)
}

func (as *As_t) try_handle_fault(tf *Trapframe_t, addr uintptr,
	user, write, notpresent bool) bool {
	as.Lockassert_pmap()
	if !notpresent {
		return false
	}
	if pg := as.spt.Find(addr); pg != nil {
		if !as.do_claim(pg) {
			return false
		}
		as.sys.Stats.Faults.Inc()
		return true
	}
	var rsp uintptr
	if user && tf != nil {
		rsp = tf.Rsp
	} else {
		rsp = as.Rsp
	}
	// a push may fault up to 8 bytes below rsp
	if addr+8 >= rsp && addr < mem.USER_STACK &&
		addr >= mem.USER_STACK-mem.MAXSTACK {
		return as.stack_growth(util.Rounddown(addr, uintptr(mem.PGSIZE)))
	}
	return false
}

// stack_growth eagerly claims one writable anonymous page so the
// faulting access succeeds on retry.
func (as *As_t) stack_growth(addr uintptr) bool {
	if !as.Alloc_page(VM_ANON|VM_MARKER_STACK, addr, true) {
		return false
	}
	if !as.Claim_page(addr) {
		return false
	}
	as.sys.Stats.Stackgrow.Inc()
	return true
}

/// Spt_copy clones src's supplemental page table into dst for fork.
/// Pending pages are re-created with their loader; materialized pages
/// are claimed in the child and their contents copied, since a
/// materialized page has no loader left to re-run.
func Spt_copy(dst, src *As_t) bool {
	ok := true
	// the child gets its own reference on each mapped file, one per
	// parent handle so a region's pages keep sharing one handle and
	// unmap's single close stays balanced
	reopened := map[fs.File_i]fs.File_i{}
	src.spt.pages.Iter(func(_ uintptr, pg *Page_t) bool {
		if !copypage(dst, src, pg, reopened) {
			ok = false
			return true
		}
		return false
	})
	return ok
}

func reopenshared(cache map[fs.File_i]fs.File_i, f fs.File_i) fs.File_i {
	if f == nil {
		return nil
	}
	if r, ok := cache[f]; ok {
		return r
	}
	r := f.Reopen()
	cache[f] = r
	return r
}

func copypage(dst, src *As_t, pg *Page_t, reopened map[fs.File_i]fs.File_i) bool {
	switch ops := pg.ops.(type) {
	case *Uninitpg_t:
		aux := ops.aux
		if fa, isfile := aux.(*Fileaux_t); isfile {
			dup := *fa
			dup.File = reopenshared(reopened, fa.File)
			aux = &dup
		}
		return dst.Alloc_page_with_initializer(ops.typ, pg.va,
			pg.writable, ops.init, aux)
	case *Anonpg_t, *Filepg_t:
		// a swapped-out page has to come back before its
		// contents can be copied
		if pg.frame == nil && !src.do_claim(pg) {
			return false
		}
		buf := *pg.frame.kva
		if !dst.Alloc_page(pg.ops.Type(), pg.va, pg.writable) {
			return false
		}
		if !dst.Claim_page(pg.va) {
			return false
		}
		child := dst.spt.Find(pg.va)
		*child.frame.kva = buf
		if fp, isfile := pg.ops.(*Filepg_t); isfile {
			cp := child.ops.(*Filepg_t)
			*cp = *fp
			cp.file = reopenshared(reopened, fp.file)
		}
		return true
	default:
		panic("unknown page variant")
	}
}
