// Package mem manages physical memory and page tables for the VM core.
package mem

import "sync"
import "unsafe"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_A is set when the page has been accessed.
const PTE_A Pa_t = 1 << 5

/// PTE_D is set when the page has been written.
const PTE_D Pa_t = 1 << 6

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// USERMIN is the lowest user virtual address.
const USERMIN uintptr = 0x8000

/// USER_STACK is the top of the user stack; the stack grows down
/// from here.
const USER_STACK uintptr = 0x7ffffffff000

/// MAXSTACK bounds how far the user stack may grow below USER_STACK.
const MAXSTACK uintptr = 1 << 20

/// Pa_t represents a physical address.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pmap_t is a page table page of 512 entries.
type Pmap_t [512]Pa_t

/// Pg2pmap reinterprets a page of bytes as a page table page.
func Pg2pmap(pg *Bytepg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

type physpg_t struct {
	// index into pgs of next page on free list
	nexti uint32
}

const nilidx uint32 = ^uint32(0)

/// Physmem_t manages all physical memory for the system. Frames
/// handed to user mappings come from a bounded user pool; page table
/// pages come from the remainder. Exhaustion of the user pool is the
/// eviction trigger.
type Physmem_t struct {
	sync.Mutex
	pgs     []physpg_t
	pages   []Bytepg_t
	freei   uint32
	freelen int32
	userlim int32
	usercnt int32
}

/// Mkphys creates a Physmem_t with userpages frames available for
/// user mappings and kernpages frames reserved for page tables.
func Mkphys(userpages, kernpages int) *Physmem_t {
	if userpages <= 0 || kernpages <= 0 {
		panic("bad physmem geometry")
	}
	total := userpages + kernpages
	phys := &Physmem_t{
		pgs:     make([]physpg_t, total),
		pages:   make([]Bytepg_t, total),
		userlim: int32(userpages),
	}
	phys.freei = nilidx
	for i := total - 1; i >= 0; i-- {
		phys.pgs[i].nexti = phys.freei
		phys.freei = uint32(i)
		phys.freelen++
	}
	return phys
}

func (phys *Physmem_t) pop() (Pa_t, bool) {
	if phys.freei == nilidx {
		return 0, false
	}
	idx := phys.freei
	phys.freei = phys.pgs[idx].nexti
	phys.freelen--
	phys.pages[idx] = Bytepg_t{}
	return Pa_t(idx) << PGSHIFT, true
}

func (phys *Physmem_t) push(pa Pa_t) {
	idx := uint32(pa >> PGSHIFT)
	if int(idx) >= len(phys.pgs) {
		panic("free of bad pa")
	}
	phys.pgs[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
}

/// Palloc allocates a zeroed frame from the user pool. It fails when
/// the pool is exhausted, which is the caller's cue to evict.
func (phys *Physmem_t) Palloc() (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()
	if phys.usercnt >= phys.userlim {
		return 0, false
	}
	pa, ok := phys.pop()
	if !ok {
		return 0, false
	}
	phys.usercnt++
	return pa, true
}

/// Pfree returns a user frame to the pool.
func (phys *Physmem_t) Pfree(pa Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	phys.push(pa)
	phys.usercnt--
}

/// Kalloc allocates a zeroed frame for a page table page. Unlike
/// Palloc it is not bounded by the user pool limit.
func (phys *Physmem_t) Kalloc() (Pa_t, bool) {
	phys.Lock()
	defer phys.Unlock()
	return phys.pop()
}

/// Kfree returns a page table frame to the pool.
func (phys *Physmem_t) Kfree(pa Pa_t) {
	phys.Lock()
	defer phys.Unlock()
	phys.push(pa)
}

/// Dmap returns the kernel mapping of the frame at pa.
func (phys *Physmem_t) Dmap(pa Pa_t) *Bytepg_t {
	idx := pa >> PGSHIFT
	if int(idx) >= len(phys.pages) {
		panic("dmap of bad pa")
	}
	return &phys.pages[idx]
}

/// Userfree reports how many frames remain in the user pool.
func (phys *Physmem_t) Userfree() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.userlim - phys.usercnt)
}
