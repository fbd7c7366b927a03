package vm

import "sync"

import "github.com/bits-and-blooms/bitset"

import "vmkern/fs"
import "vmkern/mem"

/// Sectorsperpage is the number of disk sectors holding one page.
const Sectorsperpage = mem.PGSIZE / fs.SECTOR_SIZE

/// Swap_t is the anonymous swap store: a pool of page-sized slots on
/// a block device, allocated by a bitmap. The mutex protects the
/// bitmap only; slot I/O happens outside it.
type Swap_t struct {
	sync.Mutex
	disk   fs.Disk_i
	slots  *bitset.BitSet
	nslots int
}

func mkswap(d fs.Disk_i) *Swap_t {
	n := d.Size() / Sectorsperpage
	if n == 0 {
		panic("swap disk smaller than a page")
	}
	return &Swap_t{disk: d, slots: bitset.New(uint(n)), nslots: n}
}

// allocslot scans for the first free slot and claims it.
func (sw *Swap_t) allocslot() (int, bool) {
	sw.Lock()
	defer sw.Unlock()
	idx, ok := sw.slots.NextClear(0)
	if !ok || int(idx) >= sw.nslots {
		return 0, false
	}
	sw.slots.Set(idx)
	return int(idx), true
}

func (sw *Swap_t) freeslot(slot int) {
	sw.Lock()
	defer sw.Unlock()
	sw.slots.Clear(uint(slot))
}

func (sw *Swap_t) readslot(slot int, kva *mem.Bytepg_t) {
	for i := 0; i < Sectorsperpage; i++ {
		off := i * fs.SECTOR_SIZE
		sw.disk.Read(slot*Sectorsperpage+i, kva[off:off+fs.SECTOR_SIZE])
	}
}

func (sw *Swap_t) writeslot(slot int, kva *mem.Bytepg_t) {
	for i := 0; i < Sectorsperpage; i++ {
		off := i * fs.SECTOR_SIZE
		sw.disk.Write(slot*Sectorsperpage+i, kva[off:off+fs.SECTOR_SIZE])
	}
}

/// Slots returns the slot count.
func (sw *Swap_t) Slots() int {
	return sw.nslots
}

/// Slotsused returns the number of occupied slots.
func (sw *Swap_t) Slotsused() int {
	sw.Lock()
	defer sw.Unlock()
	return int(sw.slots.Count())
}

/// Slotset reports whether slot is occupied.
func (sw *Swap_t) Slotset(slot int) bool {
	sw.Lock()
	defer sw.Unlock()
	return sw.slots.Test(uint(slot))
}

const noslot = -1

/// Anonpg_t is the anonymous variant. The slot index is valid only
/// while the page is not resident; a resident anonymous page holds no
/// swap slot.
type Anonpg_t struct {
	typ  Vmtype_t
	slot int
}

func anoninit(pg *Page_t, typ Vmtype_t) bool {
	pg.ops = &Anonpg_t{typ: typ, slot: noslot}
	return true
}

/// Slot returns the occupied swap slot, or -1 while resident.
func (ap *Anonpg_t) Slot() int {
	return ap.slot
}

/// Swapin restores the page from its swap slot and releases the slot.
/// A page that was never evicted keeps its zero-filled frame.
func (ap *Anonpg_t) Swapin(pg *Page_t, kva *mem.Bytepg_t) bool {
	if ap.slot == noslot {
		return true
	}
	sys := pg.as.sys
	sys.swap.readslot(ap.slot, kva)
	sys.swap.freeslot(ap.slot)
	ap.slot = noslot
	sys.Stats.Swapins.Inc()
	return true
}

/// Swapout writes the page to a fresh swap slot, then clears the
/// mapping and gives the physical page back. Swap exhaustion is
/// fatal; this kernel does not oversubscribe.
func (ap *Anonpg_t) Swapout(pg *Page_t) bool {
	sys := pg.as.sys
	slot, ok := sys.swap.allocslot()
	if !ok {
		panic("out of swap slots")
	}
	sys.swap.writeslot(slot, pg.frame.kva)
	ap.slot = slot
	pg.relinquish(false)
	sys.Stats.Swapouts.Inc()
	return true
}

/// Destroy releases whichever side the page occupies: its frame if
/// resident, its swap slot otherwise.
func (ap *Anonpg_t) Destroy(pg *Page_t) {
	if pg.frame != nil {
		pg.relinquish(true)
	} else if ap.slot != noslot {
		pg.as.sys.swap.freeslot(ap.slot)
		ap.slot = noslot
	}
}

/// Type returns VM_ANON plus any marker bits.
func (ap *Anonpg_t) Type() Vmtype_t {
	return ap.typ
}
