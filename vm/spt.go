package vm

import "vmkern/hashtable"
import "vmkern/mem"
import "vmkern/util"

/// Spt_t is the supplemental page table: the per-process index from
/// page-aligned virtual address to page record. It owns its pages.
type Spt_t struct {
	as    *As_t
	pages *hashtable.Hashtable_t[*Page_t]
}

const sptbuckets = 512

func mkspt(as *As_t) *Spt_t {
	return &Spt_t{as: as, pages: hashtable.MkHash[*Page_t](sptbuckets)}
}

/// Find returns the page tracking va, or nil. va need not be
/// aligned.
func (spt *Spt_t) Find(va uintptr) *Page_t {
	va = util.Rounddown(va, uintptr(mem.PGSIZE))
	pg, ok := spt.pages.Get(va)
	if !ok {
		return nil
	}
	return pg
}

/// Insert adds pg to the table. It fails if a page with the same
/// address is already tracked.
func (spt *Spt_t) Insert(pg *Page_t) bool {
	_, ok := spt.pages.Set(pg.va, pg)
	return ok
}

/// Remove detaches pg and destroys it, writing back modified file
/// contents and releasing its frame or swap slot.
func (spt *Spt_t) Remove(pg *Page_t) {
	spt.pages.Del(pg.va)
	spt.as.Dealloc_page(pg)
}

/// Size returns the number of tracked pages.
func (spt *Spt_t) Size() int {
	return spt.pages.Size()
}

/// Iter calls f on every tracked page until f returns true.
func (spt *Spt_t) Iter(f func(*Page_t) bool) {
	spt.pages.Iter(func(_ uintptr, pg *Page_t) bool {
		return f(pg)
	})
}

/// Kill destroys every page in the table. Modified file-backed pages
/// write back during their destroy.
func (spt *Spt_t) Kill() {
	var all []*Page_t
	spt.pages.Iter(func(_ uintptr, pg *Page_t) bool {
		all = append(all, pg)
		return false
	})
	for _, pg := range all {
		spt.pages.Del(pg.va)
		pg.ops.Destroy(pg)
	}
}
