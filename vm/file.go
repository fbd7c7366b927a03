package vm

import "vmkern/fs"
import "vmkern/mem"
import "vmkern/util"

/// Fileaux_t is the loader argument for a file-backed page: which
/// region of which file materializes it. Cnt is the length of the
/// whole mapped region in pages and is recorded in every page of the
/// region; unmap consults the first page's.
type Fileaux_t struct {
	Cnt       int
	File      fs.File_i
	Ofs       int
	Readbytes int
	Zerobytes int
}

/// Filepg_t is the file-backed variant.
type Filepg_t struct {
	file      fs.File_i
	ofs       int
	readbytes int
	zerobytes int
	cnt       int
}

func fileinit(pg *Page_t, typ Vmtype_t) bool {
	pg.ops = &Filepg_t{}
	return true
}

/// Ofs returns the file offset backing this page.
func (fp *Filepg_t) Ofs() int {
	return fp.ofs
}

/// Readbytes returns how many bytes of the page come from the file.
func (fp *Filepg_t) Readbytes() int {
	return fp.readbytes
}

/// Lazyload populates a file-backed page from its Fileaux_t the first
/// time it faults. Segment loading uses the same path.
func Lazyload(pg *Page_t, aux interface{}) bool {
	fa, ok := aux.(*Fileaux_t)
	if !ok || fa == nil {
		return false
	}
	fp, ok := pg.ops.(*Filepg_t)
	if !ok {
		return false
	}
	fp.file = fa.File
	fp.ofs = fa.Ofs
	fp.readbytes = fa.Readbytes
	fp.zerobytes = fa.Zerobytes
	fp.cnt = fa.Cnt
	return fp.readpage(pg, pg.frame.kva)
}

// readpage fills kva from the file and zeroes the tail. The file
// path is serialized by the system file lock.
func (fp *Filepg_t) readpage(pg *Page_t, kva *mem.Bytepg_t) bool {
	sys := pg.as.sys
	sys.fslock.Lock()
	n, err := fp.file.Readat(kva[:fp.readbytes], fp.ofs)
	sys.fslock.Unlock()
	if err != nil {
		sys.log.Debug().Err(err).Uint64("va", uint64(pg.va)).
			Msg("file page read failed")
		return false
	}
	for i := n; i < mem.PGSIZE; i++ {
		kva[i] = 0
	}
	sys.Stats.Filereads.Inc()
	return true
}

// writeback flushes the page to its file region if the MMU saw a
// store since it became resident, then clears the dirty bit.
func (fp *Filepg_t) writeback(pg *Page_t) {
	if fp.file == nil || pg.frame == nil {
		return
	}
	as := pg.as
	if !as.pmap.Dirty(pg.va) {
		return
	}
	sys := as.sys
	sys.fslock.Lock()
	_, err := fp.file.Writeat(pg.frame.kva[:fp.readbytes], fp.ofs)
	sys.fslock.Unlock()
	if err != nil {
		sys.log.Warn().Err(err).Uint64("va", uint64(pg.va)).
			Msg("file page writeback failed")
	}
	as.pmap.Cleardirty(pg.va)
	sys.Stats.Writebacks.Inc()
}

/// Swapin re-reads the page's file region into the frame.
func (fp *Filepg_t) Swapin(pg *Page_t, kva *mem.Bytepg_t) bool {
	return fp.readpage(pg, kva)
}

/// Swapout writes back a dirty page, then clears the mapping and
/// gives up the frame.
func (fp *Filepg_t) Swapout(pg *Page_t) bool {
	fp.writeback(pg)
	pg.relinquish(false)
	return true
}

/// Destroy writes back a dirty page and releases the frame if the
/// page is still resident.
func (fp *Filepg_t) Destroy(pg *Page_t) {
	fp.writeback(pg)
	if pg.frame != nil {
		pg.relinquish(true)
	}
}

/// Type returns VM_FILE.
func (fp *Filepg_t) Type() Vmtype_t {
	return VM_FILE
}

/// Do_mmap maps length bytes of f starting at offset into the address
/// space at addr, lazily. It returns addr, or zero when the request
/// is malformed or overlaps an existing page.
func (as *As_t) Do_mmap(addr uintptr, length int, writable bool,
	f fs.File_i, offset int) uintptr {
	if f == nil || length <= 0 {
		return 0
	}
	if addr == 0 || addr%uintptr(mem.PGSIZE) != 0 {
		return 0
	}
	if offset < 0 || offset%mem.PGSIZE != 0 {
		return 0
	}
	n := (length + mem.PGSIZE - 1) / mem.PGSIZE
	for i := 0; i < n; i++ {
		if as.spt.Find(addr+uintptr(i*mem.PGSIZE)) != nil {
			return 0
		}
	}

	rf := f.Reopen()
	va := addr
	ofs := offset
	rem := length
	for i := 0; i < n; i++ {
		readbytes := util.Min(rem, mem.PGSIZE)
		aux := &Fileaux_t{
			Cnt:       n,
			File:      rf,
			Ofs:       ofs,
			Readbytes: readbytes,
			Zerobytes: mem.PGSIZE - readbytes,
		}
		if !as.Alloc_page_with_initializer(VM_FILE, va, writable,
			Lazyload, aux) {
			// undo the pages this call created
			for j := 0; j < i; j++ {
				pg := as.spt.Find(addr + uintptr(j*mem.PGSIZE))
				if pg != nil {
					as.spt.Remove(pg)
				}
			}
			rf.Close()
			return 0
		}
		rem -= readbytes
		ofs += readbytes
		va += uintptr(mem.PGSIZE)
	}
	as.sys.Stats.Mmaps.Inc()
	as.sys.log.Debug().Uint64("addr", uint64(addr)).Int("pages", n).
		Msg("mmap")
	return addr
}

/// Do_munmap unmaps the region starting at addr. Modified pages are
/// written back to the file as each page is destroyed.
func (as *As_t) Do_munmap(addr uintptr) {
	pg := as.spt.Find(addr)
	if pg == nil {
		return
	}
	var cnt int
	var rf fs.File_i
	switch ops := pg.ops.(type) {
	case *Filepg_t:
		cnt = ops.cnt
		rf = ops.file
	case *Uninitpg_t:
		fa, ok := ops.aux.(*Fileaux_t)
		if !ok {
			return
		}
		cnt = fa.Cnt
		rf = fa.File
	default:
		return
	}
	for i := 0; i < cnt; i++ {
		p := as.spt.Find(addr + uintptr(i*mem.PGSIZE))
		if p == nil {
			continue
		}
		as.spt.Remove(p)
	}
	if rf != nil {
		rf.Close()
	}
	as.sys.Stats.Munmaps.Inc()
}
