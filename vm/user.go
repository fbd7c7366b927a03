package vm

// User memory access. These helpers stand where hardware would: they
// walk the page table, re-enter the fault handler on a miss, and set
// the accessed and dirty bits the MMU would set. They are also the
// kernel's copy-in/copy-out path.

import "vmkern/defs"
import "vmkern/mem"
import "vmkern/util"

// userdmap returns a slice over user memory from va to the end of its
// page, faulting the page in if needed. Stores through read-only
// mappings are refused.
func (as *As_t) userdmap(va uintptr, write bool) ([]uint8, defs.Err_t) {
	if va < mem.USERMIN {
		return nil, -defs.EFAULT
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()

	voff := int(va) & (mem.PGSIZE - 1)
	pte, ok := as.pmap.Pte(va)
	if !ok || pte&mem.PTE_P == 0 {
		tf := &Trapframe_t{Rsp: as.Rsp}
		if !as.try_handle_fault(tf, va, true, write, true) {
			return nil, -defs.EFAULT
		}
		pte, ok = as.pmap.Pte(va)
		if !ok || pte&mem.PTE_P == 0 {
			return nil, -defs.EFAULT
		}
	}
	if write && pte&mem.PTE_W == 0 {
		return nil, -defs.EFAULT
	}
	as.pmap.Setaccessed(va)
	if write {
		as.pmap.Setdirty(va)
	}
	kva := as.sys.phys.Dmap(pte & mem.PTE_ADDR)
	return kva[voff:], 0
}

/// K2user copies src into user memory starting at uva.
func (as *As_t) K2user(src []uint8, uva uintptr) defs.Err_t {
	cnt := 0
	for cnt != len(src) {
		dst, err := as.userdmap(uva+uintptr(cnt), true)
		if err != 0 {
			return err
		}
		did := copy(dst, src[cnt:])
		cnt += did
	}
	return 0
}

/// User2k copies len(dst) bytes of user memory at uva into dst.
func (as *As_t) User2k(dst []uint8, uva uintptr) defs.Err_t {
	cnt := 0
	for cnt != len(dst) {
		src, err := as.userdmap(uva+uintptr(cnt), false)
		if err != 0 {
			return err
		}
		did := copy(dst[cnt:], src)
		cnt += did
	}
	return 0
}

/// Userreadn reads an n-byte little-endian value at uva, chunking
/// across page boundaries.
func (as *As_t) Userreadn(uva uintptr, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.userdmap(uva+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		l := util.Min(n-i, len(src))
		src = src[:l]
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

/// Userwriten writes val as an n-byte little-endian value at uva.
func (as *As_t) Userwriten(uva uintptr, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		t, err := as.userdmap(uva+uintptr(i), true)
		if err != 0 {
			return err
		}
		l := util.Min(n-i, len(t))
		dst = t[:l]
		util.Writen(dst, l, 0, val>>(8*uint(i)))
	}
	return 0
}
