package mem

// The page table is a 4-level radix trie of Pmap_t pages allocated
// from the physical pool, walked the same way the hardware would.

func pmlx(va uintptr, level uint) int {
	return int(va>>(PGSHIFT+9*level)) & 0x1ff
}

/// Ptable_t is a per-process page table rooted at a Pmap_t page. It
/// provides the MMU primitives the VM core relies on: install a
/// mapping, clear one, translate, and query or update the accessed
/// and dirty bits.
type Ptable_t struct {
	phys *Physmem_t
	root Pa_t
}

/// Mkptable allocates an empty page table.
func Mkptable(phys *Physmem_t) *Ptable_t {
	pa, ok := phys.Kalloc()
	if !ok {
		panic("no mem for pml4")
	}
	return &Ptable_t{phys: phys, root: pa}
}

// walk returns a pointer to the leaf PTE for va, allocating interior
// pages when create is set. Returns nil when the walk dead-ends.
func (pt *Ptable_t) walk(va uintptr, create bool) *Pa_t {
	next := pt.root
	for level := uint(3); level > 0; level-- {
		pmap := Pg2pmap(pt.phys.Dmap(next))
		pte := &pmap[pmlx(va, level)]
		if *pte&PTE_P == 0 {
			if !create {
				return nil
			}
			pa, ok := pt.phys.Kalloc()
			if !ok {
				return nil
			}
			*pte = pa | PTE_P | PTE_W | PTE_U
		}
		next = *pte & PTE_ADDR
	}
	pmap := Pg2pmap(pt.phys.Dmap(next))
	return &pmap[pmlx(va, 0)]
}

/// Map installs va -> pa with the given writability. It fails if a
/// mapping is already present or an interior page cannot be
/// allocated.
func (pt *Ptable_t) Map(va uintptr, pa Pa_t, writable bool) bool {
	pte := pt.walk(va, true)
	if pte == nil || *pte&PTE_P != 0 {
		return false
	}
	flags := PTE_P | PTE_U
	if writable {
		flags |= PTE_W
	}
	*pte = pa | flags
	return true
}

/// Unmap removes the mapping for va. It is idempotent.
func (pt *Ptable_t) Unmap(va uintptr) {
	if pte := pt.walk(va, false); pte != nil {
		*pte = 0
	}
}

/// Translate returns the frame mapped at va, if any.
func (pt *Ptable_t) Translate(va uintptr) (Pa_t, bool) {
	pte := pt.walk(va, false)
	if pte == nil || *pte&PTE_P == 0 {
		return 0, false
	}
	return *pte & PTE_ADDR, true
}

/// Pte returns the raw PTE value for va.
func (pt *Ptable_t) Pte(va uintptr) (Pa_t, bool) {
	pte := pt.walk(va, false)
	if pte == nil {
		return 0, false
	}
	return *pte, true
}

func (pt *Ptable_t) setbit(va uintptr, bit Pa_t, on bool) {
	pte := pt.walk(va, false)
	if pte == nil || *pte&PTE_P == 0 {
		return
	}
	if on {
		*pte |= bit
	} else {
		*pte &^= bit
	}
}

func (pt *Ptable_t) getbit(va uintptr, bit Pa_t) bool {
	pte := pt.walk(va, false)
	return pte != nil && *pte&PTE_P != 0 && *pte&bit != 0
}

/// Accessed reports whether va has been referenced since the bit was
/// last cleared.
func (pt *Ptable_t) Accessed(va uintptr) bool {
	return pt.getbit(va, PTE_A)
}

/// Clearaccessed clears the accessed bit for va.
func (pt *Ptable_t) Clearaccessed(va uintptr) {
	pt.setbit(va, PTE_A, false)
}

/// Setaccessed marks va referenced. The access simulation layer calls
/// this where hardware would set the bit itself.
func (pt *Ptable_t) Setaccessed(va uintptr) {
	pt.setbit(va, PTE_A, true)
}

/// Dirty reports whether va has been written since the bit was last
/// cleared.
func (pt *Ptable_t) Dirty(va uintptr) bool {
	return pt.getbit(va, PTE_D)
}

/// Cleardirty clears the dirty bit for va.
func (pt *Ptable_t) Cleardirty(va uintptr) {
	pt.setbit(va, PTE_D, false)
}

/// Setdirty marks va written.
func (pt *Ptable_t) Setdirty(va uintptr) {
	pt.setbit(va, PTE_D, true)
}

func (pt *Ptable_t) freelevel(pa Pa_t, level uint) {
	if level > 0 {
		pmap := Pg2pmap(pt.phys.Dmap(pa))
		for _, pte := range pmap {
			if pte&PTE_P != 0 {
				pt.freelevel(pte&PTE_ADDR, level-1)
			}
		}
	}
	pt.phys.Kfree(pa)
}

/// Destroy frees every interior page of the table. Leaf frames are
/// owned by the VM core and must already be unmapped.
func (pt *Ptable_t) Destroy() {
	pmap := Pg2pmap(pt.phys.Dmap(pt.root))
	for _, pte := range pmap {
		if pte&PTE_P != 0 {
			pt.freelevel(pte&PTE_ADDR, 2)
		}
	}
	pt.phys.Kfree(pt.root)
	pt.root = 0
}
