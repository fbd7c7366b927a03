package vm

import "vmkern/mem"

/// Uninitpg_t is the pending variant: a page whose contents have not
/// been materialized. The first fault runs the real initializer for
/// the requested type, then the user-supplied loader.
type Uninitpg_t struct {
	typ         Vmtype_t
	init        Initfunc_t
	aux         interface{}
	initializer func(*Page_t, Vmtype_t) bool
}

func mkuninit(typ Vmtype_t, init Initfunc_t, aux interface{},
	initializer func(*Page_t, Vmtype_t) bool) *Uninitpg_t {
	return &Uninitpg_t{typ: typ, init: init, aux: aux, initializer: initializer}
}

/// Swapin materializes the page: the variant initializer replaces the
/// page's ops, then the loader populates the frame. Later faults
/// dispatch to the real variant.
func (u *Uninitpg_t) Swapin(pg *Page_t, kva *mem.Bytepg_t) bool {
	if !u.initializer(pg, u.typ) {
		return false
	}
	if u.init != nil {
		return u.init(pg, u.aux)
	}
	return true
}

/// Swapout of a pending page cannot happen: it has no frame to lose.
func (u *Uninitpg_t) Swapout(pg *Page_t) bool {
	panic("swap out of pending page")
}

/// Destroy has nothing to release; the aux is garbage collected.
func (u *Uninitpg_t) Destroy(pg *Page_t) {
}

/// Type reports VM_UNINIT; the eventual type is in Pagetype.
func (u *Uninitpg_t) Type() Vmtype_t {
	return VM_UNINIT
}

/// Aux returns the loader argument.
func (u *Uninitpg_t) Aux() interface{} {
	return u.aux
}
