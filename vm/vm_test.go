package vm

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vmkern/defs"
	"vmkern/fs"
	"vmkern/mem"
)

const testbase = uintptr(0x400000)

func mksys(t *testing.T, userpages int) *Vmsys_t {
	t.Helper()
	phys := mem.Mkphys(userpages, 256)
	swap := fs.Mkram(64 * Sectorsperpage)
	return Mkvm(phys, swap, zerolog.Nop())
}

func pgva(i int) uintptr {
	return testbase + uintptr(i*mem.PGSIZE)
}

func TestLazyAnon(t *testing.T) {
	sys := mksys(t, 8)
	as := sys.Mkas()

	require.True(t, as.Alloc_page(VM_ANON, testbase, true))

	// nothing materialized yet
	pg := as.Spt().Find(testbase)
	require.NotNil(t, pg)
	require.False(t, pg.Resident())
	require.Equal(t, VM_ANON, pg.Pagetype())
	require.Equal(t, 8, sys.Phys().Userfree())

	// first touch materializes a zeroed frame
	v, err := as.Userreadn(testbase, 8)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 0, v)
	require.True(t, pg.Resident())
	require.Equal(t, 7, sys.Phys().Userfree())
}

func TestAllocRejectsDuplicate(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	require.True(t, as.Alloc_page(VM_ANON, testbase, true))
	require.False(t, as.Alloc_page(VM_ANON, testbase, false))
	// unaligned address refers to the same page
	require.False(t, as.Alloc_page(VM_ANON, testbase+123, true))
}

func TestClaimTwiceFails(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	require.True(t, as.Alloc_page(VM_ANON, testbase, true))
	require.True(t, as.Claim_page(testbase))
	// the mapping already exists
	require.False(t, as.Claim_page(testbase))
}

func TestEvictAndRestore(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	// twice as many pages as frames, each holding its index
	n := 8
	for i := 0; i < n; i++ {
		require.True(t, as.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), as.Userwriten(pgva(i), 1, i+1))
	}
	require.Positive(t, sys.Stats.Evictions.Load())
	require.Positive(t, sys.Stats.Swapouts.Load())

	for i := 0; i < n; i++ {
		v, err := as.Userreadn(pgva(i), 1)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, i+1, v, "page %d content lost", i)
	}
	require.Positive(t, sys.Stats.Swapins.Load())
}

func TestSwapSlotExclusive(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	n := 10
	for i := 0; i < n; i++ {
		require.True(t, as.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), as.Userwriten(pgva(i), 1, i))
	}

	// every non-resident anon page holds exactly one occupied slot,
	// and no two pages share one
	slots := map[int]bool{}
	nonres := 0
	as.Spt().Iter(func(pg *Page_t) bool {
		if pg.Resident() {
			return false
		}
		nonres++
		ap := pg.ops.(*Anonpg_t)
		require.NotEqual(t, noslot, ap.Slot())
		require.True(t, sys.Swap().Slotset(ap.Slot()))
		require.False(t, slots[ap.Slot()], "slot %d shared", ap.Slot())
		slots[ap.Slot()] = true
		return false
	})
	require.Equal(t, n-4, nonres)
	require.Equal(t, nonres, sys.Swap().Slotsused())
}

func TestResidentInvariant(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	for i := 0; i < 6; i++ {
		require.True(t, as.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), as.Userwriten(pgva(i), 1, i))
	}
	as.Spt().Iter(func(pg *Page_t) bool {
		if !pg.Resident() {
			return false
		}
		pa, ok := as.Pmap().Translate(pg.Va())
		require.True(t, ok)
		require.Equal(t, pg.frame.pa, pa)
		require.Equal(t, pg, pg.frame.page)
		return false
	})
}

func TestStackGrowth(t *testing.T) {
	sys := mksys(t, 8)
	as := sys.Mkas()

	rsp := mem.USER_STACK
	tf := &Trapframe_t{Rsp: rsp}

	// a push just below rsp grows the stack
	require.True(t, as.Try_handle_fault(tf, rsp-8, true, true, true))
	pg := as.Spt().Find(mem.USER_STACK - uintptr(mem.PGSIZE))
	require.NotNil(t, pg)
	require.True(t, pg.Resident())
	require.True(t, pg.ops.Type().Isstack())
	require.Equal(t, int64(1), sys.Stats.Stackgrow.Load())

	// the retried store succeeds and the page reads back
	as.Rsp = rsp
	require.Equal(t, defs.Err_t(0), as.Userwriten(rsp-8, 8, 0x55aa))
	v, err := as.Userreadn(rsp-8, 8)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 0x55aa, v)
}

func TestStackGrowthBounds(t *testing.T) {
	sys := mksys(t, 8)
	as := sys.Mkas()
	rsp := mem.USER_STACK
	tf := &Trapframe_t{Rsp: rsp}

	// too far below rsp
	require.False(t, as.Try_handle_fault(tf, rsp-64, true, true, true))
	// at or above the stack top
	require.False(t, as.Try_handle_fault(tf, mem.USER_STACK, true, true, true))
	// below the 1 MiB limit
	low := mem.USER_STACK - mem.MAXSTACK - uintptr(mem.PGSIZE)
	tf2 := &Trapframe_t{Rsp: low}
	require.False(t, as.Try_handle_fault(tf2, low, true, true, true))
	// exactly at the limit, with rsp there too
	tf3 := &Trapframe_t{Rsp: mem.USER_STACK - mem.MAXSTACK}
	require.True(t, as.Try_handle_fault(tf3, mem.USER_STACK-mem.MAXSTACK,
		true, true, true))
}

func TestBadFault(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()
	tf := &Trapframe_t{Rsp: mem.USER_STACK}

	require.False(t, as.Try_handle_fault(tf, 0x1000, true, false, true))
	// present faults are not ours
	require.False(t, as.Try_handle_fault(tf, 0x1000, true, true, false))
	// and the access layer reports EFAULT
	_, err := as.Userreadn(0x9000, 1)
	require.Equal(t, -defs.EFAULT, err)
}

func TestReadonlyStore(t *testing.T) {
	sys := mksys(t, 4)
	as := sys.Mkas()

	require.True(t, as.Alloc_page(VM_ANON, testbase, false))
	_, err := as.Userreadn(testbase, 1)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, -defs.EFAULT, as.Userwriten(testbase, 1, 1))
}

func TestForkIsolation(t *testing.T) {
	sys := mksys(t, 8)
	parent := sys.Mkas()

	require.True(t, parent.Alloc_page(VM_ANON, testbase, true))
	require.Equal(t, defs.Err_t(0), parent.Userwriten(testbase, 1, 0xcd))
	// an untouched page forks as pending
	require.True(t, parent.Alloc_page(VM_ANON, pgva(1), true))

	child := sys.Mkas()
	require.True(t, Spt_copy(child, parent))

	cpg := child.Spt().Find(pgva(1))
	require.NotNil(t, cpg)
	require.False(t, cpg.Resident())

	v, err := child.Userreadn(testbase, 1)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, 0xcd, v)

	// writes do not cross the fork
	require.Equal(t, defs.Err_t(0), child.Userwriten(testbase, 1, 0xef))
	v, _ = parent.Userreadn(testbase, 1)
	require.Equal(t, 0xcd, v)
	require.Equal(t, defs.Err_t(0), parent.Userwriten(testbase, 1, 0x11))
	v, _ = child.Userreadn(testbase, 1)
	require.Equal(t, 0xef, v)
}

func TestForkSwappedParent(t *testing.T) {
	sys := mksys(t, 4)
	parent := sys.Mkas()

	n := 6
	for i := 0; i < n; i++ {
		require.True(t, parent.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), parent.Userwriten(pgva(i), 1, i+1))
	}

	child := sys.Mkas()
	require.True(t, Spt_copy(child, parent))

	for i := 0; i < n; i++ {
		v, err := child.Userreadn(pgva(i), 1)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, i+1, v, "child page %d", i)
		v, err = parent.Userreadn(pgva(i), 1)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, i+1, v, "parent page %d", i)
	}
}

func TestTeardown(t *testing.T) {
	sys := mksys(t, 4)
	as1 := sys.Mkas()
	as2 := sys.Mkas()

	for i := 0; i < 4; i++ {
		require.True(t, as1.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), as1.Userwriten(pgva(i), 1, i))
		require.True(t, as2.Alloc_page(VM_ANON, pgva(i), true))
		require.Equal(t, defs.Err_t(0), as2.Userwriten(pgva(i), 1, i))
	}
	require.Positive(t, sys.Swap().Slotsused())

	as1.Destroy()

	// no frame on the list belongs to the departing address space
	sys.framel.Lock()
	for el := sys.frames.Front(); el != nil; el = el.Next() {
		require.NotSame(t, as1, el.Value.(*Frame_t).as)
	}
	sys.framel.Unlock()

	// as1's swap slots were released and as2 still works
	for i := 0; i < 4; i++ {
		v, err := as2.Userreadn(pgva(i), 1)
		require.Equal(t, defs.Err_t(0), err)
		require.Equal(t, i, v)
	}
	as2.Destroy()
	require.Equal(t, 0, sys.Swap().Slotsused())
	require.Equal(t, 4, sys.Phys().Userfree())
}

func TestUserCopySpansPages(t *testing.T) {
	sys := mksys(t, 8)
	as := sys.Mkas()

	require.True(t, as.Alloc_page(VM_ANON, testbase, true))
	require.True(t, as.Alloc_page(VM_ANON, pgva(1), true))

	src := make([]uint8, mem.PGSIZE)
	for i := range src {
		src[i] = uint8(i * 7)
	}
	start := testbase + uintptr(mem.PGSIZE/2)
	require.Equal(t, defs.Err_t(0), as.K2user(src, start))

	dst := make([]uint8, mem.PGSIZE)
	require.Equal(t, defs.Err_t(0), as.User2k(dst, start))
	require.Equal(t, src, dst)
}
