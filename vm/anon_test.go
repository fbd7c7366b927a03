package vm

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"vmkern/fs"
	"vmkern/mem"
)

func TestSwapSlots(t *testing.T) {
	sw := mkswap(fs.Mkram(4 * Sectorsperpage))
	require.Equal(t, 4, sw.Slots())

	s0, ok := sw.allocslot()
	require.True(t, ok)
	s1, ok := sw.allocslot()
	require.True(t, ok)
	require.NotEqual(t, s0, s1)
	require.True(t, sw.Slotset(s0))
	require.Equal(t, 2, sw.Slotsused())

	// freed slots are reused first
	sw.freeslot(s0)
	s2, ok := sw.allocslot()
	require.True(t, ok)
	require.Equal(t, s0, s2)
}

func TestSwapSlotIO(t *testing.T) {
	sw := mkswap(fs.Mkram(8 * Sectorsperpage))

	var out mem.Bytepg_t
	for i := range out {
		out[i] = uint8(i % 253)
	}
	slot, ok := sw.allocslot()
	require.True(t, ok)
	sw.writeslot(slot, &out)

	var in mem.Bytepg_t
	sw.readslot(slot, &in)
	require.Equal(t, out, in)
}

func TestSwapExhaustion(t *testing.T) {
	sw := mkswap(fs.Mkram(2 * Sectorsperpage))
	_, ok := sw.allocslot()
	require.True(t, ok)
	_, ok = sw.allocslot()
	require.True(t, ok)
	_, ok = sw.allocslot()
	require.False(t, ok)
}

func TestSwapExhaustionFatal(t *testing.T) {
	// one slot of swap, one user frame: the second eviction of a
	// dirty anonymous page has nowhere to go
	phys := mem.Mkphys(1, 64)
	sys := Mkvm(phys, fs.Mkram(1*Sectorsperpage), zerolog.Nop())
	as := sys.Mkas()

	for i := 0; i < 2; i++ {
		require.True(t, as.Alloc_page(VM_ANON, pgva(i), true))
		require.Zero(t, int(as.Userwriten(pgva(i), 1, i+1)))
	}
	require.Panics(t, func() {
		as.Alloc_page(VM_ANON, pgva(2), true)
		as.Userwriten(pgva(2), 1, 3)
	})
}
