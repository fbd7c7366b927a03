package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRound(t *testing.T) {
	require.Equal(t, 0x400000, Rounddown(0x400fff, 0x1000))
	require.Equal(t, 0x401000, Roundup(0x400001, 0x1000))
	require.Equal(t, 0x400000, Roundup(0x400000, 0x1000))
	require.Equal(t, uintptr(0x7fffffffe000),
		Rounddown(uintptr(0x7fffffffeff8), 0x1000))
}

func TestMin(t *testing.T) {
	require.Equal(t, 3, Min(3, 5))
	require.Equal(t, 3, Min(5, 3))
}

func TestReadnWriten(t *testing.T) {
	buf := make([]uint8, 16)
	Writen(buf, 8, 0, 0x1122334455667788)
	require.Equal(t, 0x1122334455667788, Readn(buf, 8, 0))
	Writen(buf, 2, 9, 0xbeef)
	require.Equal(t, 0xbeef, Readn(buf, 2, 9))
	require.Equal(t, 0xef, Readn(buf, 1, 9))

	// odd widths, as produced by a page-boundary chunk
	Writen(buf, 3, 0, 0x112233)
	require.Equal(t, 0x112233, Readn(buf, 3, 0))
	Writen(buf, 5, 4, 0x1020304050)
	require.Equal(t, 0x1020304050, Readn(buf, 5, 4))

	require.Panics(t, func() { Readn(buf, 8, 12) })
	require.Panics(t, func() { Readn(buf, 9, 0) })
	require.Panics(t, func() { Writen(buf, 0, 0, 1) })
}
