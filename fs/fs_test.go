package fs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRamdisk(t *testing.T) {
	rd := Mkram(16)
	require.Equal(t, 16, rd.Size())

	src := make([]uint8, SECTOR_SIZE)
	for i := range src {
		src[i] = uint8(i)
	}
	rd.Write(3, src)

	dst := make([]uint8, SECTOR_SIZE)
	rd.Read(3, dst)
	require.Equal(t, src, dst)

	// untouched sector reads zero
	rd.Read(4, dst)
	require.Equal(t, uint8(0), dst[0])

	require.Panics(t, func() { rd.Read(16, dst) })
	require.Panics(t, func() { rd.Read(-1, dst) })
}

func TestMemfile(t *testing.T) {
	mf := Mkmemfile([]uint8{1, 2, 3, 4, 5})
	require.Equal(t, 5, mf.Len())

	buf := make([]uint8, 3)
	n, err := mf.Readat(buf, 1)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []uint8{2, 3, 4}, buf)

	// short read past the end is not an error
	n, err = mf.Readat(buf, 4)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, uint8(5), buf[0])

	// writes extend the file
	n, err = mf.Writeat([]uint8{9, 9}, 6)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 8, mf.Len())
}

func TestMemfileReopen(t *testing.T) {
	mf := Mkmemfile([]uint8{1, 2, 3})
	ro := mf.Reopen()

	_, err := ro.Writeat([]uint8{7}, 0)
	require.NoError(t, err)

	buf := make([]uint8, 1)
	_, err = mf.Readat(buf, 0)
	require.NoError(t, err)
	require.Equal(t, uint8(7), buf[0])

	ro.Close()
	mf.Close()
}
