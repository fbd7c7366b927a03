package fs

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/dsnet/golib/memfile"
	"github.com/pkg/errors"
)

// / File_i is the file object contract required by the mmap backend:
// / positional reads and writes, an independent reopened handle, and
// / a length.
type File_i interface {
	Reopen() File_i
	Readat(dst []uint8, ofs int) (int, error)
	Writeat(src []uint8, ofs int) (int, error)
	Len() int
	Close()
}

// / Memfile_t is an in-memory File_i. Reopened handles share the
// / underlying buffer and a reference count, the way the file layer
// / ref-counts reopened files.
type Memfile_t struct {
	mu   *sync.Mutex
	file *memfile.File
	refs *int32
}

// / Mkmemfile creates a file holding a copy of data.
func Mkmemfile(data []uint8) *Memfile_t {
	buf := make([]uint8, len(data))
	copy(buf, data)
	refs := int32(1)
	return &Memfile_t{
		mu:   &sync.Mutex{},
		file: memfile.New(buf),
		refs: &refs,
	}
}

// / Reopen returns an independent handle on the same file contents.
func (mf *Memfile_t) Reopen() File_i {
	atomic.AddInt32(mf.refs, 1)
	return &Memfile_t{mu: mf.mu, file: mf.file, refs: mf.refs}
}

// / Readat reads into dst starting at ofs. A read past the end of the
// / file returns the bytes available with no error.
func (mf *Memfile_t) Readat(dst []uint8, ofs int) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	n, err := mf.file.ReadAt(dst, int64(ofs))
	if err == io.EOF {
		err = nil
	}
	return n, errors.Wrap(err, "memfile readat")
}

// / Writeat writes src starting at ofs, extending the file if needed.
func (mf *Memfile_t) Writeat(src []uint8, ofs int) (int, error) {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	n, err := mf.file.WriteAt(src, int64(ofs))
	return n, errors.Wrap(err, "memfile writeat")
}

// / Len returns the current file length in bytes.
func (mf *Memfile_t) Len() int {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	return len(mf.file.Bytes())
}

// / Close drops this handle's reference.
func (mf *Memfile_t) Close() {
	if atomic.AddInt32(mf.refs, -1) < 0 {
		panic("file over-closed")
	}
}

// / Bytes returns a snapshot of the file contents.
func (mf *Memfile_t) Bytes() []uint8 {
	mf.mu.Lock()
	defer mf.mu.Unlock()
	b := mf.file.Bytes()
	out := make([]uint8, len(b))
	copy(out, b)
	return out
}
