// Package file implements the File I/O surface (spec.md §4.6): positional
// reads and writes against a file descriptor, driven through a Scheduler
// exactly like socket I/O, using OpOpen/OpRead/OpWrite/OpClose.
package file

import (
	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/errs"
	"github.com/aioframe/aioframe/ioexec"
	"github.com/aioframe/aioframe/scheduler"
)

// File is a handle to an open file descriptor, read and written at
// caller-supplied offsets rather than an implicit cursor — every Read and
// Write call states its own position, matching the pread/pwrite shape the
// io_uring backend maps onto directly.
type File struct {
	fd int
}

// FD returns the underlying file descriptor.
func (f *File) FD() int { return f.fd }

// Open opens path with the given flags/mode, suspending the calling frame
// until the open completes.
func Open(rt *scheduler.Scheduler, path string, flags int, mode uint32) (*File, error) {
	if rt.Backend().Capabilities().Has(aio.OpOpen) {
		res := rt.Await(aio.Job{Op: aio.OpOpen, Path: path, OpenFlags: flags, OpenMode: mode})
		if res.Err != nil {
			return nil, res.Err
		}
		return &File{fd: res.FD}, nil
	}
	fd, err := ioexec.Run(rt, func() (int, error) {
		return unix.Open(path, flags|unix.O_CLOEXEC, mode)
	})
	if err != nil {
		return nil, err
	}
	return &File{fd: fd}, nil
}

// Read reads up to len(buf) bytes starting at off.
func (f *File) Read(rt *scheduler.Scheduler, buf []byte, off int64) (int, error) {
	if rt.Backend().Capabilities().Has(aio.OpRead) {
		res := rt.Await(aio.Job{Op: aio.OpRead, FD: f.fd, Buf: buf, Off: off})
		if res.Err != nil {
			return 0, res.Err
		}
		return int(res.Value), nil
	}
	return ioexec.Run(rt, func() (int, error) { return unix.Pread(f.fd, buf, off) })
}

// Write writes buf starting at off.
func (f *File) Write(rt *scheduler.Scheduler, buf []byte, off int64) (int, error) {
	if rt.Backend().Capabilities().Has(aio.OpWrite) {
		res := rt.Await(aio.Job{Op: aio.OpWrite, FD: f.fd, Buf: buf, Off: off})
		if res.Err != nil {
			return 0, res.Err
		}
		return int(res.Value), nil
	}
	return ioexec.Run(rt, func() (int, error) { return unix.Pwrite(f.fd, buf, off) })
}

// Close queues an async close and suspends the calling frame until done
// when the backend advertises OpClose; otherwise it closes the descriptor
// directly through the fallback path.
func (f *File) Close(rt *scheduler.Scheduler) error {
	if rt.Backend().Capabilities().Has(aio.OpClose) {
		res := rt.Await(aio.Job{Op: aio.OpClose, FD: f.fd})
		return res.Err
	}
	_, err := ioexec.Run(rt, func() (int, error) { return 0, unix.Close(f.fd) })
	return err
}

// Size returns the file's current byte length via fstat. It is a
// test/scaffolding helper, not an async operation: callers that need it
// mid-frame accept the direct blocking syscall cost.
func (f *File) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, errs.FromErrno(err)
	}
	return st.Size, nil
}
