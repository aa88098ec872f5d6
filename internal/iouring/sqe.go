//go:build linux

package iouring

import (
	"sync/atomic"
	"unsafe"

	"github.com/aioframe/aioframe/internal/iouring/sys"
)

// getSQE returns the next available SQE, or nil if the queue is full.
// The returned SQE is zeroed and ready for use.
// NOT thread-safe; caller must hold sqLock.
func (r *Ring) getSQE() *sys.SQE {
	head := atomic.LoadUint32(r.sqHead)
	tail := atomic.LoadUint32(r.sqTail) + r.sqPending

	if tail-head >= r.sqEntries {
		return nil
	}

	idx := tail & r.sqMask
	sqe := &r.sqes[idx]
	sqe.Reset()

	r.sqArray[idx] = uint32(idx)
	r.sqPending++

	return sqe
}

// prep claims the next SQE, hands it to fill for opcode-specific setup,
// and stamps userData. Every Prep* method below is a thin wrapper around
// this so the per-opcode bodies only ever state what's unique to them.
func (r *Ring) prep(userData uint64, fill func(*sys.SQE)) error {
	r.sqLock.Lock()
	defer r.sqLock.Unlock()

	sqe := r.getSQE()
	if sqe == nil {
		return ErrSQFull
	}
	fill(sqe)
	sqe.UserData = userData
	return nil
}

// PrepRead queues a read of up to len(buf) bytes from fd at offset.
func (r *Ring) PrepRead(fd int, buf []byte, offset uint64, userData uint64) error {
	if len(buf) == 0 {
		return nil
	}
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_READ)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
		sqe.Off = offset
	})
}

// PrepWrite queues a write of len(buf) bytes to fd at offset.
func (r *Ring) PrepWrite(fd int, buf []byte, offset uint64, userData uint64) error {
	if len(buf) == 0 {
		return nil
	}
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_WRITE)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
		sqe.Off = offset
	})
}

// PrepTimeout queues a relative timeout that fires once ts elapses.
func (r *Ring) PrepTimeout(ts *sys.Timespec, count uint64, flags uint32, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_TIMEOUT)
		sqe.Fd = -1
		sqe.Addr = uint64(uintptr(unsafe.Pointer(ts)))
		sqe.Len = 1
		sqe.Off = count
		sqe.OpFlags = flags
	})
}

// PrepCancel requests cancellation of the still-pending SQE whose
// userData is targetUserData.
func (r *Ring) PrepCancel(targetUserData uint64, flags uint32, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_ASYNC_CANCEL)
		sqe.Fd = -1
		sqe.Addr = targetUserData
		sqe.OpFlags = flags
	})
}

// PrepAccept queues an accept4 on the listening socket fd. addr/addrLen
// may be nil when the peer address isn't needed.
func (r *Ring) PrepAccept(fd int, addr unsafe.Pointer, addrLen *uint32, flags uint32, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_ACCEPT)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(addr))
		sqe.Off = uint64(uintptr(unsafe.Pointer(addrLen)))
		sqe.OpFlags = flags
	})
}

// PrepConnect queues a connect of fd to the sockaddr at addr.
func (r *Ring) PrepConnect(fd int, addr unsafe.Pointer, addrLen uint32, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_CONNECT)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(addr))
		sqe.Off = uint64(addrLen)
	})
}

// PrepSend queues a send of buf on the connected socket fd.
func (r *Ring) PrepSend(fd int, buf []byte, flags int, userData uint64) error {
	if len(buf) == 0 {
		return nil
	}
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_SEND)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
		sqe.OpFlags = uint32(flags)
	})
}

// PrepRecv queues a recv of up to len(buf) bytes on the connected socket fd.
func (r *Ring) PrepRecv(fd int, buf []byte, flags int, userData uint64) error {
	if len(buf) == 0 {
		return nil
	}
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_RECV)
		sqe.Fd = int32(fd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
		sqe.Len = uint32(len(buf))
		sqe.OpFlags = uint32(flags)
	})
}

// PrepClose queues a close of fd.
func (r *Ring) PrepClose(fd int, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_CLOSE)
		sqe.Fd = int32(fd)
	})
}

// PrepOpenat queues an openat relative to dirfd. path must be a
// null-terminated string that stays alive until the completion is reaped.
func (r *Ring) PrepOpenat(dirfd int, path *byte, flags int, mode uint32, userData uint64) error {
	return r.prep(userData, func(sqe *sys.SQE) {
		sqe.Opcode = uint8(sys.IORING_OP_OPENAT)
		sqe.Fd = int32(dirfd)
		sqe.Addr = uint64(uintptr(unsafe.Pointer(path)))
		sqe.Len = uint32(mode)
		sqe.OpFlags = uint32(flags)
	})
}
