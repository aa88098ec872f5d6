// Package socket implements the Socket I/O surface (spec.md §4.6): TCP,
// UDP and Unix-domain sockets driven through a Scheduler, using the
// active AIO backend's native capability when available and falling back
// to a direct non-blocking syscall retry loop (ioexec) otherwise.
package socket

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/errs"
	"github.com/aioframe/aioframe/ioexec"
	"github.com/aioframe/aioframe/scheduler"
)

// Kind selects the socket family/type.
type Kind uint8

const (
	TCP Kind = iota
	UDP
	Unix
)

// Socket is a non-blocking handle over a raw file descriptor. The zero
// value is not usable; construct one with New.
type Socket struct {
	fd        int
	kind      Kind
	listening bool
}

// FD returns the underlying file descriptor, primarily for tests and for
// backends that need to register it directly (e.g. readiness's epoll).
func (s *Socket) FD() int { return s.fd }

// New creates a non-blocking socket of the given kind. Unix sockets carry
// no reuse semantics; TCP/UDP sockets get SO_REUSEPORT/SO_REUSEADDR
// applied at Bind time via the reuse ladder described there.
func New(kind Kind) (*Socket, error) {
	domain, typ := unix.AF_INET, unix.SOCK_STREAM
	switch kind {
	case TCP:
		domain, typ = unix.AF_INET, unix.SOCK_STREAM
	case UDP:
		domain, typ = unix.AF_INET, unix.SOCK_DGRAM
	case Unix:
		domain, typ = unix.AF_UNIX, unix.SOCK_STREAM
	}
	fd, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errs.FromErrno(err)
	}
	return &Socket{fd: fd, kind: kind}, nil
}

// setReuse applies the reuse-option ladder: SO_REUSEPORT first (load
// balances accepts across listeners bound to the same address), falling
// back to plain SO_REUSEADDR if the kernel rejects REUSEPORT. Unix
// sockets skip this entirely; there is no address to share.
func (s *Socket) setReuse() {
	if s.kind == Unix {
		return
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err == nil {
		return
	}
	unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// Bind binds the socket to addr. For TCP/UDP, addr is a host:port string;
// for Unix sockets it is a filesystem path.
func (s *Socket) Bind(addr string) error {
	s.setReuse()
	sa, err := s.sockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return errs.FromErrno(err)
	}
	return nil
}

// Listen marks the socket as a listener with the given backlog.
func (s *Socket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return errs.FromErrno(err)
	}
	s.listening = true
	return nil
}

// Accept waits for and returns the next inbound connection. A connection
// reset between being queued by the kernel and being accepted is
// swallowed and retried, per spec.md §4.6 ("a reset peer racing the
// accept queue is not a caller-visible failure").
func (s *Socket) Accept(rt *scheduler.Scheduler) (*Socket, error) {
	if !s.listening {
		return nil, errs.ErrNotListening
	}
	for {
		fd, err := s.acceptOnce(rt)
		if err == nil {
			return &Socket{fd: fd, kind: s.kind}, nil
		}
		if err == errs.ErrClosed {
			continue
		}
		return nil, err
	}
}

func (s *Socket) acceptOnce(rt *scheduler.Scheduler) (int, error) {
	if rt.Backend().Capabilities().Has(aio.OpAccept) {
		res := rt.Await(aio.Job{Op: aio.OpAccept, FD: s.fd})
		if res.Err != nil {
			return 0, res.Err
		}
		return res.FD, nil
	}
	n, err := ioexec.Run(rt, func() (int, error) {
		fd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return fd, err
	})
	return n, err
}

// Connect connects to addr, suspending the calling frame until the
// connection completes or fails.
func (s *Socket) Connect(rt *scheduler.Scheduler, addr string) error {
	sa, err := s.sockaddr(addr)
	if err != nil {
		return err
	}
	if rt.Backend().Capabilities().Has(aio.OpConnect) {
		res := rt.Await(aio.Job{Op: aio.OpConnect, FD: s.fd, Addr: sa})
		return res.Err
	}
	_, err = ioexec.Run(rt, func() (int, error) {
		cerr := unix.Connect(s.fd, sa)
		if cerr == unix.EISCONN {
			return 0, nil
		}
		return 0, cerr
	})
	return err
}

// Recv reads up to len(buf) bytes into buf, returning the number of bytes
// read. A zero count with a nil error means the peer performed an
// orderly shutdown; aioframe always reports that case as ErrClosed
// instead, matching spec.md §4.6.
func (s *Socket) Recv(rt *scheduler.Scheduler, buf []byte) (int, error) {
	var n int
	var err error
	if rt.Backend().Capabilities().Has(aio.OpRecv) {
		res := rt.Await(aio.Job{Op: aio.OpRecv, FD: s.fd, Buf: buf})
		if res.Err != nil {
			return 0, res.Err
		}
		n, err = int(res.Value), nil
	} else {
		n, err = ioexec.Run(rt, func() (int, error) { return unix.Read(s.fd, buf) })
		if err != nil {
			return 0, err
		}
	}
	if n == 0 && len(buf) > 0 {
		return 0, errs.ErrClosed
	}
	return n, nil
}

// Send writes buf, returning the number of bytes written.
func (s *Socket) Send(rt *scheduler.Scheduler, buf []byte) (int, error) {
	if rt.Backend().Capabilities().Has(aio.OpSend) {
		res := rt.Await(aio.Job{Op: aio.OpSend, FD: s.fd, Buf: buf})
		if res.Err != nil {
			return 0, res.Err
		}
		return int(res.Value), nil
	}
	return ioexec.Run(rt, func() (int, error) { return unix.Write(s.fd, buf) })
}

// RecvAll reads until buf is full or the peer closes. The returned count
// reflects bytes actually read even when the error is ErrClosed, per
// spec.md §4.6's partial-count-on-close contract.
func (s *Socket) RecvAll(rt *scheduler.Scheduler, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Recv(rt, buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SendAll writes buf in full, retrying short writes.
func (s *Socket) SendAll(rt *scheduler.Scheduler, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.Send(rt, buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close queues an async close and suspends the calling frame until it
// completes when the backend advertises OpClose; otherwise it closes the
// descriptor directly through the fallback path.
func (s *Socket) Close(rt *scheduler.Scheduler) error {
	if rt.Backend().Capabilities().Has(aio.OpClose) {
		res := rt.Await(aio.Job{Op: aio.OpClose, FD: s.fd})
		return res.Err
	}
	_, err := ioexec.Run(rt, func() (int, error) { return 0, unix.Close(s.fd) })
	return err
}

// CloseBlocking closes the socket with a direct blocking syscall, with no
// frame to suspend and no scheduler involved. It exists for shutdown
// paths outside any frame (spec.md §4.6's close_blocking).
func (s *Socket) CloseBlocking() error {
	return unix.Close(s.fd)
}

func (s *Socket) sockaddr(addr string) (unix.Sockaddr, error) {
	if s.kind == Unix {
		return &unix.SockaddrUnix{Name: addr}, nil
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		// Bare address with no port is invalid for TCP/UDP.
		return nil, errs.FromErrno(syscall.EINVAL)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, errs.FromErrno(syscall.EINVAL)
		}
		ip = ips[0]
	}
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			return nil, errs.FromErrno(syscall.EINVAL)
		}
		port = port*10 + int(c-'0')
	}
	if ip4 := ip.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		copy(sa.Addr[:], ip4)
		sa.Port = port
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	copy(sa.Addr[:], ip.To16())
	sa.Port = port
	return &sa, nil
}
