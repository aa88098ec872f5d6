//go:build !linux

package aioframe

import (
	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/aio/busyloop"
	"github.com/aioframe/aioframe/errs"
)

// On non-Linux platforms only the busy-loop backend is available; the
// readiness reactor and io_uring backend are Linux-specific (epoll and
// io_uring respectively have no portable equivalent in this codebase).
func newBackend(c config) (aio.Backend, error) {
	switch c.backend {
	case BackendReadiness, BackendIOURing:
		return nil, errs.ErrOperationNotSupported
	default:
		return busyloop.New(c.msOperationMax, c.sizeAIOReapMax)
	}
}
