//go:build linux

package aioframe

import (
	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/aio/busyloop"
	"github.com/aioframe/aioframe/aio/iouring"
	"github.com/aioframe/aioframe/aio/readiness"
)

func newBackend(c config) (aio.Backend, error) {
	switch c.backend {
	case BackendBusyLoop:
		return busyloop.New(c.msOperationMax, c.sizeAIOReapMax)
	case BackendReadiness:
		return readiness.New(c.sizeAIOReapMax)
	case BackendIOURing:
		return iouring.New(uint32(c.sizeAIOJobsMax), c.sizeAIOReapMax)
	default: // BackendAuto
		if b, err := iouring.New(uint32(c.sizeAIOJobsMax), c.sizeAIOReapMax); err == nil {
			return b, nil
		}
		if b, err := readiness.New(c.sizeAIOReapMax); err == nil {
			return b, nil
		}
		return busyloop.New(c.msOperationMax, c.sizeAIOReapMax)
	}
}
