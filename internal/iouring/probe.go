//go:build linux

package iouring

import (
	"github.com/aioframe/aioframe/internal/iouring/sys"
)

// Probe reports which opcodes the running kernel's io_uring supports, so
// the Backend can narrow its advertised aio.CapSet below the operations
// it would otherwise assume are available.
type Probe struct {
	probe sys.Probe
}

// Probe queries the kernel for supported operations.
func (r *Ring) Probe() (*Probe, error) {
	p := &Probe{}
	if err := sys.RegisterProbe(r.fd, &p.probe); err != nil {
		return nil, err
	}
	return p, nil
}

// SupportsOp reports whether the kernel implements op.
func (p *Probe) SupportsOp(op sys.Op) bool {
	if uint8(op) > p.probe.LastOp {
		return false
	}
	return p.probe.Ops[op].Flags&sys.IO_URING_OP_SUPPORTED != 0
}

// LastOp returns the highest operation code the kernel reported.
func (p *Probe) LastOp() sys.Op {
	return sys.Op(p.probe.LastOp)
}
