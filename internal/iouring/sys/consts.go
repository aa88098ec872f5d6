// Package sys provides low-level io_uring syscall wrappers and types.
package sys

// Syscall numbers for io_uring (x86_64).
const (
	SYS_IO_URING_SETUP    = 425
	SYS_IO_URING_ENTER    = 426
	SYS_IO_URING_REGISTER = 427
)

// Op is an io_uring opcode (IORING_OP_*). Values match the kernel uapi so
// they double as indices into a Probe's support table. The chain stops at
// RECV (27) — the highest op aioframe's completion-queue backend ever
// issues — rather than enumerating the kernel's full, still-growing op
// list.
type Op uint8

const (
	IORING_OP_NOP Op = iota
	IORING_OP_READV
	IORING_OP_WRITEV
	IORING_OP_FSYNC
	IORING_OP_READ_FIXED
	IORING_OP_WRITE_FIXED
	IORING_OP_POLL_ADD
	IORING_OP_POLL_REMOVE
	IORING_OP_SYNC_FILE_RANGE
	IORING_OP_SENDMSG
	IORING_OP_RECVMSG
	IORING_OP_TIMEOUT
	IORING_OP_TIMEOUT_REMOVE
	IORING_OP_ACCEPT
	IORING_OP_ASYNC_CANCEL
	IORING_OP_LINK_TIMEOUT
	IORING_OP_CONNECT
	IORING_OP_FALLOCATE
	IORING_OP_OPENAT
	IORING_OP_CLOSE
	IORING_OP_FILES_UPDATE
	IORING_OP_STATX
	IORING_OP_READ
	IORING_OP_WRITE
	IORING_OP_FADVISE
	IORING_OP_MADVISE
	IORING_OP_SEND
	IORING_OP_RECV
)

// numProbeOps sizes a Probe's operation table. It only needs to exceed
// the highest Op value above; the kernel caps what it writes back to
// min(numProbeOps, its own last op), so a kernel with a larger real op
// set than this still reports correctly for every op aioframe cares about.
const numProbeOps = 32

// Setup flags (IORING_SETUP_*) — only the one aioframe's Ring.New opts
// into.
const (
	IORING_SETUP_COOP_TASKRUN uint32 = 1 << 8
)

// Feature flags (IORING_FEAT_*) that ring setup and CQE waiting consult.
const (
	IORING_FEAT_SINGLE_MMAP uint32 = 1 << 0
	IORING_FEAT_EXT_ARG     uint32 = 1 << 8
)

// Enter flags (IORING_ENTER_*).
const (
	IORING_ENTER_GETEVENTS uint32 = 1 << 0
	IORING_ENTER_EXT_ARG   uint32 = 1 << 3
)

// Register opcodes (IORING_REGISTER_*) — only probing is needed; buffer
// and file registration aren't exercised by this backend.
const (
	IORING_REGISTER_PROBE uint32 = 8
)

// mmap offsets for the ring buffers.
const (
	IORING_OFF_SQ_RING uint64 = 0
	IORING_OFF_CQ_RING uint64 = 0x8000000
	IORING_OFF_SQES    uint64 = 0x10000000
)
