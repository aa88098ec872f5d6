// Package completion defines the tagged result record an AIO backend hands
// back to the scheduler, and the opaque context used to route it.
package completion

// Kind tags the variant held by a Result.
type Kind uint8

const (
	// KindNone is a void completion, e.g. close.
	KindNone Kind = iota
	// KindSocket carries a newly accepted connection's raw file descriptor.
	KindSocket
	// KindValue carries a byte count (recv/send/read/write). A failed
	// operation is reported through Result.Err; Value is then zero, never
	// negative.
	KindValue
	// KindTimeout marks either a Timer job firing naturally, or any other
	// op aborted by the busy-loop backend's per-operation timeout.
	KindTimeout
	// KindFD carries a file handle, e.g. an open outcome.
	KindFD
)

// Result is the tagged variant returned in a Completion.
type Result struct {
	Kind  Kind
	Value int64
	FD    int
	Err   error
}

// Context is the opaque handle a backend threads through a job so its
// completion can be routed back to the originating task slot. Per
// spec.md §9 ("opaque context pointers... a typed implementation should
// use a stable index into the task table"), this is a slot index plus a
// generation counter rather than a raw pointer, so a completion that
// arrives after its slot has been recycled can be detected and dropped
// instead of corrupting an unrelated task.
type Context struct {
	SlotIndex uint32
	Gen       uint32
}

// Completion pairs a Context with the Result it resolves.
type Completion struct {
	Ctx    Context
	Result Result
}
