package file

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/aioframe/aioframe/aio"
	"github.com/aioframe/aioframe/completion"
	"github.com/aioframe/aioframe/scheduler"
)

type fallbackOnlyBackend struct{}

func (fallbackOnlyBackend) Capabilities() aio.CapSet              { return 0 }
func (fallbackOnlyBackend) QueueAccept(aio.Job) error             { return nil }
func (fallbackOnlyBackend) QueueConnect(aio.Job) error            { return nil }
func (fallbackOnlyBackend) QueueRecv(aio.Job) error               { return nil }
func (fallbackOnlyBackend) QueueSend(aio.Job) error               { return nil }
func (fallbackOnlyBackend) QueueClose(aio.Job) error              { return nil }
func (fallbackOnlyBackend) QueueOpen(aio.Job) error                { return nil }
func (fallbackOnlyBackend) QueueRead(aio.Job) error                { return nil }
func (fallbackOnlyBackend) QueueWrite(aio.Job) error               { return nil }
func (fallbackOnlyBackend) QueueTimer(aio.Job) error               { return nil }
func (fallbackOnlyBackend) Submit() error                          { return nil }
func (fallbackOnlyBackend) Close() error                            { return nil }
func (fallbackOnlyBackend) Reap() ([]completion.Completion, error)  { return nil, nil }

func newTestRuntime() *scheduler.Scheduler {
	return scheduler.New(fallbackOnlyBackend{}, scheduler.Config{
		InitialTasks: 4, MaxTasks: 16, Pooling: scheduler.PoolingGrow, MaxAIOJobs: 4,
	}, zerolog.Nop())
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	rt := newTestRuntime()

	tmp, err := os.CreateTemp("", "aioframe_file_test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	var size int64
	var readBack string
	var opErr error

	rt.Spawn(func() {
		f, err := Open(rt, path, unix.O_RDWR, 0o644)
		if err != nil {
			opErr = err
			return
		}
		if _, err := f.Write(rt, []byte("payload"), 0); err != nil {
			opErr = err
			return
		}
		size, opErr = f.Size()
		if opErr != nil {
			return
		}
		buf := make([]byte, len("payload"))
		if _, err := f.Read(rt, buf, 0); err != nil {
			opErr = err
			return
		}
		readBack = string(buf)
		f.Close(rt)
	}, 32*1024)

	for i := 0; i < 200 && rt.Tick(); i++ {
	}

	if opErr != nil {
		t.Fatalf("op error: %v", opErr)
	}
	if size != int64(len("payload")) {
		t.Errorf("size = %d, want %d", size, len("payload"))
	}
	if readBack != "payload" {
		t.Errorf("readBack = %q, want %q", readBack, "payload")
	}
}
