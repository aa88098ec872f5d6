package errs

import (
	"errors"
	"syscall"
	"testing"
)

func TestFromErrnoClassifies(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"reset", syscall.ECONNRESET, ErrClosed},
		{"pipe", syscall.EPIPE, ErrClosed},
		{"time", syscall.ETIME, ErrTimeout},
		{"notsock", syscall.ENOTSOCK, ErrNotASocket},
		{"notsup", syscall.EOPNOTSUPP, ErrOperationNotSupported},
		{"emfile", syscall.EMFILE, ErrProcessFdQuotaExceeded},
		{"enfile", syscall.ENFILE, ErrSystemFdQuotaExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromErrno(tt.in)
			if !errors.Is(got, tt.want) {
				t.Errorf("FromErrno(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromErrnoUnexpectedPreservesCause(t *testing.T) {
	cause := syscall.EIO
	got := FromErrno(cause)
	var unexpected *Unexpected
	if !errors.As(got, &unexpected) {
		t.Fatalf("FromErrno(EIO) = %v, want *Unexpected", got)
	}
	if !errors.Is(unexpected.Cause, cause) {
		t.Errorf("Unexpected.Cause = %v, want %v", unexpected.Cause, cause)
	}
}

func TestFromErrnoNil(t *testing.T) {
	if err := FromErrno(nil); err != nil {
		t.Errorf("FromErrno(nil) = %v, want nil", err)
	}
}

func TestIsWouldBlock(t *testing.T) {
	if !IsWouldBlock(syscall.EAGAIN) {
		t.Error("EAGAIN should be WouldBlock")
	}
	if IsWouldBlock(syscall.ECONNRESET) {
		t.Error("ECONNRESET should not be WouldBlock")
	}
}
