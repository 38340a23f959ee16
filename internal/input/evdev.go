//go:build linux

package input

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocRead     = 2
	iocNRShift  = 0
	iocTypShift = 8
	iocSizShift = 16
	iocDirShift = 30

	keyMax = 0x2ff
)

func eviocg(nr, size uintptr) uintptr {
	return iocRead<<iocDirShift | size<<iocSizShift | uintptr('E')<<iocTypShift | nr<<iocNRShift
}

// eviocgbit is EVIOCGBIT(ev, size)
func eviocgbit(ev, size uintptr) uintptr {
	return eviocg(0x20+ev, size)
}

// eviocgname is EVIOCGNAME(size)
func eviocgname(size uintptr) uintptr {
	return eviocg(0x06, size)
}

// OpenKeyboard opens an evdev node read-only and checks that it can produce
// Tab and Alt. Devices that cannot are rejected with ErrNotKeyboard.
func OpenKeyboard(path string) (io.ReadCloser, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%s: %w", path, ErrDeviceAccessDenied)
		}
		return nil, err
	}

	var bits [keyMax/8 + 1]byte
	var name [256]byte
	var probeErr error
	ctlErr := withFd(f, func(fd uintptr) {
		if err := ioctl(fd, eviocgbit(evKey, uintptr(len(bits))), unsafe.Pointer(&bits[0])); err != nil {
			probeErr = fmt.Errorf("EVIOCGBIT: %w", err)
			return
		}
		// The name is only used for logging.
		_ = ioctl(fd, eviocgname(uintptr(len(name))), unsafe.Pointer(&name[0]))
	})
	if ctlErr == nil {
		ctlErr = probeErr
	}
	if ctlErr != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ctlErr)
	}

	if !hasKey(bits[:], KeyTab) || !(hasKey(bits[:], KeyLeftAlt) || hasKey(bits[:], KeyRightAlt)) {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNotKeyboard)
	}

	return &keyboard{File: f, name: string(bytes.TrimRight(name[:], "\x00"))}, nil
}

type keyboard struct {
	*os.File
	name string
}

func (k *keyboard) String() string {
	return k.name
}

func withFd(f *os.File, fn func(fd uintptr)) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	return raw.Control(fn)
}

func ioctl(fd, req uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func hasKey(bits []byte, code uint16) bool {
	i := int(code / 8)
	return i < len(bits) && bits[i]&(1<<(code%8)) != 0
}

// eventSize is sizeof(struct input_event) on this platform.
var eventSize = int(unsafe.Sizeof(unix.Timeval{})) + 8
