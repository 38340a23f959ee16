//go:build !linux

package input

import (
	"errors"
	"io"
)

// OpenKeyboard is only implemented on Linux.
func OpenKeyboard(path string) (io.ReadCloser, error) {
	return nil, errors.New("raw keyboard capture requires linux evdev")
}

var eventSize = 24
