package input

import (
	"encoding/binary"
	"io"
)

// eventReader splits a device stream into input_event records and keeps
// only EV_KEY events.
type eventReader struct {
	r      io.Reader
	device string
	buf    []byte
	n      int
}

func newEventReader(r io.Reader, device string) *eventReader {
	return &eventReader{
		r:      r,
		device: device,
		buf:    make([]byte, eventSize*64),
	}
}

// Next blocks until at least one complete record is available and returns
// the key events among them. The slice may be empty.
func (er *eventReader) Next() ([]KeyEvent, error) {
	for {
		n, err := er.r.Read(er.buf[er.n:])
		er.n += n
		if er.n >= eventSize {
			events := decodeEvents(er.buf[:er.n-er.n%eventSize], er.device)
			rest := copy(er.buf, er.buf[er.n-er.n%eventSize:er.n])
			er.n = rest
			return events, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// decodeEvents parses whole input_event records in native byte order.
func decodeEvents(b []byte, device string) []KeyEvent {
	var out []KeyEvent
	off := eventSize - 8
	for len(b) >= eventSize {
		typ := binary.NativeEndian.Uint16(b[off:])
		if typ == evKey {
			out = append(out, KeyEvent{
				Device: device,
				Code:   binary.NativeEndian.Uint16(b[off+2:]),
				Value:  int32(binary.NativeEndian.Uint32(b[off+4:])),
			})
		}
		b = b[eventSize:]
	}
	return out
}
