package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// DefaultDeviceDir is where evdev nodes live.
const DefaultDeviceDir = "/dev/input"

var (
	// ErrDeviceAccessDenied means keyboards exist but none could be opened.
	ErrDeviceAccessDenied = errors.New("input device access denied")

	// ErrNotKeyboard is returned by OpenKeyboard for devices without Tab and Alt.
	ErrNotKeyboard = errors.New("not a keyboard")
)

// Opener opens a device node and returns its raw event stream.
type Opener func(path string) (io.ReadCloser, error)

// Options configures a Capture.
type Options struct {
	DeviceDir string
	Policy    BareAltPolicy
	Opener    Opener

	// OpenRetries and RetryDelay bound the attempts to open a node that just
	// appeared; udev may still be applying its permissions.
	OpenRetries int
	RetryDelay  time.Duration
}

type deviceEvents struct {
	path   string
	gen    uint64
	events []KeyEvent
}

type deviceGone struct {
	path string
	gen  uint64
	err  error
}

type deviceAdded struct {
	path string
	rc   io.ReadCloser
}

// openDevice is an open keyboard. gen tells a replugged node at the same path
// apart from the handle it replaced.
type openDevice struct {
	rc  io.ReadCloser
	gen uint64
}

// Capture reads every keyboard under the device directory and emits
// gestures. Devices may come and go while it runs.
type Capture struct {
	opts    Options
	tracker *Tracker
	watcher *fsnotify.Watcher
	devices map[string]openDevice
	nextGen uint64
	log     zerolog.Logger

	events chan deviceEvents
	gone   chan deviceGone
	added  chan deviceAdded
}

// New creates a capture. Call Open, then Run.
func New(opts Options) *Capture {
	if opts.DeviceDir == "" {
		opts.DeviceDir = DefaultDeviceDir
	}
	if opts.Opener == nil {
		opts.Opener = OpenKeyboard
	}
	if opts.OpenRetries <= 0 {
		opts.OpenRetries = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	return &Capture{
		opts:    opts,
		tracker: NewTracker(opts.Policy),
		devices: make(map[string]openDevice),
		log:     *logger.WithComponent("input"),
		events:  make(chan deviceEvents, 64),
		gone:    make(chan deviceGone),
		added:   make(chan deviceAdded),
	}
}

// Open starts watching the device directory and opens every keyboard found
// there. It fails with ErrDeviceAccessDenied when no keyboard could be opened
// because of permissions.
func (c *Capture) Open() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create device watcher: %w", err)
	}
	if err := watcher.Add(c.opts.DeviceDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", c.opts.DeviceDir, err)
	}

	paths, err := filepath.Glob(filepath.Join(c.opts.DeviceDir, "event*"))
	if err != nil {
		watcher.Close()
		return err
	}

	var denied error
	for _, path := range paths {
		rc, err := c.opts.Opener(path)
		switch {
		case err == nil:
			c.register(path, rc)
			c.log.Info().Str("device", path).Str("name", deviceName(rc)).Msg("Keyboard opened")
		case errors.Is(err, ErrNotKeyboard):
			c.log.Debug().Str("device", path).Msg("Skipping non-keyboard device")
		case errors.Is(err, ErrDeviceAccessDenied):
			denied = err
		default:
			c.log.Warn().Err(err).Str("device", path).Msg("Failed to open device")
		}
	}

	if len(c.devices) == 0 && denied != nil {
		watcher.Close()
		return fmt.Errorf("no keyboard readable (add the user to the 'input' group): %w", denied)
	}
	if len(c.devices) == 0 {
		c.log.Warn().Str("dir", c.opts.DeviceDir).Msg("No keyboards found, waiting for hot-plug")
	}

	c.watcher = watcher
	return nil
}

// Devices returns the number of open keyboards. Only valid before Run.
func (c *Capture) Devices() int {
	return len(c.devices)
}

// Run reads devices and sends gestures until ctx is cancelled. The device
// registry and the tracker are only touched by this goroutine.
func (c *Capture) Run(ctx context.Context, gestures chan<- Gesture) error {
	if c.watcher == nil {
		return errors.New("capture not opened")
	}
	defer c.closeAll()

	for path, dev := range c.devices {
		go c.read(ctx, path, dev)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case batch := <-c.events:
			if dev, ok := c.devices[batch.path]; !ok || dev.gen != batch.gen {
				continue
			}
			for _, ev := range batch.events {
				if g, ok := c.tracker.Feed(ev); ok {
					if !c.emit(ctx, gestures, g) {
						return ctx.Err()
					}
				}
			}

		case g := <-c.gone:
			// A reader of a handle that was already dropped or replaced
			if dev, ok := c.devices[g.path]; !ok || dev.gen != g.gen {
				continue
			}
			c.log.Info().Err(g.err).Str("device", g.path).Msg("Keyboard removed")
			if gesture, ok := c.drop(g.path); ok {
				if !c.emit(ctx, gestures, gesture) {
					return ctx.Err()
				}
			}

		case a := <-c.added:
			if _, ok := c.devices[a.path]; ok {
				a.rc.Close()
				continue
			}
			dev := c.register(a.path, a.rc)
			c.log.Info().Str("device", a.path).Str("name", deviceName(a.rc)).Msg("Keyboard added")
			go c.read(ctx, a.path, dev)

		case ev, ok := <-c.watcher.Events:
			if !ok {
				return errors.New("device watcher closed")
			}
			if gesture, ok := c.handleWatch(ctx, ev); ok {
				if !c.emit(ctx, gestures, gesture) {
					return ctx.Err()
				}
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return errors.New("device watcher closed")
			}
			c.log.Warn().Err(err).Msg("Device watcher error")
		}
	}
}

// handleWatch reacts to a change in the device directory. A removed node is
// dropped right away so that a node recreated at the same path is not
// mistaken for the old one.
func (c *Capture) handleWatch(ctx context.Context, ev fsnotify.Event) (Gesture, bool) {
	if !strings.HasPrefix(filepath.Base(ev.Name), "event") {
		return 0, false
	}
	switch {
	case ev.Has(fsnotify.Create):
		go c.openWithRetry(ctx, ev.Name)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if _, ok := c.devices[ev.Name]; ok {
			c.log.Info().Str("device", ev.Name).Msg("Keyboard removed")
			return c.drop(ev.Name)
		}
	}
	return 0, false
}

// register records an open keyboard under a fresh generation.
func (c *Capture) register(path string, rc io.ReadCloser) openDevice {
	c.nextGen++
	dev := openDevice{rc: rc, gen: c.nextGen}
	c.devices[path] = dev
	return dev
}

// drop closes the keyboard at path and releases the keys it held.
func (c *Capture) drop(path string) (Gesture, bool) {
	if dev, ok := c.devices[path]; ok {
		dev.rc.Close()
		delete(c.devices, path)
	}
	return c.tracker.Forget(path)
}

func (c *Capture) openWithRetry(ctx context.Context, path string) {
	var err error
	for attempt := 0; attempt < c.opts.OpenRetries; attempt++ {
		var rc io.ReadCloser
		rc, err = c.opts.Opener(path)
		if err == nil {
			select {
			case c.added <- deviceAdded{path: path, rc: rc}:
			case <-ctx.Done():
				rc.Close()
			}
			return
		}
		if errors.Is(err, ErrNotKeyboard) {
			return
		}
		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return
		}
	}
	c.log.Warn().Err(err).Str("device", path).Msg("Failed to open new device")
}

func (c *Capture) read(ctx context.Context, path string, dev openDevice) {
	er := newEventReader(dev.rc, path)
	for {
		events, err := er.Next()
		if err != nil {
			select {
			case c.gone <- deviceGone{path: path, gen: dev.gen, err: err}:
			case <-ctx.Done():
			}
			return
		}
		if len(events) == 0 {
			continue
		}
		select {
		case c.events <- deviceEvents{path: path, gen: dev.gen, events: events}:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Capture) emit(ctx context.Context, gestures chan<- Gesture, g Gesture) bool {
	c.log.Debug().Stringer("gesture", g).Msg("Gesture")
	select {
	case gestures <- g:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Capture) closeAll() {
	c.watcher.Close()
	for path, dev := range c.devices {
		dev.rc.Close()
		delete(c.devices, path)
	}
}

func deviceName(rc io.ReadCloser) string {
	if s, ok := rc.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}
