// Package daemon owns the switcher state and drives it from control
// commands, keyboard gestures, and compositor focus events.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/witcher/internal/api"
	"github.com/bryanchriswhite/witcher/internal/input"
	"github.com/bryanchriswhite/witcher/internal/ipc"
	"github.com/bryanchriswhite/witcher/internal/logger"
	"github.com/bryanchriswhite/witcher/internal/mru"
	"github.com/bryanchriswhite/witcher/internal/switcher"
	"github.com/bryanchriswhite/witcher/internal/window"
)

// Publisher receives a snapshot after every state change.
type Publisher interface {
	Publish(api.SessionSnapshot)
}

// Notifier shows desktop notifications.
type Notifier interface {
	Notify(ctx context.Context, summary, body string) error
}

// Options configures a Daemon. Nil channels disable their source.
type Options struct {
	AutoCommitDelay time.Duration
	BackendTimeout  time.Duration
	MRULimit        int

	Calls     <-chan *ipc.Call
	Gestures  <-chan input.Gesture
	Publisher Publisher
	Notifier  Notifier
}

// origin records what opened a session
type origin int

const (
	fromControl origin = iota
	fromKeyboard
)

// Daemon is the single owner of MRU history and the switch session. All
// mutation happens on the goroutine running Run.
type Daemon struct {
	manager *window.Manager
	backend window.Backend
	opts    Options
	log     zerolog.Logger

	history *mru.History
	machine *switcher.Machine
	origin  origin
	focus   chan window.ID

	autoCommit *time.Timer

	// faultNotified is shared with the manager goroutine.
	faultNotified atomic.Bool
}

// New creates a daemon over the manager's backend. It subscribes to focus
// changes immediately, so events the manager delivers before Run starts are
// queued rather than lost.
func New(manager *window.Manager, opts Options) *Daemon {
	if opts.AutoCommitDelay <= 0 {
		opts.AutoCommitDelay = 500 * time.Millisecond
	}
	if opts.BackendTimeout <= 0 {
		opts.BackendTimeout = time.Second
	}

	d := &Daemon{
		manager: manager,
		backend: manager.Backend(),
		opts:    opts,
		log:     *logger.WithComponent("daemon"),
		history: mru.New(opts.MRULimit),
		machine: switcher.NewMachine(),
		focus:   manager.Subscribe(),
	}
	manager.OnFault(d.onBackendFault)
	return d
}

// Run processes events until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.manager.Unsubscribe(d.focus)
	defer d.stopAutoCommit()

	d.log.Info().Str("backend", d.backend.Name()).Msg("Daemon loop started")
	d.publish()

	for {
		var autoCommit <-chan time.Time
		if d.autoCommit != nil {
			autoCommit = d.autoCommit.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case id, ok := <-d.focus:
			if !ok {
				return errors.New("focus subscription closed")
			}
			d.handleFocus(id)

		case call := <-d.opts.Calls:
			call.Reply(d.handleCommand(ctx, call.Request.Command))

		case g := <-d.opts.Gestures:
			d.handleGesture(ctx, g)

		case <-autoCommit:
			d.autoCommit = nil
			d.log.Debug().Msg("Auto-commit window elapsed")
			if _, err := d.commit(ctx); err != nil {
				d.log.Warn().Err(err).Msg("Auto-commit failed")
			}
		}
	}
}

func (d *Daemon) handleFocus(id window.ID) {
	d.faultNotified.Store(false)
	d.history.Touch(id)
	d.log.Debug().Stringer("window", id).Msg("Focus changed")
	d.publish()
}

func (d *Daemon) handleCommand(ctx context.Context, command string) ipc.Response {
	switch command {
	case ipc.CommandCycleNext, ipc.CommandCyclePrev:
		dir := switcher.Forward
		if command == ipc.CommandCyclePrev {
			dir = switcher.Backward
		}
		session, err := d.cycle(ctx, dir, fromControl)
		if err != nil {
			return failure(err)
		}
		return sessionResponse(session)

	case ipc.CommandShow:
		target, err := d.show(ctx)
		if err != nil {
			return failure(err)
		}
		return ipc.OK(target)

	case ipc.CommandCommit:
		if d.machine.State() == switcher.Idle {
			return ipc.OK("no session")
		}
		target, err := d.commit(ctx)
		if err != nil {
			return failure(err)
		}
		return ipc.OK(target)

	case ipc.CommandCancel:
		d.cancel()
		return ipc.OK("cancelled")

	case ipc.CommandStatus:
		data, err := json.Marshal(d.snapshot())
		if err != nil {
			return ipc.Fail(ipc.ErrTagInternal, err.Error())
		}
		resp := ipc.OK(string(d.machine.State()))
		resp.Data = data
		return resp

	default:
		return ipc.Fail(ipc.ErrTagUnknownCommand, fmt.Sprintf("unknown command: %q", command))
	}
}

func (d *Daemon) handleGesture(ctx context.Context, g input.Gesture) {
	var err error
	switch g {
	case input.GestureCycleForward:
		_, err = d.cycle(ctx, switcher.Forward, fromKeyboard)
	case input.GestureCycleBackward:
		_, err = d.cycle(ctx, switcher.Backward, fromKeyboard)
	case input.GestureCommit:
		if d.machine.State() == switcher.Open {
			_, err = d.commit(ctx)
		}
	case input.GestureCancel:
		d.cancel()
	case input.GestureShow:
		_, err = d.show(ctx)
	}
	if err != nil {
		d.log.Warn().Err(err).Stringer("gesture", g).Msg("Gesture failed")
	}
}

// cycle opens a session and takes the first step, or steps an open one.
// Control-plane sessions commit automatically once cycling pauses.
func (d *Daemon) cycle(ctx context.Context, dir switcher.Direction, from origin) (*switcher.Session, error) {
	var session *switcher.Session
	var listErr error

	if d.machine.State() == switcher.Idle {
		candidates, anchored, err := d.candidates(ctx)
		listErr = err
		session, err = d.machine.Start(candidates, anchored, dir)
		if err != nil {
			return nil, err
		}
		d.origin = from
		d.log.Debug().
			Str("session", session.ID).
			Int("candidates", len(session.Candidates)).
			Stringer("direction", dir).
			Msg("Session opened")
	} else {
		var err error
		session, err = d.machine.Step(dir)
		if err != nil {
			return nil, err
		}
	}

	if from == fromControl || d.origin == fromControl {
		d.armAutoCommit()
	}
	d.publish()
	return session, listErr
}

// show switches straight to the previously used window.
func (d *Daemon) show(ctx context.Context) (string, error) {
	_, listErr := d.cycle(ctx, switcher.Forward, fromControl)
	if d.machine.State() == switcher.Idle {
		return "", listErr
	}
	target, err := d.commit(ctx)
	if err == nil {
		err = listErr
	}
	return target, err
}

// commit closes the session and focuses the selected window. It never
// retries; the outcome arrives later as a focus event.
func (d *Daemon) commit(ctx context.Context) (string, error) {
	d.stopAutoCommit()
	target, ok, err := d.machine.Commit()
	d.publish()
	if err != nil {
		return "", err
	}
	if !ok {
		d.log.Debug().Msg("Commit with no candidates")
		return "nothing to switch to", nil
	}

	focusCtx, cancel := context.WithTimeout(ctx, d.opts.BackendTimeout)
	defer cancel()

	err = d.backend.FocusWindow(focusCtx, target.ID)
	switch {
	case err == nil:
		d.log.Debug().Stringer("window", target.ID).Str("title", target.Title).Msg("Focused window")
		return target.Title, nil
	case errors.Is(err, window.ErrUnknownWindow):
		d.log.Debug().Stringer("window", target.ID).Msg("Selected window closed before commit")
		return "window closed", nil
	default:
		return "", err
	}
}

func (d *Daemon) cancel() {
	d.stopAutoCommit()
	if err := d.machine.Cancel(); err == nil {
		d.log.Debug().Msg("Session cancelled")
		d.publish()
	}
}

// candidates takes a fresh snapshot, reconciles history with it and returns
// the windows in MRU order. If the backend is unreachable the list is empty
// and the error is returned alongside it.
func (d *Daemon) candidates(ctx context.Context) ([]window.Window, bool, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.opts.BackendTimeout)
	defer cancel()

	windows, err := d.backend.ListWindows(listCtx)
	if err != nil {
		d.log.Warn().Err(err).Msg("Window snapshot failed, opening empty session")
		return nil, false, err
	}

	d.history.Reconcile(windows)

	byID := make(map[window.ID]window.Window, len(windows))
	focused := false
	for _, w := range windows {
		byID[w.ID] = w
		if w.Focused {
			d.history.Touch(w.ID)
			focused = true
		}
	}

	// History is capped, so live windows it no longer remembers follow the
	// ranked ones in snapshot order.
	order := d.history.Order()
	out := make([]window.Window, 0, len(byID))
	for _, id := range order {
		if w, ok := byID[id]; ok {
			out = append(out, w)
			delete(byID, id)
		}
	}
	for _, w := range windows {
		if _, ok := byID[w.ID]; ok {
			out = append(out, w)
			delete(byID, w.ID)
		}
	}
	return out, focused, nil
}

func (d *Daemon) armAutoCommit() {
	if d.autoCommit == nil {
		d.autoCommit = time.NewTimer(d.opts.AutoCommitDelay)
		return
	}
	d.autoCommit.Reset(d.opts.AutoCommitDelay)
}

func (d *Daemon) stopAutoCommit() {
	if d.autoCommit != nil {
		d.autoCommit.Stop()
		d.autoCommit = nil
	}
}

func (d *Daemon) snapshot() api.SessionSnapshot {
	snap := api.SessionSnapshot{
		State:        string(d.machine.State()),
		Candidates:   []window.Window{},
		MRU:          d.history.Order(),
		Backend:      d.backend.Name(),
		BackendState: d.backend.State().String(),
		UpdatedAt:    time.Now(),
	}
	if s := d.machine.Session(); s != nil {
		snap.SessionID = s.ID
		snap.Index = s.Index
		snap.Steps = s.Steps
		snap.Candidates = s.Candidates
	}
	return snap
}

func (d *Daemon) publish() {
	if d.opts.Publisher != nil {
		d.opts.Publisher.Publish(d.snapshot())
	}
}

// onBackendFault runs on the manager goroutine.
func (d *Daemon) onBackendFault(err error) {
	if d.opts.Notifier == nil || d.faultNotified.Swap(true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	body := fmt.Sprintf("Lost connection to %s: %v", d.backend.Name(), err)
	if nerr := d.opts.Notifier.Notify(ctx, "Window switcher offline", body); nerr != nil {
		d.log.Debug().Err(nerr).Msg("Notification failed")
	}
}

func sessionResponse(s *switcher.Session) ipc.Response {
	if w, ok := s.Selected(); ok {
		return ipc.OK(fmt.Sprintf("%d/%d %s", s.Index+1, len(s.Candidates), w.Title))
	}
	return ipc.OK("no windows")
}

func failure(err error) ipc.Response {
	switch {
	case errors.Is(err, window.ErrBackendUnavailable):
		return ipc.Fail(ipc.ErrTagBackendUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return ipc.Fail(ipc.ErrTagTimeout, err.Error())
	default:
		return ipc.Fail(ipc.ErrTagInternal, err.Error())
	}
}
