package window

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// streamRun is one scripted WatchFocus call: the focus ids it reports and
// the state and error it ends with.
type streamRun struct {
	ids   []ID
	end   ConnState
	err   error
	block bool
}

type scriptedBackend struct {
	state connState

	mu    sync.Mutex
	runs  []streamRun
	calls int
}

func (b *scriptedBackend) ListWindows(context.Context) ([]Window, error) { return nil, nil }
func (b *scriptedBackend) FocusWindow(context.Context, ID) error         { return nil }
func (b *scriptedBackend) State() ConnState                              { return b.state.get() }
func (b *scriptedBackend) Close() error                                  { return nil }
func (b *scriptedBackend) Name() string                                  { return "scripted" }

func (b *scriptedBackend) WatchFocus(ctx context.Context, callback func(ID)) error {
	b.mu.Lock()
	b.calls++
	run := streamRun{block: true}
	if len(b.runs) > 0 {
		run, b.runs = b.runs[0], b.runs[1:]
	}
	b.mu.Unlock()

	b.state.set(Connected)
	for _, id := range run.ids {
		callback(id)
	}
	if run.block {
		<-ctx.Done()
		b.state.set(Disconnected)
		return ctx.Err()
	}
	b.state.set(run.end)
	return run.err
}

func (b *scriptedBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func runManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestManagerForwardsFocusToSubscribers(t *testing.T) {
	b := &scriptedBackend{runs: []streamRun{{ids: []ID{1, 2, 3}, block: true}}}
	m := NewManager(b, time.Millisecond, 10*time.Millisecond)
	first := m.Subscribe()
	second := m.Subscribe()
	runManager(t, m)

	for _, ch := range []chan ID{first, second} {
		for _, want := range []ID{1, 2, 3} {
			expectID(t, ch, want)
		}
	}
}

func TestManagerReconnectsAfterStreamEnds(t *testing.T) {
	b := &scriptedBackend{runs: []streamRun{
		{ids: []ID{1}, end: Disconnected, err: ErrBackendUnavailable},
		{end: Faulted, err: &ProtocolError{Backend: "scripted", Message: "bad"}},
		{ids: []ID{2}, block: true},
	}}
	m := NewManager(b, time.Millisecond, 5*time.Millisecond)
	ch := m.Subscribe()
	runManager(t, m)

	expectID(t, ch, 1)
	expectID(t, ch, 2)
	if got := b.callCount(); got != 3 {
		t.Errorf("WatchFocus called %d times, want 3", got)
	}
}

func TestManagerReportsFaults(t *testing.T) {
	faultErr := &ProtocolError{Backend: "scripted", Message: "bad"}
	b := &scriptedBackend{runs: []streamRun{
		{end: Disconnected, err: ErrBackendUnavailable},
		{end: Faulted, err: faultErr},
	}}
	m := NewManager(b, time.Millisecond, 5*time.Millisecond)

	faults := make(chan error, 4)
	m.OnFault(func(err error) { faults <- err })
	runManager(t, m)

	select {
	case err := <-faults:
		if !errors.Is(err, faultErr) {
			t.Errorf("fault = %v, want %v", err, faultErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fault was not reported")
	}
	select {
	case err := <-faults:
		t.Errorf("unexpected second fault: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManagerUnsubscribeCloses(t *testing.T) {
	m := NewManager(&scriptedBackend{}, 0, 0)
	ch := m.Subscribe()
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if m.minDelay != DefaultReconnectMinDelay || m.maxDelay != DefaultReconnectMinDelay {
		t.Errorf("delays = %s/%s", m.minDelay, m.maxDelay)
	}
}

func TestManagerWaitConnected(t *testing.T) {
	b := &scriptedBackend{}
	m := NewManager(b, time.Millisecond, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := m.WaitConnected(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("WaitConnected() before Run = %v, want ErrBackendUnavailable", err)
	}

	runManager(t, m)
	ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.WaitConnected(ctx); err != nil {
		t.Fatalf("WaitConnected() = %v", err)
	}
}
