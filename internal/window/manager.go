package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bryanchriswhite/witcher/internal/logger"
)

// Default reconnect backoff bounds
const (
	DefaultReconnectMinDelay = 250 * time.Millisecond
	DefaultReconnectMaxDelay = 10 * time.Second
)

// Manager keeps a backend's focus event stream connected and forwards focus
// changes to subscribers. Reconnects use exponential backoff between the
// configured bounds.
type Manager struct {
	backend   Backend
	minDelay  time.Duration
	maxDelay  time.Duration
	mu        sync.RWMutex
	listeners []chan ID
	onFault   func(error)
}

// NewManager creates a new manager for the given backend
func NewManager(backend Backend, minDelay, maxDelay time.Duration) *Manager {
	if minDelay <= 0 {
		minDelay = DefaultReconnectMinDelay
	}
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Manager{
		backend:   backend,
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		listeners: make([]chan ID, 0),
	}
}

// Backend returns the managed backend
func (m *Manager) Backend() Backend {
	return m.backend
}

// OnFault registers a function called whenever the stream ends in the
// Faulted state. It runs on the manager's goroutine.
func (m *Manager) OnFault(fn func(error)) {
	m.mu.Lock()
	m.onFault = fn
	m.mu.Unlock()
}

// Run watches focus until ctx is cancelled, reconnecting as needed.
func (m *Manager) Run(ctx context.Context) error {
	log := logger.WithComponent("backend-manager").With().Str("backend", m.backend.Name()).Logger()

	delay := m.minDelay
	for {
		started := time.Now()
		delivered := false
		err := m.backend.WatchFocus(ctx, func(id ID) {
			delivered = true
			m.notifyListeners(ctx, id)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that worked for a while starts the backoff over.
		if delivered || time.Since(started) >= m.maxDelay {
			delay = m.minDelay
		}

		state := m.backend.State()
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("Malformed message from compositor, reconnecting")
		} else {
			log.Warn().Err(err).Str("state", state.String()).Dur("retry_in", delay).Msg("Backend event stream ended")
		}
		if state == Faulted {
			m.reportFault(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > m.maxDelay {
			delay = m.maxDelay
		}
	}
}

// WaitConnected blocks until the backend reports Connected or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.backend.State() == Connected {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", m.backend.Name(), ErrBackendUnavailable)
		case <-ticker.C:
		}
	}
}

// Subscribe adds a listener for focus changes
func (m *Manager) Subscribe() chan ID {
	ch := make(chan ID, 64)
	m.mu.Lock()
	m.listeners = append(m.listeners, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener
func (m *Manager) Unsubscribe(ch chan ID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, listener := range m.listeners {
		if listener == ch {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// notifyListeners delivers a focus change to every listener. Focus events
// must not be dropped, so this blocks until each listener accepts or ctx ends.
func (m *Manager) notifyListeners(ctx context.Context, id ID) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, listener := range m.listeners {
		select {
		case listener <- id:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) reportFault(err error) {
	m.mu.RLock()
	fn := m.onFault
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}
