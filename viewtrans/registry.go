package viewtrans

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry holds one Session per tab.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

// Add registers s under its tab ID. A tab holds at most one session.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.TabID()]; ok {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.TabID())
	}
	r.sessions[s.TabID()] = s
	r.logger.Debug("viewtrans: tab registered", "tab", s.TabID())
	return nil
}

// Get returns the session of a tab.
func (r *Registry) Get(tabID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tabID]
	return s, ok
}

// Active reports whether the tab's session is Active.
func (r *Registry) Active(tabID string) bool {
	s, ok := r.Get(tabID)
	return ok && s.State() == Active
}

// Remove stops the tab's session and forgets it. Removing an unknown tab
// is a no-op.
func (r *Registry) Remove(ctx context.Context, tabID string) error {
	r.mu.Lock()
	s, ok := r.sessions[tabID]
	delete(r.sessions, tabID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.logger.Debug("viewtrans: tab removed", "tab", tabID)
	return s.Stop(ctx)
}

// Apply runs cmd against the tab's session.
func (r *Registry) Apply(ctx context.Context, tabID string, cmd Command) error {
	s, ok := r.Get(tabID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, tabID)
	}
	switch cmd.(type) {
	case StartTranslation:
		return s.Start(ctx)
	case StopTranslation:
		return s.Stop(ctx)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, cmd)
	}
}

// List returns the stats of every session, sorted by tab ID.
func (r *Registry) List() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Stats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Close stops every session and empties the registry.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// HandleCommand is the connectivity handler of ServiceCommand: payload is
// an Envelope, the response reports the resulting state.
func (r *Registry) HandleCommand(ctx context.Context, payload []byte) ([]byte, error) {
	tabID, cmd, err := DecodeCommand(payload)
	if err != nil {
		return nil, err
	}
	if err := r.Apply(ctx, tabID, cmd); err != nil {
		return nil, err
	}
	state := Idle
	if s, ok := r.Get(tabID); ok {
		state = s.State()
	}
	return json.Marshal(map[string]any{"tab_id": tabID, "state": state})
}
