package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harudiary/voice-gateway/internal/transcript"
)

var (
	// ErrDuplicateSession is returned when a session id is already registered
	ErrDuplicateSession = errors.New("session: duplicate session id")

	// ErrShuttingDown is returned for connects arriving after shutdown began
	ErrShuttingDown = errors.New("session: registry shutting down")
)

// Persister receives a finished session's transcript. Persistence failures
// must not block teardown, so Save reports nothing back.
type Persister interface {
	Save(ctx context.Context, sessionID string, entries []transcript.Entry)
}

// Registry tracks every live session and serializes connects and
// disconnects so overlapping lifecycle operations on the same id cannot
// interleave.
type Registry struct {
	opMu sync.Mutex // serializes connect/disconnect bodies

	mu           sync.Mutex // guards the map and the shutdown flag
	sessions     map[string]*Supervisor
	shuttingDown bool

	wg     sync.WaitGroup
	diary  Persister
	logger zerolog.Logger
}

// NewRegistry creates an empty session registry
func NewRegistry(diary Persister, logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Supervisor),
		diary:    diary,
		logger:   logger,
	}
}

// Count returns the number of registered sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Connect registers the supervisor and starts it. On a duplicate id the
// existing session is left untouched. On a start failure the registration
// is rolled back, leaving no trace of the attempt.
func (r *Registry) Connect(ctx context.Context, sup *Supervisor) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	if r.shuttingDown {
		r.mu.Unlock()
		return ErrShuttingDown
	}
	if _, exists := r.sessions[sup.ID()]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	r.sessions[sup.ID()] = sup
	r.wg.Add(1)
	r.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.sessions, sup.ID())
		r.mu.Unlock()
		r.wg.Done()
		return err
	}

	r.logger.Info().Str("sessionId", sup.ID()).Int("active", r.Count()).Msg("Session registered")
	return nil
}

// Disconnect stops the session, persists its transcript, and removes it.
// Unknown ids are a no-op: the session may already have been torn down by
// another trigger.
func (r *Registry) Disconnect(ctx context.Context, sessionID, reason string) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	r.mu.Lock()
	sup, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		r.logger.Debug().Str("sessionId", sessionID).Msg("Disconnect for unknown session")
		return
	}

	sup.Stop(reason)

	if r.diary != nil {
		r.diary.Save(ctx, sessionID, sup.Transcript())
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.wg.Done()

	r.logger.Info().Str("sessionId", sessionID).Str("reason", reason).Msg("Session deregistered")
}

// BroadcastShutdown refuses new connects, tears down every live session,
// and waits for all of them, bounded by the caller's context
func (r *Registry) BroadcastShutdown(ctx context.Context) {
	r.mu.Lock()
	r.shuttingDown = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	r.logger.Info().Int("sessions", len(ids)).Msg("Shutting down all sessions")

	for _, id := range ids {
		go r.Disconnect(ctx, id, "server_shutdown")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info().Msg("All sessions closed")
	case <-ctx.Done():
		r.logger.Warn().Int("remaining", r.Count()).Msg("Shutdown deadline reached with sessions still open")
	}
}
