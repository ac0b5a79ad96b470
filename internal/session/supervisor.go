// Package session owns the lifecycle of one client call: the duplex relay
// between a connected client and its upstream speech session, the transcript
// of their exchange, and the watchdogs that end it.
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/harudiary/voice-gateway/internal/audio"
	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/resilience"
	"github.com/harudiary/voice-gateway/internal/transcript"
	"github.com/harudiary/voice-gateway/internal/upstream"
)

// State is the lifecycle flag of a session
type State int32

const (
	StateStarting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrSessionClosed is returned when audio is pushed at a session that has
// left the active state
var ErrSessionClosed = errors.New("session: not active")

// SupervisorConfig wires one session's collaborators
type SupervisorConfig struct {
	ID     string
	Dialer upstream.Dialer
	Voice  upstream.VoiceConfig
	Bridge *audio.Bridge

	// Sink delivers outbound audio frames to the client connection. It is
	// called from exactly one goroutine.
	Sink func(frame []byte) error

	Watchdog  WatchdogConfig
	Reconnect *resilience.ReconnectConfig
	StopGrace time.Duration
	Logger    zerolog.Logger
	Metrics   *observability.SessionMetrics
}

// Supervisor owns one session: its upstream connection, its bridge queues,
// its transcript, and every goroutine spawned on its behalf. No spawned
// goroutine outlives its supervisor.
type Supervisor struct {
	id           string
	dialer       upstream.Dialer
	voice        upstream.VoiceConfig
	bridge       *audio.Bridge
	sink         func(frame []byte) error
	agg          *transcript.TurnAggregator
	wcfg         WatchdogConfig
	reconnectCfg *resilience.ReconnectConfig
	stopGrace    time.Duration
	logger       zerolog.Logger
	metrics      *observability.SessionMetrics

	mu         sync.Mutex
	state      State
	began      bool // reached active at least once
	sess       upstream.Session
	cancel     context.CancelFunc
	stopReason string

	group *errgroup.Group
	gctx  context.Context

	closed    chan struct{}
	closeOnce sync.Once

	lastUser      atomic.Int64 // unix nanos
	lastAi        atomic.Int64
	firstTurnDone atomic.Bool
}

// NewSupervisor creates a session supervisor in the starting state
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	return &Supervisor{
		id:           cfg.ID,
		dialer:       cfg.Dialer,
		voice:        cfg.Voice,
		bridge:       cfg.Bridge,
		sink:         cfg.Sink,
		agg:          transcript.NewTurnAggregator(),
		wcfg:         cfg.Watchdog,
		reconnectCfg: cfg.Reconnect,
		stopGrace:    cfg.StopGrace,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		state:        StateStarting,
		closed:       make(chan struct{}),
	}
}

// ID returns the session identifier
func (s *Supervisor) ID() string { return s.id }

// State returns the current lifecycle flag
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has reached the closed state
func (s *Supervisor) Done() <-chan struct{} { return s.closed }

// Transcript returns the completed turns in completion order
func (s *Supervisor) Transcript() []transcript.Entry { return s.agg.Log() }

// Start dials the upstream session, which includes the first-turn request,
// then spawns the session's goroutines. The session counts as active only
// once Start returns nil.
func (s *Supervisor) Start(ctx context.Context) error {
	sess, err := s.dialer.Dial(s.voice)
	if err != nil {
		s.markClosed()
		return err
	}

	now := time.Now().UnixNano()
	s.lastUser.Store(now)
	s.lastAi.Store(now)

	// Activities are owned by the session, not the connect request
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.state != StateStarting {
		// A concurrent Stop won the race during the handshake; the session
		// must not be resurrected
		s.mu.Unlock()
		cancel()
		_ = sess.Close()
		s.markClosed()
		return ErrSessionClosed
	}
	s.sess = sess
	s.cancel = cancel
	s.state = StateActive
	s.began = true
	s.mu.Unlock()

	s.metrics.RecordSessionStart()
	s.logger.Info().Str("voice", s.voice.Voice).Msg("Session active")

	s.group, s.gctx = errgroup.WithContext(runCtx)

	wd := NewWatchdog(s.wcfg, WatchdogHooks{
		SessionState:     s.State,
		LastUserActivity: func() time.Time { return time.Unix(0, s.lastUser.Load()) },
		LastAiActivity:   func() time.Time { return time.Unix(0, s.lastAi.Load()) },
		FirstTurnDone:    s.firstTurnDone.Load,
		OutboundPending:  s.bridge.FromUpstream.Len,
		Reconnect:        s.reconnectUpstream,
		Terminate:        func(reason string) { s.beginStop(reason) },
	}, s.logger)

	s.spawn("inbound-forwarder", "upstream_error", s.forwardInbound)
	s.spawn("upstream-receiver", "upstream_error", s.receiveUpstream)
	s.spawn("outbound-forwarder", "client_write_error", s.forwardOutbound)
	s.spawn("watchdog", "watchdog_error", wd.Run)

	go s.monitor()

	return nil
}

// spawn runs an activity under the session's task group. A failure in any
// activity stops the whole session rather than silently ending one loop.
func (s *Supervisor) spawn(name, failReason string, fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		err := fn(s.gctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, audio.ErrQueueClosed) {
			s.logger.Error().Err(err).Str("activity", name).Msg("Session activity failed")
			s.metrics.RecordError(failReason, "session")
			s.beginStop(failReason)
		}
		return nil
	})
}

// monitor joins all activities and finishes teardown
func (s *Supervisor) monitor() {
	_ = s.group.Wait()
	s.beginStop("activities_done")
	s.markClosed()
}

// Stop drives the session to closed and waits, bounded by the stop grace,
// for every owned goroutine to finish. Idempotent and safe to call
// concurrently from any trigger; every caller returns only once the session
// is closed.
func (s *Supervisor) Stop(reason string) {
	s.beginStop(reason)

	select {
	case <-s.closed:
	case <-time.After(s.stopGrace):
		s.logger.Warn().Str("reason", reason).Msg("Teardown grace exceeded, abandoning stragglers")
		s.markClosed()
	}
}

// beginStop performs the teardown effects exactly once: it flips the
// lifecycle to closing, cancels the task group, and force-closes the bridge
// and the upstream connection so every blocked activity wakes. It never
// waits, so an activity may call it about itself without deadlocking.
func (s *Supervisor) beginStop(reason string) {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.stopReason = reason
	sess := s.sess
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info().Str("reason", reason).Msg("Session closing")

	if cancel != nil {
		cancel()
	}
	s.bridge.Close()
	if sess != nil {
		if err := sess.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Upstream close failed")
		}
	}
}

func (s *Supervisor) markClosed() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		began := s.began
		s.state = StateClosed
		reason := s.stopReason
		sess := s.sess
		s.sess = nil
		s.mu.Unlock()

		s.bridge.Close()
		if sess != nil {
			_ = sess.Close()
		}

		// End metrics only for sessions that actually reached active, so a
		// start that lost to an early Stop never skews the gauges
		if began {
			s.metrics.RecordSessionEnd(reason)
			s.logger.Info().Str("reason", reason).Msg("Session closed")
		}
		close(s.closed)
	})
}

// PushAudio queues one client audio frame for the upstream sender. Blocks
// while the inbound queue is full, applying backpressure to the caller's
// read loop. Returns ErrSessionClosed once the session has left active.
func (s *Supervisor) PushAudio(ctx context.Context, frame []byte) error {
	if s.State() != StateActive {
		return ErrSessionClosed
	}

	if err := s.bridge.ToUpstream.Push(ctx, frame); err != nil {
		if errors.Is(err, audio.ErrQueueClosed) {
			return ErrSessionClosed
		}
		return err
	}
	return nil
}

// upstreamSession returns the current upstream connection, which the
// watchdog's reconnect may swap mid-session
func (s *Supervisor) upstreamSession() upstream.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// forwardInbound consumes the inbound queue and relays frames upstream in
// push order
func (s *Supervisor) forwardInbound(ctx context.Context) error {
	for {
		frame, err := s.bridge.ToUpstream.Pop(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if s.State() != StateActive {
			return nil
		}
		sess := s.upstreamSession()
		if sess == nil {
			return nil
		}

		if err := sess.SendAudio(frame); err != nil {
			if s.State() != StateActive {
				return nil
			}
			if s.upstreamSession() != sess {
				// Connection swapped by a reconnect mid-send; the frame is
				// lost but ordering on the new connection is preserved
				continue
			}
			return err
		}

		s.metrics.RecordAudioBytes("in", int64(len(frame)))
	}
}

// receiveUpstream consumes the upstream event stream, feeding the turn
// aggregator and the outbound queue
func (s *Supervisor) receiveUpstream(ctx context.Context) error {
	for {
		sess := s.upstreamSession()
		if sess == nil {
			return nil
		}

		ev, err := sess.Recv()
		if err != nil {
			if s.State() != StateActive {
				return nil
			}
			if s.upstreamSession() != sess {
				// Old connection closed by a reconnect; resume on the new one
				continue
			}
			if errors.Is(err, io.EOF) {
				s.beginStop("upstream_eof")
				return nil
			}
			return err
		}

		s.handleEvent(ev)

		if s.State() != StateActive {
			return nil
		}
	}
}

func (s *Supervisor) handleEvent(ev upstream.Event) {
	now := time.Now().UnixNano()

	if ev.UserText != "" {
		s.lastUser.Store(now)
		if s.agg.OnUserFragment(ev.UserText) {
			s.logger.Info().Msg("End phrase detected in user speech")
			s.beginStop("end_phrase")
			return
		}
	}

	if ev.AiText != "" {
		s.lastAi.Store(now)
		s.agg.OnAIFragment(ev.AiText)
	}

	if len(ev.Audio) > 0 {
		s.lastAi.Store(now)
		if s.State() == StateActive {
			dropped, err := s.bridge.ForwardOut(ev.Audio)
			s.metrics.RecordDroppedFrames("from_upstream", dropped)
			if err == nil {
				s.metrics.RecordAudioBytes("out", int64(len(ev.Audio)))
			}
		}
	}

	if ev.TurnComplete {
		for _, entry := range s.agg.OnTurnComplete() {
			s.metrics.RecordTurn(string(entry.Role))
		}
		if !s.firstTurnDone.Swap(true) {
			// The silence clock starts counting from the end of the opening
			// prompt, not from connection time
			s.lastUser.Store(now)
		}
	}
}

// forwardOutbound consumes the outbound queue and writes frames to the
// client. It is the session's single writer toward the client connection.
func (s *Supervisor) forwardOutbound(ctx context.Context) error {
	for {
		frame, err := s.bridge.FromUpstream.Pop(ctx)
		if err != nil {
			if errors.Is(err, audio.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if s.State() != StateActive {
			return nil
		}

		if err := s.sink(frame); err != nil {
			if s.State() != StateActive {
				return nil
			}
			return err
		}
	}
}

// reconnectUpstream replaces the upstream connection in place. Called by the
// watchdog's stall recovery; bounded by the configured attempt policy.
func (s *Supervisor) reconnectUpstream(ctx context.Context) error {
	err := resilience.Reconnect(ctx, s.logger, func() error {
		next, dialErr := s.dialer.Dial(s.voice)
		if dialErr != nil {
			return dialErr
		}

		s.mu.Lock()
		if s.state != StateActive {
			s.mu.Unlock()
			_ = next.Close()
			return errors.New("session no longer active")
		}
		old := s.sess
		s.sess = next
		s.mu.Unlock()

		if old != nil {
			_ = old.Close()
		}
		return nil
	}, s.reconnectCfg)

	s.metrics.RecordReconnect(err == nil)
	if err == nil {
		s.lastAi.Store(time.Now().UnixNano())
	}
	return err
}
