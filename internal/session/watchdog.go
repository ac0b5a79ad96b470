package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// WatchdogConfig holds the tick interval and idle thresholds
type WatchdogConfig struct {
	Tick           time.Duration
	SilenceTimeout time.Duration // user silence before termination
	StallTimeout   time.Duration // upstream silence before recovery
}

// WatchdogHooks are the probes and actions the watchdog drives. It never
// touches session state directly.
type WatchdogHooks struct {
	SessionState     func() State
	LastUserActivity func() time.Time
	LastAiActivity   func() time.Time
	FirstTurnDone    func() bool
	OutboundPending  func() int
	Reconnect        func(ctx context.Context) error
	Terminate        func(reason string)
}

// Watchdog monitors one session's activity timestamps on a fixed tick. The
// user-silence timer is armed only after the opening prompt's turn has
// completed so a session waiting on its first response is never killed. The
// upstream-stall timer fires only while the outbound queue is empty; queued
// audio means data is still in flight and resets the stall clock instead.
type Watchdog struct {
	cfg    WatchdogConfig
	hooks  WatchdogHooks
	logger zerolog.Logger

	now         func() time.Time
	stallFloor  time.Time
	reconnected bool
}

// NewWatchdog creates a watchdog for one session
func NewWatchdog(cfg WatchdogConfig, hooks WatchdogHooks, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		cfg:    cfg,
		hooks:  hooks,
		logger: logger,
		now:    time.Now,
	}
}

// Run ticks until the session terminates or ctx is cancelled
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if w.step(ctx) {
				return nil
			}
		}
	}
}

// step runs one tick. Returns true when the watchdog is finished, either
// because it terminated the session or because the session is already past
// active (a session is never terminated twice).
func (w *Watchdog) step(ctx context.Context) (done bool) {
	if w.hooks.SessionState() != StateActive {
		return true
	}

	now := w.now()

	if w.hooks.FirstTurnDone() {
		if silence := now.Sub(w.hooks.LastUserActivity()); silence > w.cfg.SilenceTimeout {
			w.logger.Info().Dur("silence", silence).Msg("User silence threshold exceeded")
			w.hooks.Terminate("silence_timeout")
			return true
		}
	}

	if w.hooks.OutboundPending() > 0 {
		// Data still in flight; slow consumption is not a stall
		w.stallFloor = now
		return false
	}

	lastAi := w.hooks.LastAiActivity()
	if w.stallFloor.After(lastAi) {
		lastAi = w.stallFloor
	}

	if stall := now.Sub(lastAi); stall > w.cfg.StallTimeout {
		if w.reconnected {
			w.logger.Warn().Dur("stall", stall).Msg("Upstream stalled again after reconnect")
			w.hooks.Terminate("upstream_stall")
			return true
		}

		w.reconnected = true
		w.logger.Warn().Dur("stall", stall).Msg("Upstream stalled, attempting reconnect")
		if err := w.hooks.Reconnect(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Upstream reconnect failed")
			w.hooks.Terminate("upstream_stall")
			return true
		}
		w.stallFloor = w.now()
	}

	return false
}
