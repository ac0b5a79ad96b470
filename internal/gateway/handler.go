// Package gateway is the HTTP/WebSocket surface of the voice diary service:
// the audio relay endpoint plus the voice selection endpoints.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harudiary/voice-gateway/internal/audio"
	"github.com/harudiary/voice-gateway/internal/auth"
	"github.com/harudiary/voice-gateway/internal/config"
	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/resilience"
	"github.com/harudiary/voice-gateway/internal/session"
	"github.com/harudiary/voice-gateway/internal/upstream"
	"github.com/harudiary/voice-gateway/internal/voice"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // clients connect from arbitrary app origins
	},
}

// Handler serves the /ws/audio relay endpoint
type Handler struct {
	cfg      *config.Config
	registry *session.Registry
	dialer   upstream.Dialer
	auth     *auth.Validator
	voices   *voice.Store
	logger   zerolog.Logger
}

// NewHandler creates the audio relay handler
func NewHandler(cfg *config.Config, registry *session.Registry, dialer upstream.Dialer, validator *auth.Validator, voices *voice.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		registry: registry,
		dialer:   dialer,
		auth:     validator,
		voices:   voices,
		logger:   logger,
	}
}

// HandleAudioWS upgrades the connection and relays audio for the lifetime
// of the session. Credentials are checked before the upgrade so rejected
// clients never cost a session allocation.
func (h *Handler) HandleAudioWS(w http.ResponseWriter, r *http.Request) {
	// Connection attempts have no session id yet; tag their logs with a
	// correlation id instead
	attemptLogger := observability.WithCorrelationID(observability.NewCorrelationID())

	token := r.URL.Query().Get("accessToken")
	userID, err := h.auth.Validate(token)
	if err != nil {
		attemptLogger.Warn().Err(err).Msg("WebSocket auth rejected")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	voiceName := r.URL.Query().Get("voice")
	if voiceName == "" {
		voiceName = h.voices.Get(userID)
	}
	if !voice.IsSupported(voiceName) {
		http.Error(w, "unsupported voice", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		attemptLogger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	sessionID := uuid.New().String()
	logger := observability.WithSession(sessionID)
	logger.Info().Str("userId", userID).Str("voice", voiceName).Msg("Audio session connecting")

	policy := audio.DropOldest
	if h.cfg.OutboundOverflow == config.OverflowBlock {
		policy = audio.BlockWithTimeout
	}

	sup := session.NewSupervisor(session.SupervisorConfig{
		ID:     sessionID,
		Dialer: h.dialer,
		Voice:  upstream.VoiceConfig{Voice: voiceName},
		Bridge: audio.NewBridge(audio.BridgeConfig{
			InboundCapacity:  h.cfg.InboundQueueSize,
			OutboundCapacity: h.cfg.OutboundQueueSize,
			Policy:           policy,
			Grace:            time.Duration(h.cfg.OutboundWaitMs) * time.Millisecond,
		}),
		Sink: func(frame []byte) error {
			return conn.WriteMessage(websocket.BinaryMessage, frame)
		},
		Watchdog: session.WatchdogConfig{
			Tick:           time.Duration(h.cfg.WatchdogTickMs) * time.Millisecond,
			SilenceTimeout: time.Duration(h.cfg.SilenceTimeoutSec) * time.Second,
			StallTimeout:   time.Duration(h.cfg.StallTimeoutSec) * time.Second,
		},
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: h.cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(h.cfg.ReconnectBackoffMs) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
		StopGrace: time.Duration(h.cfg.StopGraceSec) * time.Second,
		Logger:    logger,
		Metrics:   observability.NewSessionMetrics(sessionID),
	})

	if err := h.registry.Connect(r.Context(), sup); err != nil {
		logger.Error().Err(err).Msg("Session connect failed")
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		_ = conn.Close()
		return
	}

	// Whatever ends the session, the client connection goes down with it
	go func() {
		<-sup.Done()
		_ = conn.Close()
	}()

	defer h.registry.Disconnect(context.Background(), sessionID, "client_disconnect")

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		if err := sup.PushAudio(r.Context(), data); err != nil {
			if !errors.Is(err, session.ErrSessionClosed) {
				logger.Warn().Err(err).Msg("Audio push failed")
			}
			return
		}
	}
}
