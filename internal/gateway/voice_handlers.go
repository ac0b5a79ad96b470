package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/harudiary/voice-gateway/internal/auth"
	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/voice"
)

// VoiceHandler serves the voice catalog and per-user voice selection.
// Requests log under a fresh correlation id; there is no session to tie to.
type VoiceHandler struct {
	auth   *auth.Validator
	voices *voice.Store
}

// NewVoiceHandler creates the voice selection handler
func NewVoiceHandler(validator *auth.Validator, voices *voice.Store) *VoiceHandler {
	return &VoiceHandler{
		auth:   validator,
		voices: voices,
	}
}

type selectVoiceRequest struct {
	Voice string `json:"voice"`
}

// HandleVoices lists the available voices keyed by their menu number
func (h *VoiceHandler) HandleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	if _, err := h.auth.Validate(r.Header.Get("Authorization")); err != nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	writeJSON(w, http.StatusOK, voice.Voices)
}

// HandleSelectVoice stores the caller's voice preference for later sessions
func (h *VoiceHandler) HandleSelectVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	logger := observability.WithCorrelationID(observability.NewCorrelationID())

	userID, err := h.auth.Validate(r.Header.Get("Authorization"))
	if err != nil {
		logger.Warn().Err(err).Msg("Voice selection auth rejected")
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req selectVoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Voice == "" {
		writeError(w, http.StatusBadRequest, "voice는 필수입니다.")
		return
	}
	if !voice.IsSupported(req.Voice) {
		writeError(w, http.StatusBadRequest, "지원하지 않는 voice입니다.")
		return
	}

	h.voices.Set(userID, req.Voice)
	logger.Info().Str("userId", userID).Str("voice", req.Voice).Msg("Voice preference updated")

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": fmt.Sprintf("음성이 %s로 변경되었습니다.", req.Voice),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
