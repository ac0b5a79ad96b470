package diary

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harudiary/voice-gateway/internal/observability"
	"github.com/harudiary/voice-gateway/internal/resilience"
	"github.com/harudiary/voice-gateway/internal/transcript"
)

// Store persists finished transcripts and their diary summaries to the data
// directory. Summary generation goes through a retry and a circuit breaker so
// a degraded model endpoint cannot pile up blocked disconnects.
type Store struct {
	dir        string
	summarizer Summarizer
	retry      *resilience.RetryConfig
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
	now        func() time.Time
}

// StoreConfig configures a Store
type StoreConfig struct {
	Dir        string
	Summarizer Summarizer
	Retry      *resilience.RetryConfig
	Breaker    *resilience.CircuitBreaker
	Logger     zerolog.Logger
}

// NewStore creates a store writing under cfg.Dir
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		dir:        cfg.Dir,
		summarizer: cfg.Summarizer,
		retry:      cfg.Retry,
		breaker:    cfg.Breaker,
		logger:     cfg.Logger,
		now:        time.Now,
	}
}

// Save writes the transcript JSON and a generated diary summary for one
// session. Best-effort: every failure is logged and swallowed.
func (s *Store) Save(ctx context.Context, sessionID string, entries []transcript.Entry) {
	if len(entries) == 0 {
		s.logger.Debug().Str("session_id", sessionID).Msg("Empty transcript, nothing to persist")
		return
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Error().Err(err).Str("dir", s.dir).Msg("Failed to create data directory")
		return
	}

	if err := s.writeTranscript(sessionID, entries); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist transcript")
	}

	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSummaryStart()
	summary, err := s.summarize(ctx, entries)
	metrics.RecordSummaryEnd(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to generate diary summary")
		return
	}

	if err := s.writeSummary(summary); err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist diary summary")
		return
	}

	s.logger.Info().Str("session_id", sessionID).Int("turns", len(entries)).Msg("Diary persisted")
}

func (s *Store) summarize(ctx context.Context, entries []transcript.Entry) (string, error) {
	var summary string

	call := func() error {
		return resilience.Retry(func() error {
			var err error
			summary, err = s.summarizer.Summarize(ctx, entries)
			return err
		}, s.retry, nil)
	}

	if s.breaker != nil {
		err := s.breaker.Call(call)
		observability.UpdateCircuitBreakerState(s.breaker.Name(), int(s.breaker.GetState()))
		if err != nil {
			return "", err
		}
		return summary, nil
	}

	if err := call(); err != nil {
		return "", err
	}
	return summary, nil
}

func (s *Store) writeTranscript(sessionID string, entries []transcript.Entry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("conversation_%s.json", sessionID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return nil
}

func (s *Store) writeSummary(summary string) error {
	name := fmt.Sprintf("summary_%s.txt", s.now().Format("2006-01-02"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, []byte(summary), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
