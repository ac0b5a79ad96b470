// Package voice holds the fixed set of supported Gemini voices and the
// per-user voice selection store.
package voice

import "sync"

// Voices is the fixed numbered set exposed to clients
var Voices = map[string]string{
	"1": "Aoede",
	"2": "Puck",
	"3": "Charon",
	"4": "Kore",
	"5": "Fenrir",
	"6": "Leda",
	"7": "Orus",
	"8": "Zephyr",
}

// IsSupported reports whether name is one of the fixed voices
func IsSupported(name string) bool {
	for _, v := range Voices {
		if v == name {
			return true
		}
	}
	return false
}

// Store maps user identities to their selected voice. Process-wide, no
// expiry, last write wins.
type Store struct {
	mu       sync.RWMutex
	byUser   map[string]string
	fallback string
}

// NewStore creates a store returning fallback for users without a selection
func NewStore(fallback string) *Store {
	return &Store{
		byUser:   make(map[string]string),
		fallback: fallback,
	}
}

// Set records the voice for a user
func (s *Store) Set(userID, voice string) {
	s.mu.Lock()
	s.byUser[userID] = voice
	s.mu.Unlock()
}

// Get returns the user's selected voice, or the fallback
func (s *Store) Get(userID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.byUser[userID]; ok {
		return v
	}
	return s.fallback
}
