// Package transcript accumulates partial speech fragments into discrete
// conversation turns. Fragments arrive interleaved from the upstream event
// stream; a turn-complete marker flushes whatever has accumulated.
package transcript

import (
	"strings"
	"sync"
)

// Role identifies the speaker of a transcript entry
type Role string

const (
	RoleUser Role = "USER"
	RoleAI   Role = "AI"
)

// Entry is one completed conversation turn fragment, append-only and ordered
// by completion time within a session.
type Entry struct {
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	TurnIndex int    `json:"turnIndex"`
}

// endPhrases are user utterances that end the call immediately
var endPhrases = []string{
	"통화 종료", "종료할게", "끝낼게", "그만하고 싶어",
	"그만할래", "그만할게", "끊을게", "끊어", "끊는다",
}

// ContainsEndPhrase reports whether the text contains a hang-up phrase
func ContainsEndPhrase(text string) bool {
	for _, phrase := range endPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

// TurnAggregator buffers partial USER and AI transcript fragments and flushes
// them as entries on turn completion. Safe for concurrent use.
type TurnAggregator struct {
	mu          sync.Mutex
	pendingUser strings.Builder
	pendingAI   strings.Builder
	entries     []Entry
	turnIndex   int
}

// NewTurnAggregator creates an empty aggregator
func NewTurnAggregator() *TurnAggregator {
	return &TurnAggregator{}
}

// OnUserFragment appends a partial user transcription. Returns true when the
// fragment contains an end phrase; the caller should terminate the session
// instead of waiting for a normal flush.
func (a *TurnAggregator) OnUserFragment(text string) (terminate bool) {
	if text == "" {
		return false
	}

	a.mu.Lock()
	a.pendingUser.WriteString(text)
	a.mu.Unlock()

	return ContainsEndPhrase(text)
}

// OnAIFragment appends a partial AI transcription
func (a *TurnAggregator) OnAIFragment(text string) {
	if text == "" {
		return
	}

	a.mu.Lock()
	a.pendingAI.WriteString(text)
	a.mu.Unlock()
}

// OnTurnComplete flushes the pending buffers, USER entry before AI entry.
// Blank or whitespace-only buffers are discarded, never appended; repeated
// calls with empty buffers are no-ops. Returns the entries emitted for this
// turn.
func (a *TurnAggregator) OnTurnComplete() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var flushed []Entry

	if text := strings.TrimSpace(a.pendingUser.String()); text != "" {
		flushed = append(flushed, Entry{Role: RoleUser, Text: text, TurnIndex: a.turnIndex})
	}
	a.pendingUser.Reset()

	if text := strings.TrimSpace(a.pendingAI.String()); text != "" {
		flushed = append(flushed, Entry{Role: RoleAI, Text: text, TurnIndex: a.turnIndex})
	}
	a.pendingAI.Reset()

	if len(flushed) == 0 {
		return nil
	}

	a.entries = append(a.entries, flushed...)
	a.turnIndex++
	return flushed
}

// Log returns a copy of all completed entries in completion order. Pending
// buffers are not included; fragments of an unfinished turn are discarded
// when the session ends.
func (a *TurnAggregator) Log() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}
