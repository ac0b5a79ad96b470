// Package upstream wraps the conversational speech backend behind a narrow
// duplex-streaming contract so the session layer never touches provider types.
package upstream

import "fmt"

// Event is one message received from the speech backend. Fields can co-occur:
// a single event may carry a transcript fragment and an audio chunk.
type Event struct {
	// UserText is a partial transcription of the user's speech
	UserText string

	// AiText is a partial transcription of the model's spoken reply
	AiText string

	// TurnComplete marks the end of one exchange unit
	TurnComplete bool

	// Audio is a raw PCM chunk of the model's spoken reply
	Audio []byte
}

// VoiceConfig selects the voice for a session
type VoiceConfig struct {
	// Voice is the prebuilt voice name (e.g. "Aoede")
	Voice string
}

// Session is a single duplex streaming connection to the speech backend.
// Recv is a finite sequence only at stream end and is not restartable;
// Close is idempotent and unblocks a pending Recv.
type Session interface {
	// SendAudio forwards one raw PCM frame. Fails with *TransportError once
	// the session is closed.
	SendAudio(frame []byte) error

	// Recv blocks for the next event. Returns io.EOF at normal stream end
	// and a *TransportError on mid-stream failure.
	Recv() (Event, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Dialer establishes new upstream sessions
type Dialer interface {
	// Dial opens a session and performs the opening handshake, including the
	// first-turn request. Fails with *ConnectError.
	Dial(cfg VoiceConfig) (Session, error)
}

// ConnectError indicates the upstream handshake failed; fatal to session start
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("upstream connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError indicates a mid-session I/O failure
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
