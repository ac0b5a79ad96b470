package upstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	// Sample encodings fixed by the mobile client and the Live API
	inputMimeType = "audio/pcm;rate=16000"

	languageCode = "ko-KR"

	closeGrace = 3 * time.Second
)

// systemInstruction steers the model as a diary-writing companion
const systemInstruction = "너는 오늘 하루 일기 작성을 돕는 대화 도우미야." +
	"사용자에게 오늘 어떤 일이 있었는지, 기분은 어땠는지, 기억에 남는 일은 무엇이었는지 자연스럽고 친근하게 차근차근 하나씩 질문해줘." +
	"일기 작성에 도움이 될 만한 질문을 이어가고, 한 번에 질문은 하나씩만 해." +
	"사용자의 대답에는 공감도 표현하기도 하고, 답변 내용에 맞는 질문도 해줘." +
	"그리고 답변은 한 문장 이내로 자연스럽게 해줘. 질문이나 답변이 끊기지 않았으면 좋겠어."

// firstTurnPrompt asks the model to open the conversation
const firstTurnPrompt = "오늘 하루 일기를 작성할 수 있도록 간단한 질문을 먼저 해줘. 첫 질문은 오늘 하루는 어떠셨나요? 같은 질문이면 좋겠어."

// GeminiDialer establishes Gemini Live sessions
type GeminiDialer struct {
	client *genai.Client
	model  string
}

// NewGeminiDialer creates a dialer on a shared Gemini client
func NewGeminiDialer(client *genai.Client, model string) *GeminiDialer {
	return &GeminiDialer{client: client, model: model}
}

// Dial opens a Live session with the selected voice and issues the first-turn
// request. Any failure before both steps complete is a *ConnectError.
func (d *GeminiDialer) Dial(cfg VoiceConfig) (Session, error) {
	connectConfig := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: languageCode,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: cfg.Voice,
				},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	live, err := d.client.Live.Connect(ctx, d.model, connectConfig)
	if err != nil {
		return nil, &ConnectError{Err: err}
	}

	if err := live.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: firstTurnPrompt}},
		}},
		TurnComplete: genai.Ptr(true),
	}); err != nil {
		_ = live.Close()
		return nil, &ConnectError{Err: err}
	}

	return &geminiSession{live: live}, nil
}

// geminiSession adapts a genai Live session to the Session contract
type geminiSession struct {
	live *genai.Session

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func (s *geminiSession) SendAudio(frame []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return &TransportError{Op: "send", Err: errors.New("session closed")}
	}

	if err := s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: frame, MIMEType: inputMimeType},
	}); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

func (s *geminiSession) Recv() (Event, error) {
	msg, err := s.live.Receive()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Event{}, io.EOF
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			// Local close races the read loop; report stream end, not failure
			return Event{}, io.EOF
		}
		return Event{}, &TransportError{Op: "recv", Err: err}
	}

	return toEvent(msg), nil
}

// toEvent flattens a Live server message into the tagged event variant.
// Multiple fields may be populated from one message.
func toEvent(msg *genai.LiveServerMessage) Event {
	var ev Event

	sc := msg.ServerContent
	if sc == nil {
		return ev
	}

	if sc.InputTranscription != nil {
		ev.UserText = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		ev.AiText = sc.OutputTranscription.Text
	}
	ev.TurnComplete = sc.TurnComplete

	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				ev.Audio = part.InlineData.Data
				break
			}
		}
	}

	return ev
}

func (s *geminiSession) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		done := make(chan error, 1)
		go func() { done <- s.live.Close() }()
		select {
		case err := <-done:
			s.closeErr = err
		case <-time.After(closeGrace):
			s.closeErr = errors.New("upstream close: grace period exceeded")
		}
	})
	return s.closeErr
}
