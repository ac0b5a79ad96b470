package upstream

import (
	"testing"

	"google.golang.org/genai"
)

func TestToEvent_Empty(t *testing.T) {
	ev := toEvent(&genai.LiveServerMessage{})
	if ev.UserText != "" || ev.AiText != "" || ev.TurnComplete || ev.Audio != nil {
		t.Errorf("Expected zero event for message without server content, got %+v", ev)
	}
}

func TestToEvent_Transcriptions(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "오늘 좀 힘들었어"},
			OutputTranscription: &genai.Transcription{Text: "무슨 일이 있었나요?"},
		},
	}

	ev := toEvent(msg)
	if ev.UserText != "오늘 좀 힘들었어" {
		t.Errorf("Expected user text fragment, got '%s'", ev.UserText)
	}
	if ev.AiText != "무슨 일이 있었나요?" {
		t.Errorf("Expected AI text fragment, got '%s'", ev.AiText)
	}
	if ev.TurnComplete {
		t.Error("Expected TurnComplete false")
	}
}

func TestToEvent_AudioAndTurnCompleteCoOccur(t *testing.T) {
	audio := []byte{0x01, 0x02, 0x03}
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			TurnComplete: true,
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{
					{Text: "ignored"},
					{InlineData: &genai.Blob{Data: audio}},
				},
			},
		},
	}

	ev := toEvent(msg)
	if !ev.TurnComplete {
		t.Error("Expected TurnComplete true")
	}
	if string(ev.Audio) != string(audio) {
		t.Errorf("Expected audio chunk %v, got %v", audio, ev.Audio)
	}
}
