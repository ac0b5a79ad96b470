// Package diary turns a finished call transcript into a short diary entry
// and persists both to disk. Persistence is best-effort: a failure is logged
// and dropped, never surfaced to the disconnecting caller.
package diary

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/harudiary/voice-gateway/internal/transcript"
)

const summaryPrompt = `아래 대화 내용을 바탕으로 오늘의 일기를 3~5문장으로 작성해줘.
각 문장은 새로운 줄에 작성해줘.

%s
`

// Summarizer generates free-text diary entries from an ordered transcript
type Summarizer interface {
	Summarize(ctx context.Context, entries []transcript.Entry) (string, error)
}

// GeminiSummarizer generates diary entries with a Gemini text model
type GeminiSummarizer struct {
	client *genai.Client
	model  string
}

// NewGeminiSummarizer creates a summarizer on a shared Gemini client
func NewGeminiSummarizer(client *genai.Client, model string) *GeminiSummarizer {
	return &GeminiSummarizer{client: client, model: model}
}

// Summarize renders the transcript as "ROLE: text" lines and asks the model
// for a 3-5 sentence diary entry
func (s *GeminiSummarizer) Summarize(ctx context.Context, entries []transcript.Entry) (string, error) {
	prompt := fmt.Sprintf(summaryPrompt, FormatHistory(entries))

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("generate diary summary: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("generate diary summary: empty response")
	}

	return FormatSummary(text), nil
}

// FormatHistory renders transcript entries as one "ROLE: text" line each
func FormatHistory(entries []transcript.Entry) string {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Role, e.Text))
	}
	return strings.Join(lines, "\n")
}

// FormatSummary puts each sentence on its own line and ensures a closing
// period
func FormatSummary(text string) string {
	text = strings.TrimSpace(text)
	formatted := strings.Join(strings.Split(text, ". "), ".\n")
	if !strings.HasSuffix(formatted, ".") {
		formatted += "."
	}
	return formatted
}
