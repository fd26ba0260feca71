package transcription

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Whisper transcribes through the OpenAI audio API.
type Whisper struct {
	Client *openai.Client
	Model  string
}

func NewWhisper(apiKey, baseURL, model string) *Whisper {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{Client: openai.NewClientWithConfig(config), Model: model}
}

func (w *Whisper) Transcribe(ctx context.Context, audio []byte, filename, language string) (Transcript, error) {
	resp, err := w.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:                  w.Model,
		FilePath:               audioName(filename),
		Reader:                 bytes.NewReader(audio),
		Language:               language,
		Format:                 openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{openai.TranscriptionTimestampGranularitySegment},
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper transcription: %w", err)
	}
	out := fromResponse(resp)
	if out.Language == "" {
		out.Language = "unknown"
	}
	return out, nil
}

func (w *Whisper) Translate(ctx context.Context, audio []byte, filename string) (Transcript, error) {
	resp, err := w.Client.CreateTranslation(ctx, openai.AudioRequest{
		Model:    w.Model,
		FilePath: audioName(filename),
		Reader:   bytes.NewReader(audio),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper translation: %w", err)
	}
	out := fromResponse(resp)
	out.Language = "en"
	return out, nil
}

func fromResponse(resp openai.AudioResponse) Transcript {
	segs := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, Segment{ID: s.ID, Start: s.Start, End: s.End, Text: s.Text})
	}
	return Transcript{
		Text:     resp.Text,
		Segments: normalizeSegments(segs),
		Language: resp.Language,
		Duration: resp.Duration,
	}
}

func audioName(filename string) string {
	if filename == "" {
		return "audio.mp3"
	}
	return filename
}
