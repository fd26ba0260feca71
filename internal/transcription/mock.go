package transcription

import (
	"context"
	"strings"
)

// Mock returns a fixed two-speaker exchange. It is selected when no
// transcription key is configured.
type Mock struct {
	Lines []string
}

var defaultMockLines = []string{
	"お電話ありがとうございます。サポートセンターの佐藤でございます。",
	"先日購入した商品の使い方について確認したいのですが。",
	"承知いたしました。ご購入いただいた商品名を教えていただけますか。",
	"ありがとうございました。",
}

func (m Mock) Transcribe(ctx context.Context, audio []byte, filename, language string) (Transcript, error) {
	lines := m.Lines
	if len(lines) == 0 {
		lines = defaultMockLines
	}
	segs := make([]Segment, 0, len(lines))
	for i, l := range lines {
		segs = append(segs, Segment{ID: i, Start: float64(i * 5), End: float64(i*5 + 4), Text: l})
	}
	if language == "" {
		language = "ja"
	}
	return Transcript{
		Text:     strings.Join(lines, ""),
		Segments: segs,
		Language: language,
		Duration: float64(len(lines) * 5),
	}, nil
}

func (m Mock) Translate(ctx context.Context, audio []byte, filename string) (Transcript, error) {
	t, err := m.Transcribe(ctx, audio, filename, "en")
	t.Language = "en"
	return t, err
}
