package transcription

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename, language string) (Transcript, error)
	// Translate transcribes into English whatever the spoken language is.
	Translate(ctx context.Context, audio []byte, filename string) (Transcript, error)
}

// normalizeSegments orders segments by start time and clips overlaps so each
// segment starts no earlier than the previous one ends.
func normalizeSegments(segs []Segment) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		if s.Start < 0 {
			s.Start = 0
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	for i := 1; i < len(out); i++ {
		if out[i].Start < out[i-1].End {
			out[i].Start = out[i-1].End
		}
		if out[i].End < out[i].Start {
			out[i].End = out[i].Start
		}
	}
	for i := range out {
		out[i].ID = i
	}
	return out
}

// FormatWithTimestamps renders one "[MM:SS - MM:SS] text" line per segment.
// Without segments the plain text is returned.
func FormatWithTimestamps(t Transcript) string {
	if len(t.Segments) == 0 {
		return t.Text
	}
	lines := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		lines = append(lines, fmt.Sprintf("[%s - %s] %s", formatTimestamp(s.Start), formatTimestamp(s.End), s.Text))
	}
	return strings.Join(lines, "\n")
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
