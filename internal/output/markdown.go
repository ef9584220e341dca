package output

import (
	"fmt"
	"strings"
	"time"

	"auto-transcriber/internal/domain"
	"auto-transcriber/internal/transcribe"
)

// Meta describes the transcript header table.
type Meta struct {
	Name        string
	Language    domain.Language
	Engine      string
	Duration    time.Duration
	Source      string
	GeneratedAt time.Time
}

// RenderMarkdown formats a transcript as a Markdown document.
func RenderMarkdown(meta Meta, tr transcribe.Transcript) []byte {
	speakers := tr.Speakers()
	speakerCount := "unknown"
	if len(speakers) > 0 {
		speakerCount = fmt.Sprintf("%d", len(speakers))
	}

	labels := make(map[string]string, len(speakers))
	for i, id := range speakers {
		labels[id] = fmt.Sprintf("Speaker %d", i+1)
	}

	duration := meta.Duration
	if duration == 0 {
		duration = tr.Duration
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Transcript: %s\n\n", meta.Name)
	b.WriteString("| Field | Value |\n")
	b.WriteString("|------|-----|\n")
	fmt.Fprintf(&b, "| Language | %s |\n", meta.Language.Label())
	if meta.Engine != "" {
		fmt.Fprintf(&b, "| Engine | %s |\n", meta.Engine)
	}
	fmt.Fprintf(&b, "| Duration | %s |\n", FormatClock(duration))
	fmt.Fprintf(&b, "| Speakers | %s |\n", speakerCount)
	if meta.Source != "" {
		fmt.Fprintf(&b, "| Source | %s |\n", meta.Source)
	}
	if !meta.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "| Generated | %s |\n", meta.GeneratedAt.Format("2006-01-02 15:04:05"))
	}
	b.WriteString("\n---\n\n")

	for _, seg := range tr.Segments {
		span := fmt.Sprintf("[%s → %s]", FormatClock(seg.Start), FormatClock(seg.End))
		if label, ok := labels[seg.Speaker]; ok {
			fmt.Fprintf(&b, "**%s %s:**\n", span, label)
		} else {
			fmt.Fprintf(&b, "**%s**\n", span)
		}
		b.WriteString(strings.TrimSpace(seg.Text))
		b.WriteString("\n\n")
	}

	return []byte(b.String())
}

// FormatClock renders d as HH:MM:SS, truncating sub-second precision.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
