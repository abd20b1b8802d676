package retrieval

import (
	"fmt"
	"strings"
	"time"

	"memoryd/internal/episodic"
	"memoryd/internal/semantic"
)

const flashbulbSurprise = 0.7

// RenderMarkdown renders res as the canonical tool-result Markdown: a
// semantic section (omitted when empty) followed by an episodic section
// whose detail level is governed by detail and each entry's rank/surprise.
// now is the reference point for "when" relative-time rendering.
func RenderMarkdown(res Result, detail DetailLevel, now time.Time) string {
	var b strings.Builder
	renderSemanticSection(&b, res.Semantic)
	renderEpisodicSection(&b, res.Episodic, detail, now)
	return b.String()
}

func renderSemanticSection(b *strings.Builder, facts []semantic.Scored) {
	if len(facts) == 0 {
		return
	}
	b.WriteString("## Semantic Memory\n")
	for _, f := range facts {
		fmt.Fprintf(b, "- [%s] %s (sources: %d conversations)\n", f.Memory.Category, f.Memory.Fact, len(f.Memory.SourceEpisodicIDs))
	}
	b.WriteString("\n")
}

func renderEpisodicSection(b *strings.Builder, scored []episodic.Scored, detail DetailLevel, now time.Time) {
	b.WriteString("## Episodic Memories\n\n")
	for i, s := range scored {
		rank := i + 1
		keyMoment := s.Memory.Surprise >= flashbulbSurprise
		header := fmt.Sprintf("### %s [rank: %d, score: %.3f", s.Memory.Title, rank, s.Score)
		if keyMoment {
			header += ", key moment"
		}
		header += "]\n"
		b.WriteString(header)
		fmt.Fprintf(b, "**When:** %s\n", relativeTime(s.Memory.EndAt, now))
		fmt.Fprintf(b, "**Summary:** %s\n", s.Memory.Summary)

		if includeDetails(detail, rank, keyMoment) {
			b.WriteString("\n**Details:**\n")
			for _, m := range s.Memory.Messages {
				fmt.Fprintf(b, "- %s: %q\n", m.Role, m.Content)
			}
		}
		b.WriteString("\n")
	}
}

// includeDetails applies the detail-level policy: none never includes
// details; low includes only rank 1 and only if it's a key moment; auto
// extends that to ranks 1-2; high always includes details.
func includeDetails(detail DetailLevel, rank int, keyMoment bool) bool {
	switch detail {
	case DetailNone:
		return false
	case DetailLow:
		return rank == 1 && keyMoment
	case DetailAuto:
		return rank <= 2 && keyMoment
	case DetailHigh:
		return true
	default:
		return false
	}
}

func relativeTime(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return pluralize(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return pluralize(int(d/time.Hour), "hour")
	default:
		return pluralize(int(d/(24*time.Hour)), "day")
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
