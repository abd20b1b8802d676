package retrieval

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memoryd/internal/episodic"
	"memoryd/internal/queue"
	"memoryd/internal/semantic"
)

func TestRenderMarkdown_OmitsSemanticSectionWhenEmpty(t *testing.T) {
	t.Parallel()

	now := time.Now()
	res := Result{
		Episodic: []episodic.Scored{
			{Memory: episodic.Memory{Title: "Trip planning", Summary: "Discussed Italy", EndAt: now}, Score: 0.9},
		},
	}

	out := RenderMarkdown(res, DetailHigh, now)

	assert.NotContains(t, out, "## Semantic Memory")
	assert.Contains(t, out, "## Episodic Memories")
	assert.Contains(t, out, "Trip planning")
}

func TestRenderMarkdown_SemanticSectionFormat(t *testing.T) {
	t.Parallel()

	now := time.Now()
	res := Result{
		Semantic: []semantic.Scored{
			{
				Memory: semantic.Memory{
					Category:          semantic.CategoryPreference,
					Fact:              "prefers tea over coffee",
					SourceEpisodicIDs: []uuid.UUID{uuid.New(), uuid.New()},
				},
				Score: 0.5,
			},
		},
	}

	out := RenderMarkdown(res, DetailNone, now)

	assert.Contains(t, out, "## Semantic Memory")
	assert.Contains(t, out, "- [preference] prefers tea over coffee (sources: 2 conversations)")
}

func TestRenderMarkdown_KeyMomentFlaggedBySurpriseThreshold(t *testing.T) {
	t.Parallel()

	now := time.Now()
	res := Result{
		Episodic: []episodic.Scored{
			{Memory: episodic.Memory{Title: "Ordinary chat", Surprise: 0.3, EndAt: now}, Score: 0.8},
			{Memory: episodic.Memory{Title: "Big news", Surprise: 0.7, EndAt: now}, Score: 0.7},
		},
	}

	out := RenderMarkdown(res, DetailNone, now)

	assert.Contains(t, out, "### Ordinary chat [rank: 1, score: 0.800]\n")
	assert.Contains(t, out, "### Big news [rank: 2, score: 0.700, key moment]\n")
}

func TestIncludeDetails_PolicyMatrix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		detail    DetailLevel
		rank      int
		keyMoment bool
		want      bool
	}{
		{"none never includes", DetailNone, 1, true, false},
		{"low requires rank 1 and key moment", DetailLow, 1, true, true},
		{"low rejects rank 2 even if key moment", DetailLow, 2, true, false},
		{"low rejects rank 1 without key moment", DetailLow, 1, false, false},
		{"auto includes rank 2 key moments", DetailAuto, 2, true, true},
		{"auto rejects rank 3 key moments", DetailAuto, 3, true, false},
		{"auto rejects non key moments", DetailAuto, 1, false, false},
		{"high always includes", DetailHigh, 99, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, includeDetails(tt.detail, tt.rank, tt.keyMoment))
		})
	}
}

func TestIncludeDetails_DetailsBlockRendered(t *testing.T) {
	t.Parallel()

	now := time.Now()
	res := Result{
		Episodic: []episodic.Scored{{
			Memory: episodic.Memory{
				Title:    "Flashbulb",
				Surprise: 0.9,
				EndAt:    now,
				Messages: []queue.Message{{Role: "user", Content: "I got the job!"}},
			},
			Score: 1,
		}},
	}

	out := RenderMarkdown(res, DetailAuto, now)
	assert.Contains(t, out, "**Details:**")
	assert.Contains(t, out, `- user: "I got the job!"`)
}

func TestRelativeTime_Buckets(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"just now", 10 * time.Second, "just now"},
		{"one minute", 1 * time.Minute, "1 minute ago"},
		{"five minutes", 5 * time.Minute, "5 minutes ago"},
		{"one hour", 1 * time.Hour, "1 hour ago"},
		{"three hours", 3 * time.Hour, "3 hours ago"},
		{"one day", 24 * time.Hour, "1 day ago"},
		{"two days", 48 * time.Hour, "2 days ago"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, relativeTime(now.Add(-tt.ago), now))
		})
	}
}
