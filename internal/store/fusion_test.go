package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseRRF_DocumentInBothListsOutranksSingleList(t *testing.T) {
	t.Parallel()

	shared := uuid.New()
	onlyFullText := uuid.New()
	onlyVector := uuid.New()

	fullText := []RankedID{{ID: shared, Rank: 1}, {ID: onlyFullText, Rank: 2}}
	vector := []RankedID{{ID: shared, Rank: 1}, {ID: onlyVector, Rank: 2}}

	out := FuseRRF(fullText, vector)

	require.Len(t, out, 3)
	assert.Equal(t, shared, out[0].ID)
	assert.Equal(t, 1, out[0].Rank)
}

func TestFuseRRF_AssignsSequentialRanks(t *testing.T) {
	t.Parallel()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	out := FuseRRF([]RankedID{{ID: a, Rank: 1}, {ID: b, Rank: 2}, {ID: c, Rank: 3}})

	require.Len(t, out, 3)
	for i, r := range out {
		assert.Equal(t, i+1, r.Rank)
	}
}

func TestFuseRRF_EmptyInputYieldsEmptyOutput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FuseRRF())
	assert.Empty(t, FuseRRF([]RankedID{}))
}

func TestFuseRRF_TieBreaksByBestSourceRank(t *testing.T) {
	t.Parallel()

	// betterRank appears once at rank 2 (score 1/62) but sorts after
	// worseRank alphabetically. worseRank appears twice at rank 64 (score
	// 1/124 + 1/124 == 1/62), an exact tie on total score but with a worse
	// best-source-rank, so betterRank must still sort first.
	betterRank := uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")
	worseRank := uuid.MustParse("00000000-0000-0000-0000-000000000000")

	a := []RankedID{{ID: betterRank, Rank: 2}}
	b1 := []RankedID{{ID: worseRank, Rank: 64}}
	b2 := []RankedID{{ID: worseRank, Rank: 64}}

	out := FuseRRF(a, b1, b2)

	require.Len(t, out, 2)
	require.InDelta(t, out[0].Score, out[1].Score, 1e-12, "test requires an exact score tie")
	assert.Equal(t, betterRank, out[0].ID, "better best-source-rank must win the tie despite sorting after by UUID string")
}
