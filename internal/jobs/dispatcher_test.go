package jobs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDedupeKey_StableForSameInputs(t *testing.T) {
	t.Parallel()

	cid := uuid.New()
	k1 := DedupeKey(JobSegmentation, cid, "7")
	k2 := DedupeKey(JobSegmentation, cid, "7")

	assert.Equal(t, k1, k2)
}

func TestDedupeKey_DiffersByJobType(t *testing.T) {
	t.Parallel()

	cid := uuid.New()
	assert.NotEqual(t, DedupeKey(JobSegmentation, cid, "7"), DedupeKey(JobReview, cid, "7"))
}

func TestDedupeKey_DiffersByConversation(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, DedupeKey(JobSegmentation, uuid.New(), "7"), DedupeKey(JobSegmentation, uuid.New(), "7"))
}

func TestDedupeKey_DiffersByDisambiguator(t *testing.T) {
	t.Parallel()

	cid := uuid.New()
	assert.NotEqual(t, DedupeKey(JobSegmentation, cid, "7"), DedupeKey(JobSegmentation, cid, "8"))
}
