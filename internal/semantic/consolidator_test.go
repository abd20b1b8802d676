package semantic

import (
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestConsolidator_ShouldForce(t *testing.T) {
	t.Parallel()

	c := NewConsolidator(nil, nil, nil, Config{FlashbulbSurprise: 0.8})

	assert.True(t, c.ShouldForce(0.8))
	assert.True(t, c.ShouldForce(0.95))
	assert.False(t, c.ShouldForce(0.79))
}

func TestConsolidator_Validate_DemotesHallucinatedReference(t *testing.T) {
	t.Parallel()

	c := NewConsolidator(nil, nil, nil, Config{})
	log := zerolog.Nop()

	edits := []factEdit{{Action: actionUpdate, ExistingFactID: uuid.New().String(), Fact: "f"}}
	out := c.validate(edits, map[uuid.UUID]Memory{}, &log)

	assert.Equal(t, actionNew, out[0].Action)
	assert.Empty(t, out[0].ExistingFactID)
}

func TestConsolidator_Validate_DemotesUnparsableReference(t *testing.T) {
	t.Parallel()

	c := NewConsolidator(nil, nil, nil, Config{})
	log := zerolog.Nop()

	edits := []factEdit{{Action: actionReinforce, ExistingFactID: "not-a-uuid", Fact: "f"}}
	out := c.validate(edits, map[uuid.UUID]Memory{}, &log)

	assert.Equal(t, actionNew, out[0].Action)
	assert.Empty(t, out[0].ExistingFactID)
}

func TestConsolidator_Validate_KeepsValidReference(t *testing.T) {
	t.Parallel()

	c := NewConsolidator(nil, nil, nil, Config{})
	log := zerolog.Nop()
	id := uuid.New()

	edits := []factEdit{{Action: actionUpdate, ExistingFactID: id.String(), Fact: "f"}}
	out := c.validate(edits, map[uuid.UUID]Memory{id: {ID: id}}, &log)

	assert.Equal(t, actionUpdate, out[0].Action)
	assert.Equal(t, id.String(), out[0].ExistingFactID)
}

func TestConsolidator_Validate_LeavesNewActionsUntouched(t *testing.T) {
	t.Parallel()

	c := NewConsolidator(nil, nil, nil, Config{})
	log := zerolog.Nop()

	edits := []factEdit{{Action: actionNew, Fact: "f"}}
	out := c.validate(edits, map[uuid.UUID]Memory{}, &log)

	assert.Equal(t, actionNew, out[0].Action)
}
