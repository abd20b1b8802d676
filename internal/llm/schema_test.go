package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSchema_MarksAllPropertiesRequired(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":   map[string]any{"type": "string"},
			"summary": map[string]any{"type": "string"},
		},
		"required": []any{"title"},
	}

	out := NormalizeSchema(schema)

	assert.Equal(t, false, out["additionalProperties"])
	required, ok := out["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"title", "summary"}, required)
}

func TestNormalizeSchema_OptionalPropertyGetsNullUnion(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []any{},
	}

	out := NormalizeSchema(schema)

	props := out["properties"].(map[string]any)
	title := props["title"].(map[string]any)
	assert.Equal(t, []any{"string", "null"}, title["type"])
}

func TestNormalizeSchema_AlreadyRequiredPropertyUnchanged(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
		"required": []any{"title"},
	}

	out := NormalizeSchema(schema)

	props := out["properties"].(map[string]any)
	title := props["title"].(map[string]any)
	assert.Equal(t, "string", title["type"])
}

func TestNormalizeSchema_RefCollapsesSiblings(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"$ref":        "#/definitions/Thing",
		"description": "should be stripped",
	}

	out := NormalizeSchema(schema)

	assert.Equal(t, map[string]any{"$ref": "#/definitions/Thing"}, out)
}

func TestNormalizeSchema_NestedArrayItems(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"segments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
					},
					"required": []any{"title"},
				},
			},
		},
		"required": []any{"segments"},
	}

	out := NormalizeSchema(schema)

	segments := out["properties"].(map[string]any)["segments"].(map[string]any)
	items := segments["items"].(map[string]any)
	assert.Equal(t, false, items["additionalProperties"])
}

func TestUnionWithNull_DoesNotDuplicateNull(t *testing.T) {
	t.Parallel()

	schema := map[string]any{"type": []any{"string", "null"}}
	out := unionWithNull(schema)
	assert.Equal(t, []any{"string", "null"}, out["type"])
}
