package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricOperator_KnownMetrics(t *testing.T) {
	t.Parallel()

	op, _ := metricOperator("l2")
	assert.Equal(t, "<->", op)

	op, _ = metricOperator("IP")
	assert.Equal(t, "<#>", op)

	op, _ = metricOperator(" dot ")
	assert.Equal(t, "<#>", op)
}

func TestMetricOperator_DefaultsToCosine(t *testing.T) {
	t.Parallel()

	op, scoreExpr := metricOperator("")
	assert.Equal(t, "<=>", op)
	assert.Contains(t, scoreExpr, "<=>")

	op, _ = metricOperator("unrecognized")
	assert.Equal(t, "<=>", op)
}

func TestToVectorLiteral_EmptyVector(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[]", toVectorLiteral(nil))
}

func TestToVectorLiteral_FormatsCommaSeparated(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[1,2.5,-3]", toVectorLiteral([]float32{1, 2.5, -3}))
}
