package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOpenAPIDoc_ValidatesEmbeddedSpec(t *testing.T) {
	doc, err := loadOpenAPIDoc()
	require.NoError(t, err)
	assert.NotEmpty(t, doc.Paths.Map())
}

func TestLoadOpenAPIDoc_HasHealthAndMetricsPaths(t *testing.T) {
	doc, err := loadOpenAPIDoc()
	require.NoError(t, err)

	_, hasHealth := doc.Paths.Map()["/health"]
	assert.True(t, hasHealth)

	_, hasMetrics := doc.Paths.Map()["/metrics"]
	assert.True(t, hasMetrics)
}
