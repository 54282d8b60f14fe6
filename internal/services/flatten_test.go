package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenEntitiesLeaves(t *testing.T) {
	flat := FlattenEntities([]Entity{
		{Name: "company_metrics:capital_ask", Value: "2.5 million"},
		{Name: "company_metrics:current_userbase", Value: "10000"},
	})

	assert.Equal(t, map[string]any{
		"company_metrics:capital_ask":      "2.5 million",
		"company_metrics:current_userbase": "10000",
	}, flat)
}

func TestFlattenEntitiesNested(t *testing.T) {
	flat := FlattenEntities([]Entity{
		{
			Name: "founder_metrics",
			Children: []Entity{
				{Name: "name", Value: "Jordan Lee"},
				{
					Name: "background",
					Children: []Entity{
						{Name: "education", Value: "MIT"},
					},
				},
			},
		},
	})

	founder, ok := flat["founder_metrics"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "Jordan Lee", founder["name"])

	background, ok := founder["background"].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "MIT", background["education"])
}

func TestFlattenEntitiesEmptyLeafIsNil(t *testing.T) {
	flat := FlattenEntities([]Entity{{Name: "company_metrics:capital_ask"}})
	assert.Contains(t, flat, "company_metrics:capital_ask")
	assert.Nil(t, flat["company_metrics:capital_ask"])
}

func TestFlattenEntitiesDuplicateSiblingLastWins(t *testing.T) {
	flat := FlattenEntities([]Entity{
		{Name: "a", Value: "1"},
		{Name: "a", Value: "2"},
	})
	assert.Equal(t, "2", flat["a"])
}
