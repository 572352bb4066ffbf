package rag

import (
	"testing"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

func TestChunkClass(t *testing.T) {
	c := ChunkClass("BotyardChunk")
	assert.Equal(t, "BotyardChunk", c.Class)
	assert.Equal(t, "none", c.Vectorizer)

	var names []string
	for _, p := range c.Properties {
		names = append(names, p.Name)
		if p.Name == "namespace" {
			require.NotNil(t, p.IndexFilterable)
			assert.True(t, *p.IndexFilterable)
			assert.Equal(t, "field", p.Tokenization)
		}
	}
	assert.ElementsMatch(t, []string{"content", "source", "namespace"}, names)
}

func TestObjects(t *testing.T) {
	chunks := []Chunk{
		{ID: ChunkID("ns", "f.txt", "a"), Namespace: "ns", Source: "f.txt", Content: "a"},
		{ID: ChunkID("ns", "f.txt", "b"), Namespace: "ns", Source: "f.txt", Content: "b"},
	}
	vectors := [][]float32{{1, 2}, {3, 4}}

	objs := Objects("Chunks", chunks, vectors)
	require.Len(t, objs, 2)
	assert.Equal(t, "Chunks", objs[0].Class)
	assert.Equal(t, strfmt.UUID(chunks[1].ID), objs[1].ID)
	assert.Equal(t, models.C11yVector{3, 4}, objs[1].Vector)

	props := objs[0].Properties.(map[string]interface{})
	assert.Equal(t, "a", props["content"])
	assert.Equal(t, "ns", props["namespace"])
	assert.Equal(t, "f.txt", props["source"])
}

func TestParseHits(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Chunks": []interface{}{
					map[string]interface{}{
						"content":     "first",
						"source":      "a.pdf",
						"_additional": map[string]interface{}{"distance": 0.12},
					},
					"garbage",
					map[string]interface{}{"content": "second"},
				},
			},
		},
	}

	hits, err := ParseHits("Chunks", resp)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, Hit{Content: "first", Source: "a.pdf", Distance: 0.12}, hits[0])
	assert.Equal(t, "second", hits[1].Content)
}

func TestParseHits_EmptyAndErrors(t *testing.T) {
	hits, err := ParseHits("Chunks", nil)
	assert.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = ParseHits("Chunks", &models.GraphQLResponse{Data: map[string]models.JSONObject{}})
	assert.NoError(t, err)
	assert.Empty(t, hits)

	_, err = ParseHits("Chunks", &models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "no such class"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such class")
}
