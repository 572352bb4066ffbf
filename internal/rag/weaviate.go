package rag

import (
	"context"
	"net/url"

	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

const writeBatch = 100

// WeaviateStore keeps chunks in a single Weaviate class with a filterable
// namespace property. Vectors are supplied by the caller.
type WeaviateStore struct {
	client *weaviate.Client
	class  string
	log    zerolog.Logger
}

// NewWeaviateClient builds a client for host (host:port) and scheme.
func NewWeaviateClient(host, scheme string) (*weaviate.Client, error) {
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host, scheme = u.Host, u.Scheme
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, errors.Wrap(err, "rag: weaviate client")
	}
	return client, nil
}

// NewWeaviateStore returns a store writing to class.
func NewWeaviateStore(client *weaviate.Client, class string, log zerolog.Logger) *WeaviateStore {
	return &WeaviateStore{client: client, class: class, log: log}
}

// ChunkClass returns the schema of the chunk class.
func ChunkClass(name string) *models.Class {
	filterable := true
	return &models.Class{
		Class:       name,
		Description: "Document chunks of registered bots",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}, Tokenization: "word"},
			{Name: "source", DataType: []string{"text"}, Tokenization: "field"},
			{Name: "namespace", DataType: []string{"text"}, Tokenization: "field", IndexFilterable: &filterable},
		},
	}
}

// EnsureSchema creates the chunk class if it does not exist.
func (s *WeaviateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.Schema().ClassGetter().WithClassName(s.class).Do(ctx); err == nil {
		return nil
	}
	if err := s.client.Schema().ClassCreator().WithClass(ChunkClass(s.class)).Do(ctx); err != nil {
		return errors.Wrapf(err, "rag: create class %s", s.class)
	}
	s.log.Info().Str("class", s.class).Msg("rag: created weaviate class")
	return nil
}

// Objects converts chunks and their vectors into Weaviate objects.
func Objects(class string, chunks []Chunk, vectors [][]float32) []*models.Object {
	out := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		out[i] = &models.Object{
			Class:  class,
			ID:     strfmt.UUID(c.ID),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":   c.Content,
				"source":    c.Source,
				"namespace": c.Namespace,
			},
		}
	}
	return out
}

// Upsert writes chunks in batches. Existing ids are replaced.
func (s *WeaviateStore) Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return errors.Errorf("rag: %d chunks but %d vectors", len(chunks), len(vectors))
	}
	objects := Objects(s.class, chunks, vectors)

	for start := 0; start < len(objects); start += writeBatch {
		end := start + writeBatch
		if end > len(objects) {
			end = len(objects)
		}
		resp, err := s.client.Batch().ObjectsBatcher().WithObjects(objects[start:end]...).Do(ctx)
		if err != nil {
			return errors.Wrap(err, "rag: batch write")
		}
		for _, r := range resp {
			if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
				return errors.Errorf("rag: batch write %s: %s", r.ID, r.Result.Errors.Error[0].Message)
			}
		}
	}
	return nil
}

// Search returns the k chunks of namespace nearest to vector.
func (s *WeaviateStore) Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error) {
	where := filters.Where().
		WithPath([]string{"namespace"}).
		WithOperator(filters.Equal).
		WithValueString(namespace)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(fields...).
		WithWhere(where).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "rag: search")
	}
	return ParseHits(s.class, result)
}

// ParseHits extracts hits from a GraphQL Get response.
func ParseHits(class string, result *models.GraphQLResponse) ([]Hit, error) {
	if result == nil {
		return nil, nil
	}
	if len(result.Errors) > 0 {
		return nil, errors.Errorf("rag: search: %s", result.Errors[0].Message)
	}
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	objects, ok := get[class].([]interface{})
	if !ok {
		return nil, nil
	}

	hits := make([]Hit, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		h := Hit{}
		h.Content, _ = m["content"].(string)
		h.Source, _ = m["source"].(string)
		if add, ok := m["_additional"].(map[string]interface{}); ok {
			h.Distance, _ = add["distance"].(float64)
		}
		hits = append(hits, h)
	}
	return hits, nil
}
