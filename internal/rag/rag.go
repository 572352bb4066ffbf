// Package rag implements document ingestion and retrieval-augmented answering
// for bot document collections.
//
// Ingest: fetch -> load -> clean -> split -> embed -> write.
// Answer: embed question -> retrieve top-k within a namespace -> prompt ->
// stream generation.
package rag

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/zulandar/botyard/internal/metrics"
)

// ErrEmptyDocument is returned by Ingest when nothing indexable was found.
var ErrEmptyDocument = errors.New("rag: document has no text")

// Chunk is one indexed piece of a document.
type Chunk struct {
	ID        string
	Namespace string
	Source    string
	Content   string
}

// Hit is a retrieved chunk.
type Hit struct {
	Content  string
	Source   string
	Distance float64
}

// VectorStore writes and searches chunk vectors partitioned by namespace.
type VectorStore interface {
	Upsert(ctx context.Context, chunks []Chunk, vectors [][]float32) error
	Search(ctx context.Context, namespace string, vector []float32, k int) ([]Hit, error)
}

// Generator streams a completion for prompt, calling onFragment for each
// piece of text in order.
type Generator interface {
	Stream(ctx context.Context, prompt string, onFragment func(string)) error
}

// Namespace returns the collection namespace of a bot username.
func Namespace(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}

// chunkSpace is the UUID namespace of chunk ids.
var chunkSpace = uuid.MustParse("6f1c2a8e-4b1d-4c3e-9a57-2d0f5b7e8c41")

// ChunkID derives a stable id from the namespace, the upload the chunk came
// from and its text. Equal text in two uploads yields two ids, so every chunk
// belongs to exactly one resource.
func ChunkID(namespace, upload, content string) string {
	return uuid.NewSHA1(chunkSpace, []byte(namespace+"\x00"+upload+"\x00"+content)).String()
}

// Options configures a Pipeline.
type Options struct {
	Fetcher   *Fetcher
	Embedder  embeddings.Embedder
	Store     VectorStore
	Generator Generator
	Splitter  textsplitter.TextSplitter
	TopK      int
	Logger    zerolog.Logger
}

// Pipeline ties the ingestion and answering stages together.
type Pipeline struct {
	fetcher   *Fetcher
	embedder  embeddings.Embedder
	store     VectorStore
	generator Generator
	splitter  textsplitter.TextSplitter
	topK      int
	log       zerolog.Logger
}

// NewPipeline validates opts and returns a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Embedder == nil || opts.Store == nil || opts.Generator == nil {
		return nil, errors.New("rag: embedder, store and generator are required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(0, 0)
	}
	if opts.Splitter == nil {
		opts.Splitter = NewSplitter(1000, 100)
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Pipeline{
		fetcher:   opts.Fetcher,
		embedder:  opts.Embedder,
		store:     opts.Store,
		generator: opts.Generator,
		splitter:  opts.Splitter,
		topK:      opts.TopK,
		log:       opts.Logger,
	}, nil
}

// NewSplitter returns the recursive character splitter used for documents.
func NewSplitter(size, overlap int) textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
}

// Ingest downloads the document at url, indexes it into namespace and
// returns the chunk ids in document order.
func (p *Pipeline) Ingest(ctx context.Context, url, namespace string) ([]string, error) {
	doc, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	text, err := Load(ctx, doc)
	if err != nil {
		return nil, err
	}
	// The same file may be uploaded twice under the same URL; each upload
	// still gets its own chunk ids.
	upload := url + "\x00" + uuid.NewString()
	return p.ingest(ctx, text, doc.Name, upload, namespace)
}

// IngestText indexes already-extracted text. source names the upload and
// scopes the chunk ids, so it must differ between uploads.
func (p *Pipeline) IngestText(ctx context.Context, text, source, namespace string) ([]string, error) {
	return p.ingest(ctx, text, source, source, namespace)
}

// ingest splits, embeds and stores text. upload identifies the upload and
// scopes the chunk ids; source is recorded on each chunk.
func (p *Pipeline) ingest(ctx context.Context, text, source, upload, namespace string) ([]string, error) {
	text = Clean(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}

	parts, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, errors.Wrap(err, "rag: split")
	}

	chunks := make([]Chunk, 0, len(parts))
	contents := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:        ChunkID(namespace, upload, part),
			Namespace: namespace,
			Source:    source,
			Content:   part,
		})
		contents = append(contents, part)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, contents)
	if err != nil {
		return nil, errors.Wrap(err, "rag: embed documents")
	}
	if len(vectors) != len(chunks) {
		return nil, errors.Errorf("rag: embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := p.store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, errors.Wrap(err, "rag: write chunks")
	}
	metrics.IngestedChunks.Add(float64(len(chunks)))

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	p.log.Info().Str("namespace", namespace).Str("source", source).Int("chunks", len(ids)).Msg("rag: ingested")
	return ids, nil
}

// Answer retrieves context for question within namespace and streams the
// generated answer to onFragment. onEnd is always called exactly once, after
// the last fragment, whether or not generation succeeded.
func (p *Pipeline) Answer(ctx context.Context, question, namespace string, onFragment func(string), onEnd func()) error {
	defer onEnd()

	vec, err := p.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return errors.Wrap(err, "rag: embed question")
	}
	hits, err := p.store.Search(ctx, namespace, vec, p.topK)
	if err != nil {
		return errors.Wrap(err, "rag: retrieve")
	}
	prompt, err := BuildPrompt(question, hits)
	if err != nil {
		return err
	}

	p.log.Debug().Str("namespace", namespace).Int("hits", len(hits)).Msg("rag: answering")
	if err := p.generator.Stream(ctx, prompt, onFragment); err != nil {
		return errors.Wrap(err, "rag: generate")
	}
	return nil
}
