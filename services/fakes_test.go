package services

import (
	"chatbot/config"
	"chatbot/models"
	"context"
	"io"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCompleter returns a fixed answer. When chunks is set, CompleteStream
// yields them and then streamErr (or io.EOF).
type fakeCompleter struct {
	mu        sync.Mutex
	answer    string
	err       error
	chunks    []string
	streamErr error
	prompts   []string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.answer == "" && len(f.chunks) > 0 {
		return strings.Join(f.chunks, ""), nil
	}
	return f.answer, nil
}

func (f *fakeCompleter) CompleteStream(ctx context.Context, prompt string) (TokenStream, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	chunks := f.chunks
	if len(chunks) == 0 && f.answer != "" {
		chunks = []string{f.answer}
	}
	return &fakeTokenStream{ctx: ctx, chunks: chunks, err: f.streamErr}, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeTokenStream struct {
	ctx    context.Context
	chunks []string
	err    error
	pos    int
	closed int
}

func (s *fakeTokenStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.pos < len(s.chunks) {
		s.pos++
		return s.chunks[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeTokenStream) Close() error {
	s.closed++
	return nil
}

// keywordEmbedder maps text onto a fixed vocabulary so that similarity is
// predictable in tests. The last dimension keeps vectors non-zero.
type keywordEmbedder struct {
	vocab []string
}

func newKeywordEmbedder(vocab ...string) *keywordEmbedder {
	return &keywordEmbedder{vocab: vocab}
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v := make([]float32, len(e.vocab)+1)
	for i, w := range e.vocab {
		if strings.Contains(text, w) {
			v[i] = 1
		}
	}
	v[len(e.vocab)] = 0.1
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v, nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fakeVectorStore struct {
	mu    sync.Mutex
	docs  []models.RetrievedDocument
	err   error
	calls int
}

func (s *fakeVectorStore) Search(ctx context.Context, siteID string, query string, k int) ([]models.RetrievedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.docs, nil
}

func doc(id, siteID, url, content string, score float64) models.RetrievedDocument {
	return models.RetrievedDocument{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			models.MetadataSiteID: siteID,
			models.MetadataURL:    url,
		},
		Score: score,
	}
}

func loadPrompts(t *testing.T) *config.PromptTemplate {
	t.Helper()
	p, err := config.LoadPrompts("")
	require.NoError(t, err)
	return p
}
