package services

import (
	"chatbot/models"
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"github.com/pkg/errors"
)

// ChromemStore keeps one chromem collection per site, so a query can only
// ever see the documents of the site it names.
type ChromemStore struct {
	mu      sync.RWMutex
	db      *chromem.DB
	embedFn chromem.EmbeddingFunc
}

// NewChromemStore opens a persistent store under dir, or an in-memory one when
// dir is empty.
func NewChromemStore(dir string, embedFn chromem.EmbeddingFunc) (*ChromemStore, error) {
	db := chromem.NewDB()
	if dir != "" {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, errors.Wrap(err, "open chromem store")
		}
	}
	return &ChromemStore{db: db, embedFn: embedFn}, nil
}

// EmbeddingFunc adapts an Embedder for chromem.
func EmbeddingFunc(e Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return e.Embed(ctx, text)
	}
}

func collectionName(siteID string) string {
	return fmt.Sprintf("site_%s_documents", siteID)
}

func (s *ChromemStore) Search(ctx context.Context, siteID string, query string, k int) ([]models.RetrievedDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col := s.db.GetCollection(collectionName(siteID), s.embedFn)
	if col == nil {
		return nil, nil
	}
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := col.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "chromem query site %s", siteID)
	}

	out := make([]models.RetrievedDocument, 0, len(results))
	for _, r := range results {
		out = append(out, models.RetrievedDocument{
			ID:       r.ID,
			Content:  r.Content,
			Metadata: r.Metadata,
			Score:    float64(r.Similarity),
		})
	}
	return out, nil
}

func (s *ChromemStore) WriteChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySite := make(map[string][]chromem.Document)
	for _, c := range chunks {
		bySite[c.SiteID] = append(bySite[c.SiteID], chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  c.Metadata(),
			Embedding: c.Embedding,
		})
	}
	for siteID, docs := range bySite {
		col, err := s.db.GetOrCreateCollection(collectionName(siteID), nil, s.embedFn)
		if err != nil {
			return errors.Wrapf(err, "chromem collection for site %s", siteID)
		}
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return errors.Wrapf(err, "chromem add documents for site %s", siteID)
		}
	}
	return nil
}
