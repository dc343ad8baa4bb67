package services

import (
	"chatbot/logger"
	"chatbot/models"
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	MinTopK = 1
	MaxTopK = 10
)

// Retriever wraps a VectorStore with the tenant and relevance rules every
// backend must obey.
type Retriever struct {
	store    VectorStore
	minScore float64
	log      *logger.Logger
}

func NewRetriever(store VectorStore, minScore float64, log *logger.Logger) *Retriever {
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{
		store:    store,
		minScore: minScore,
		log:      log.With("component", "Retriever"),
	}
}

// Retrieve returns up to k documents of siteID ordered by descending score.
// An empty slice means nothing cleared the relevance threshold.
func (r *Retriever) Retrieve(ctx context.Context, query string, siteID string, k int) ([]models.RetrievedDocument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Wrap(ErrInvalidQuery, "query is empty")
	}
	if strings.TrimSpace(siteID) == "" {
		return nil, errors.Wrap(ErrInvalidQuery, "site id is empty")
	}
	if k < MinTopK || k > MaxTopK {
		return nil, errors.Wrapf(ErrInvalidQuery, "k must be between %d and %d, got %d", MinTopK, MaxTopK, k)
	}

	hits, err := r.store.Search(ctx, siteID, query, k)
	if err != nil {
		return nil, wrapKind(ErrRetrievalUnavailable, err)
	}

	docs := make([]models.RetrievedDocument, 0, len(hits))
	for _, d := range hits {
		// 別サイトのドキュメントが混ざった場合は捨てる
		if owner := d.SiteID(); owner != "" && owner != siteID {
			r.log.Error("dropping document from another site", "site_id", siteID, "document_site_id", owner, "document_id", d.ID)
			continue
		}
		if d.Score < r.minScore {
			continue
		}
		docs = append(docs, d)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].Score > docs[j].Score
	})
	if len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}
