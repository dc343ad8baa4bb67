package services

import (
	"chatbot/config"
	"chatbot/logger"
	"context"

	"github.com/pkg/errors"
)

// DocumentStore is a vector backend that can both search and store chunks.
type DocumentStore interface {
	VectorStore
	DocumentWriter
}

// OpenDocumentStore builds the configured vector backend. The returned close
// func is never nil.
func OpenDocumentStore(cfg *config.Config, embedder Embedder) (DocumentStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.VectorBackend {
	case config.VectorBackendSupabase:
		return NewSupabaseService(cfg.SupabaseURL, cfg.SupabaseServiceKey, embedder), noop, nil
	case config.VectorBackendPostgres:
		store, err := NewPgVectorStore(cfg.PostgresURI, embedder)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case config.VectorBackendChromem:
		store, err := NewChromemStore(cfg.ChromemDir, EmbeddingFunc(embedder))
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	}
	return nil, noop, errors.Errorf("unknown vector backend %q", cfg.VectorBackend)
}

// OpenSiteStore returns the site record store, or nil when no record store
// is configured.
func OpenSiteStore(cfg *config.Config, embedder Embedder) SiteStore {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil
	}
	return NewSupabaseService(cfg.SupabaseURL, cfg.SupabaseServiceKey, embedder)
}

func OpenConversationStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (ConversationStore, error) {
	if cfg.ConversationBackend == config.ConversationBackendMemory {
		return NewMemoryConversationStore(), nil
	}
	db, err := NewDynamoDBClient(ctx, DynamoOptions{
		Endpoint: cfg.DynamoEndpoint,
		Region:   cfg.DynamoRegion,
	})
	if err != nil {
		return nil, err
	}
	return NewDynamoConversationStore(ctx, db, cfg.DynamoTable, log), nil
}
