package services

import (
	"chatbot/models"
	"context"
)

// Completer is the text completion capability. Model and temperature are
// fixed when the implementation is constructed.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteStream(ctx context.Context, prompt string) (TokenStream, error)
}

// TokenStream yields incremental text. Recv returns io.EOF after the last
// chunk. Close releases the underlying connection and is safe to call twice.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore searches documents belonging to a single site.
type VectorStore interface {
	Search(ctx context.Context, siteID string, query string, k int) ([]models.RetrievedDocument, error)
}

// DocumentWriter stores embedded chunks for the indexer.
type DocumentWriter interface {
	WriteChunks(ctx context.Context, chunks []models.Chunk) error
}

type SiteStore interface {
	GetSite(ctx context.Context, siteID string) (*models.Site, error)
	ListSites(ctx context.Context) ([]models.Site, error)
}

type ConversationStore interface {
	SaveMessage(ctx context.Context, conv models.Conversation) (models.Conversation, error)
	GetRecentConversations(ctx context.Context, sessionID string, limit int) ([]models.Conversation, error)
	GetAllConversations(ctx context.Context, sessionID string) ([]models.Conversation, error)
	UpdateMessageFlag(ctx context.Context, sessionID, timestamp string, isLiked, isDisliked *bool) error
}
